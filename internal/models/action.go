package models

import "encoding/json"

// Action is the closed set of CRM operations the classifier can select.
type Action string

const (
	ActionGetLeads         Action = "getLeads"
	ActionGetLeadDetails   Action = "getLeadDetails"
	ActionGetTasks         Action = "getTasks"
	ActionGetUpcomingTasks Action = "getUpcomingTasks"
	ActionGetAppointments  Action = "getAppointments"
	ActionUnknown          Action = "unknown"
)

// KnownActions lists every dispatchable action in catalog order.
var KnownActions = []Action{
	ActionGetLeads,
	ActionGetLeadDetails,
	ActionGetTasks,
	ActionGetUpcomingTasks,
	ActionGetAppointments,
}

// ParseAction maps a classifier function name onto an Action by exact match.
// Anything else is ActionUnknown.
func ParseAction(name string) Action {
	for _, a := range KnownActions {
		if string(a) == name {
			return a
		}
	}
	return ActionUnknown
}

func (a Action) IsKnown() bool {
	return a != ActionUnknown && ParseAction(string(a)) == a
}

func (a Action) String() string {
	return string(a)
}

// ActionDescriptor is the structured output of intent classification.
type ActionDescriptor struct {
	Function    Action           `json:"function"`
	RawFunction string           `json:"rawFunction,omitempty"`
	Parameters  map[string]Value `json:"parameters"`
	Confidence  *float64         `json:"confidence,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
}

// Param returns a parameter, or null when absent.
func (d ActionDescriptor) Param(name string) Value {
	if d.Parameters == nil {
		return Null()
	}
	return d.Parameters[name]
}

// HasParam reports whether the parameter is present and non-null.
func (d ActionDescriptor) HasParam(name string) bool {
	v, ok := d.Parameters[name]
	return ok && !v.IsNull()
}

// Canonical returns the descriptor as deterministic JSON.
func (d ActionDescriptor) Canonical() ([]byte, error) {
	return json.Marshal(d)
}
