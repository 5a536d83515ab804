package registry

import "crm-assistant/internal/models"

func object(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func prop(typ interface{}, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

var (
	scalar      = []interface{}{"string", "number", "boolean"}
	integerLike = []interface{}{"integer", "string"}
)

// DefaultCatalog is the built-in function catalog.
func DefaultCatalog() *Catalog {
	timeframe := prop("string", "One of today, tomorrow, this_week, this_month")

	return &Catalog{
		Version: "1.0.0",
		Functions: []Function{
			{
				Name:        string(models.ActionGetLeads),
				Signature:   "getLeads(filters)",
				Description: "Get leads with optional filtering",
				Parameters: object(map[string]interface{}{
					"source": prop("string", "Lead source, e.g. Zillow"),
					"stage":  prop("string", "Pipeline stage"),
					"limit":  prop(integerLike, "Maximum number of leads"),
					"sort":   prop("string", "Sort field"),
				}),
				Examples: []Example{
					{Parameters: map[string]interface{}{"source": "Zillow"}, Explanation: "User is asking about Zillow leads"},
				},
				Tags: []string{"people"},
			},
			{
				Name:        string(models.ActionGetLeadDetails),
				Signature:   "getLeadDetails(leadId)",
				Description: "Get details about a specific lead",
				Parameters: object(map[string]interface{}{
					"leadId": prop(integerLike, "Numeric lead id"),
				}, "leadId"),
				Examples: []Example{
					{Parameters: map[string]interface{}{"leadId": 123}, Explanation: "User wants the details of lead 123"},
				},
				Tags: []string{"people"},
			},
			{
				Name:        string(models.ActionGetTasks),
				Signature:   "getTasks(filters)",
				Description: "Get tasks with optional filtering",
				Parameters: object(map[string]interface{}{
					"status":     prop("string", "Task status"),
					"assignedTo": prop(scalar, "Assigned user"),
					"limit":      prop(integerLike, "Maximum number of tasks"),
				}),
				Tags: []string{"tasks"},
			},
			{
				Name:        string(models.ActionGetUpcomingTasks),
				Signature:   "getUpcomingTasks(timeframe)",
				Description: "Get upcoming tasks for a timeframe (today, this_week, this_month)",
				Parameters: object(map[string]interface{}{
					"timeframe": timeframe,
				}, "timeframe"),
				Examples: []Example{
					{Parameters: map[string]interface{}{"timeframe": "today"}, Explanation: "User wants to know today's tasks"},
				},
				Tags: []string{"tasks"},
			},
			{
				Name:        string(models.ActionGetAppointments),
				Signature:   "getAppointments(timeframe, filters)",
				Description: "Get appointments for a timeframe with optional filtering",
				Parameters: object(map[string]interface{}{
					"timeframe": timeframe,
					"personId":  prop(integerLike, "Only appointments with this lead"),
					"limit":     prop(integerLike, "Maximum number of appointments"),
				}, "timeframe"),
				Examples: []Example{
					{Parameters: map[string]interface{}{"timeframe": "this_week"}, Explanation: "User is asking about this week's appointments"},
				},
				Tags: []string{"events"},
			},
		},
	}
}
