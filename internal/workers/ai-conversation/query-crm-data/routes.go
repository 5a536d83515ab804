// internal/workers/ai-conversation/query-crm-data/routes.go
package querycrmdata

import (
	"context"
	"time"

	apperrors "crm-assistant/internal/common/errors"
	"crm-assistant/internal/common/followupboss"
	"crm-assistant/internal/models"
)

// Route is the dispatch entry of one action: the parameters it cannot run
// without and the builder that turns explicit parameters into a CRM call.
type Route struct {
	Required []string
	build    func(params followupboss.Filters, now time.Time) (call, error)
}

// call is a validated CRM read. query is what will be sent; send issues it
// through the matching client method.
type call struct {
	query followupboss.Query
	send  func(ctx context.Context, crm DataClient) (models.Value, error)
}

// Routes maps every dispatchable action to its route.
var Routes = map[models.Action]Route{
	models.ActionGetLeads:         {build: leads},
	models.ActionGetLeadDetails:   {Required: []string{followupboss.ParamLeadID}, build: leadDetails},
	models.ActionGetTasks:         {build: tasks},
	models.ActionGetUpcomingTasks: {Required: []string{followupboss.ParamTimeframe}, build: upcomingTasks},
	models.ActionGetAppointments:  {Required: []string{followupboss.ParamTimeframe}, build: appointments},
}

// check rejects a descriptor missing a required parameter.
func (r Route) check(desc *models.ActionDescriptor) error {
	for _, name := range r.Required {
		if !desc.HasParam(name) {
			return missing(desc.Function, name)
		}
	}
	return nil
}

func leads(params followupboss.Filters, _ time.Time) (call, error) {
	return call{
		query: followupboss.LeadsQuery(params),
		send: func(ctx context.Context, crm DataClient) (models.Value, error) {
			return crm.GetLeads(ctx, params)
		},
	}, nil
}

func leadDetails(params followupboss.Filters, _ time.Time) (call, error) {
	id, err := leadID(params)
	if err != nil {
		return call{}, err
	}
	return call{
		query: followupboss.LeadDetailsQuery(id),
		send: func(ctx context.Context, crm DataClient) (models.Value, error) {
			return crm.GetLeadDetails(ctx, id)
		},
	}, nil
}

func tasks(params followupboss.Filters, _ time.Time) (call, error) {
	return call{
		query: followupboss.TasksQuery(params),
		send: func(ctx context.Context, crm DataClient) (models.Value, error) {
			return crm.GetTasks(ctx, params)
		},
	}, nil
}

func upcomingTasks(params followupboss.Filters, now time.Time) (call, error) {
	tf, err := timeframeParam(models.ActionGetUpcomingTasks, params)
	if err != nil {
		return call{}, err
	}
	return call{
		query: followupboss.UpcomingTasksQuery(tf, params, now),
		send: func(ctx context.Context, crm DataClient) (models.Value, error) {
			return crm.GetUpcomingTasks(ctx, tf, params)
		},
	}, nil
}

func appointments(params followupboss.Filters, now time.Time) (call, error) {
	tf, err := timeframeParam(models.ActionGetAppointments, params)
	if err != nil {
		return call{}, err
	}
	return call{
		query: followupboss.AppointmentsQuery(tf, params, now),
		send: func(ctx context.Context, crm DataClient) (models.Value, error) {
			return crm.GetAppointments(ctx, tf, params)
		},
	}, nil
}

func leadID(params followupboss.Filters) (int64, error) {
	v, ok := params[followupboss.ParamLeadID]
	if !ok || v.IsNull() {
		return 0, missing(models.ActionGetLeadDetails, followupboss.ParamLeadID)
	}
	id, ok := v.Int()
	if !ok || id <= 0 {
		return 0, invalid(models.ActionGetLeadDetails, followupboss.ParamLeadID)
	}
	return id, nil
}

// timeframeParam requires a string. Unrecognized tokens are passed through
// and fall back to the one-day window.
func timeframeParam(action models.Action, params followupboss.Filters) (string, error) {
	v, ok := params[followupboss.ParamTimeframe]
	if !ok || v.IsNull() {
		return "", missing(action, followupboss.ParamTimeframe)
	}
	s, ok := v.AsString()
	if !ok {
		return "", invalid(action, followupboss.ParamTimeframe)
	}
	return s, nil
}

func missing(action models.Action, param string) error {
	return apperrors.NewParameterValidationError(action.String(), param, "missing "+param)
}

func invalid(action models.Action, param string) error {
	return apperrors.NewParameterValidationError(action.String(), param, "invalid "+param)
}
