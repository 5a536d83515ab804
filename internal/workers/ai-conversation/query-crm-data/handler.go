// internal/workers/ai-conversation/query-crm-data/handler.go
package querycrmdata

import (
	"context"
	"fmt"
	"time"

	apperrors "crm-assistant/internal/common/errors"
	"crm-assistant/internal/common/followupboss"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/metrics"
	"crm-assistant/internal/common/validation"
	"crm-assistant/internal/models"
	"crm-assistant/pkg/registry"
)

const (
	TaskType = "query-crm-data"
)

// DataClient is the per-action read surface of the CRM.
type DataClient interface {
	Now() time.Time
	GetLeads(ctx context.Context, filters followupboss.Filters) (models.Value, error)
	GetLeadDetails(ctx context.Context, leadID int64) (models.Value, error)
	GetTasks(ctx context.Context, filters followupboss.Filters) (models.Value, error)
	GetUpcomingTasks(ctx context.Context, tf string, filters followupboss.Filters) (models.Value, error)
	GetAppointments(ctx context.Context, tf string, filters followupboss.Filters) (models.Value, error)
}

type Handler struct {
	config  *Config
	client  DataClient
	catalog *registry.Catalog
	logger  logger.Logger
}

func NewHandler(config *Config, client DataClient, catalog *registry.Catalog, log logger.Logger) *Handler {
	return &Handler{
		config:  config,
		client:  client,
		catalog: catalog,
		logger: log.With(map[string]interface{}{
			"taskType": TaskType,
		}),
	}
}

// Validate checks the descriptor's parameters against the action's catalog
// schema and its route contract. The returned error is always a
// ParameterValidationError.
func (h *Handler) Validate(desc *models.ActionDescriptor) error {
	_, err := h.Plan(desc)
	return err
}

// Plan validates the descriptor and shapes the CRM read without sending it.
func (h *Handler) Plan(desc *models.ActionDescriptor) (followupboss.Query, error) {
	c, err := h.prepare(desc)
	if err != nil {
		return followupboss.Query{}, err
	}
	return c.query, nil
}

// Execute validates the descriptor and runs the CRM read through the client
// method of its route.
func (h *Handler) Execute(ctx context.Context, desc *models.ActionDescriptor) (*Output, error) {
	c, err := h.prepare(desc)
	if err != nil {
		return nil, err
	}

	data, err := c.send(ctx, h.client)
	if err != nil {
		return nil, err
	}

	count := followupboss.RecordCount(data)
	metrics.CRMRecordsReturned.WithLabelValues(desc.Function.String()).Observe(float64(count))

	out := &Output{
		Action:      desc.Function,
		Path:        c.query.Path,
		Filters:     c.query.Flat(),
		Data:        data,
		RecordCount: count,
	}
	h.logger.Info("crm data retrieved", map[string]interface{}{
		"action":      desc.Function.String(),
		"path":        c.query.Path,
		"filterCount": len(out.Filters),
		"recordCount": count,
	})
	return out, nil
}

func (h *Handler) prepare(desc *models.ActionDescriptor) (call, error) {
	if desc == nil {
		return call{}, apperrors.NewParameterValidationError("", "function", "missing function")
	}
	route, ok := Routes[desc.Function]
	if !ok {
		return call{}, apperrors.NewParameterValidationError(desc.Function.String(), "function",
			fmt.Sprintf("unsupported action %s", desc.Function))
	}

	if err := route.check(desc); err != nil {
		return call{}, err
	}
	params := explicitParams(desc)
	if err := h.checkSchema(desc.Function, params); err != nil {
		return call{}, err
	}
	h.capLimit(params)

	return route.build(params, h.client.Now())
}

func (h *Handler) checkSchema(action models.Action, params followupboss.Filters) error {
	if h.catalog == nil {
		return nil
	}
	fn, ok := h.catalog.Lookup(action.String())
	if !ok {
		return nil
	}

	input := make(map[string]interface{}, len(params))
	for k, v := range params {
		input[k] = v.Interface()
	}
	result, err := validation.ValidateParameters(fn.Parameters, input)
	if err != nil {
		h.logger.Warn("parameter schema could not be evaluated", map[string]interface{}{
			"action": action.String(),
			"error":  err.Error(),
		})
		return nil
	}
	if first, ok := result.First(); ok {
		return apperrors.NewParameterValidationError(action.String(), first.Field, first.Summary())
	}
	return nil
}

func (h *Handler) capLimit(params followupboss.Filters) {
	if h.config.MaxLimit <= 0 {
		return
	}
	v, ok := params["limit"]
	if !ok {
		return
	}
	if n, ok := v.Int(); ok && n > h.config.MaxLimit {
		params["limit"] = models.Number(float64(h.config.MaxLimit))
	}
}

// explicitParams copies the non-null classifier parameters.
func explicitParams(desc *models.ActionDescriptor) followupboss.Filters {
	out := make(followupboss.Filters, len(desc.Parameters))
	for k, v := range desc.Parameters {
		if v.IsNull() {
			continue
		}
		out[k] = v
	}
	return out
}
