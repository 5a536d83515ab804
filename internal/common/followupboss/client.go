// Package followupboss is the read-only client for the Follow Up Boss CRM API.
package followupboss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "crm-assistant/internal/common/errors"
	httpclient "crm-assistant/internal/common/http"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/metrics"
	"crm-assistant/internal/models"
)

const maxResponseBytes = 8 << 20

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	config     Config
	httpClient *httpclient.Client
	cache      *Cache
	now        func() time.Time
	logger     logger.Logger
}

type Option func(*Client)

// WithCache serves repeated reads from c.
func WithCache(c *Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithClock anchors timeframe expansion at now().
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithHTTPClient replaces the shared outbound client.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(cl *Client) { cl.httpClient = hc }
}

func NewClient(cfg Config, log logger.Logger, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		config: cfg,
		now:    time.Now,
		logger: log.With(map[string]interface{}{
			"service": apperrors.ServiceCRM,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.NewClient(cfg.Timeout)
	}
	return c
}

// Now is the clock used for timeframe windows.
func (c *Client) Now() time.Time {
	return c.now()
}

func (c *Client) GetLeads(ctx context.Context, filters Filters) (models.Value, error) {
	return c.Execute(ctx, LeadsQuery(filters))
}

func (c *Client) GetLeadDetails(ctx context.Context, leadID int64) (models.Value, error) {
	return c.Execute(ctx, LeadDetailsQuery(leadID))
}

func (c *Client) GetTasks(ctx context.Context, filters Filters) (models.Value, error) {
	return c.Execute(ctx, TasksQuery(filters))
}

func (c *Client) GetUpcomingTasks(ctx context.Context, tf string, filters Filters) (models.Value, error) {
	return c.Execute(ctx, UpcomingTasksQuery(tf, filters, c.now()))
}

func (c *Client) GetAppointments(ctx context.Context, tf string, filters Filters) (models.Value, error) {
	return c.Execute(ctx, AppointmentsQuery(tf, filters, c.now()))
}

// Request performs a generic read against a resource path.
func (c *Client) Request(ctx context.Context, path, method string, filters Filters) (models.Value, error) {
	return c.Execute(ctx, Query{Path: path, Method: method, Filters: filters})
}

// Execute runs a shaped query, consulting the cache first when configured.
func (c *Client) Execute(ctx context.Context, q Query) (models.Value, error) {
	if q.Method == "" {
		q.Method = http.MethodGet
	}
	if q.Method != http.MethodGet {
		return models.Null(), apperrors.NewParameterValidationError("request", "method",
			fmt.Sprintf("unsupported method %s", q.Method))
	}

	values, dropped := EncodeQuery(q.Filters)
	if len(dropped) > 0 {
		c.logger.Warn("dropping non-scalar query filters", map[string]interface{}{
			"path": q.Path,
			"keys": dropped,
		})
	}

	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, q); ok {
			metrics.AssistantUpstreamRequests.WithLabelValues(apperrors.ServiceCRM, metrics.ResultCache).Inc()
			return v, nil
		}
	}

	endpoint := c.config.BaseURL + "/" + strings.TrimLeft(q.Path, "/")
	if enc := values.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, q.Method, endpoint, nil)
	if err != nil {
		return models.Null(), c.transportError(ctx, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.config.APIKey, "")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		stdErr := c.transportError(ctx, err)
		metrics.ObserveUpstream(apperrors.ServiceCRM, stdErr)
		c.logger.Warn("crm request failed", map[string]interface{}{
			"path":    q.Path,
			"timeout": stdErr.Timeout,
			"error":   stdErr.Details,
		})
		return models.Null(), stdErr
	}
	defer resp.Body.Close()

	v, err := c.decode(resp)
	metrics.ObserveUpstream(apperrors.ServiceCRM, err)
	if err != nil {
		c.logger.Warn("crm request failed", map[string]interface{}{
			"path":       q.Path,
			"statusCode": resp.StatusCode,
			"error":      err.Error(),
		})
		return models.Null(), err
	}

	c.logger.Debug("crm request completed", map[string]interface{}{
		"path":       q.Path,
		"statusCode": resp.StatusCode,
		"records":    RecordCount(v),
		"durationMs": time.Since(start).Milliseconds(),
	})

	if c.cache != nil {
		c.cache.Put(ctx, q, v)
	}
	return v, nil
}

func (c *Client) decode(resp *http.Response) (models.Value, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Null(), apperrors.NewTransportError(apperrors.ServiceCRM, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Message string `json:"message"`
		}
		msg := ""
		if json.Unmarshal(raw, &body) == nil {
			msg = c.scrub(body.Message)
		}
		return models.Null(), apperrors.NewUpstreamStatusError(apperrors.ServiceCRM, resp.StatusCode, msg)
	}

	v, err := models.ParseValue(raw)
	if err != nil {
		return models.Null(), apperrors.NewMalformedResponseError(apperrors.ServiceCRM, "response body is not valid JSON")
	}
	if v.Kind() != models.KindMap {
		return models.Null(), apperrors.NewMalformedResponseError(apperrors.ServiceCRM,
			fmt.Sprintf("response body is a JSON %s, not an object", v.Kind()))
	}
	return v, nil
}

func (c *Client) transportError(ctx context.Context, err error) *apperrors.StandardError {
	timeout := errors.Is(ctx.Err(), context.DeadlineExceeded) || apperrors.IsTimeout(err)
	scrubbed := errors.New(c.scrub(err.Error()))
	if timeout {
		return apperrors.NewTimeoutError(apperrors.ServiceCRM, scrubbed)
	}
	return apperrors.NewTransportError(apperrors.ServiceCRM, scrubbed)
}

// scrub removes the API key from text that may be logged.
func (c *Client) scrub(s string) string {
	if c.config.APIKey == "" {
		return s
	}
	return strings.ReplaceAll(s, c.config.APIKey, "[REDACTED]")
}
