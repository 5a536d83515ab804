// Package openai is the transport to a chat-completions endpoint. It makes
// exactly one HTTP call per request and never retries.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	apperrors "crm-assistant/internal/common/errors"
	httpclient "crm-assistant/internal/common/http"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/metrics"
)

const maxResponseBytes = 4 << 20

type Client struct {
	config     Config
	httpClient *httpclient.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

func NewClient(cfg Config, log logger.Logger) *Client {
	return NewClientWithHTTP(cfg, httpclient.NewClient(cfg.Timeout), log)
}

// NewClientWithHTTP lets callers share or stub the HTTP client.
func NewClientWithHTTP(cfg Config, hc *httpclient.Client, log logger.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		config:     cfg,
		httpClient: hc,
		logger: log.With(map[string]interface{}{
			"service": apperrors.ServiceCompletion,
		}),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Complete sends a system prompt and a user prompt and returns the content
// of the first choice.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, params Params) (string, error) {
	msgs := make([]Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: userPrompt})
	return c.CompleteMessages(ctx, msgs, params)
}

// CompleteMessages sends an ordered message sequence.
func (c *Client) CompleteMessages(ctx context.Context, msgs []Message, params Params) (string, error) {
	if err := c.validate(msgs, params); err != nil {
		return "", err
	}

	model := params.Model
	if model == "" {
		model = c.config.DefaultModel
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", apperrors.NewTransportError(apperrors.ServiceCompletion, fmt.Errorf("encode request: %w", err))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// Wait fails early when the deadline would pass before a token frees up.
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", c.transportError(ctx, err)
			}
			return "", apperrors.NewTimeoutError(apperrors.ServiceCompletion, fmt.Errorf("rate limiter: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", c.transportError(ctx, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		stdErr := c.transportError(ctx, err)
		metrics.ObserveUpstream(apperrors.ServiceCompletion, stdErr)
		return "", stdErr
	}
	defer resp.Body.Close()

	text, err := c.decode(resp)
	metrics.ObserveUpstream(apperrors.ServiceCompletion, err)
	if err != nil {
		c.logger.Warn("completion request failed", map[string]interface{}{
			"model":      model,
			"statusCode": resp.StatusCode,
			"error":      err.Error(),
		})
		return "", err
	}

	c.logger.Debug("completion received", map[string]interface{}{
		"model":       model,
		"temperature": params.Temperature,
		"chars":       len(text),
	})
	return text, nil
}

func (c *Client) validate(msgs []Message, params Params) error {
	if len(msgs) == 0 {
		return apperrors.NewParameterValidationError("complete", "messages", "missing messages")
	}
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			return apperrors.NewParameterValidationError("complete", "content", "empty "+m.Role+" prompt")
		}
	}
	if params.Temperature < 0 || params.Temperature > 2 {
		return apperrors.NewParameterValidationError("complete", "temperature",
			fmt.Sprintf("temperature %v outside [0, 2]", params.Temperature))
	}
	if params.Model == "" && c.config.DefaultModel == "" {
		return apperrors.NewParameterValidationError("complete", "model", "missing model")
	}
	return nil
}

func (c *Client) decode(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperrors.NewTransportError(apperrors.ServiceCompletion, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		msg := ""
		if json.Unmarshal(raw, &errResp) == nil {
			msg = c.scrub(errResp.Error.Message)
		}
		return "", apperrors.NewUpstreamStatusError(apperrors.ServiceCompletion, resp.StatusCode, msg)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperrors.NewMalformedResponseError(apperrors.ServiceCompletion, "response is not a chat completion envelope")
	}
	if len(out.Choices) == 0 {
		return "", apperrors.NewMalformedResponseError(apperrors.ServiceCompletion, "response has no choices")
	}
	first := out.Choices[0]
	if first.Message == nil || first.Message.Content == nil {
		return "", apperrors.NewMalformedResponseError(apperrors.ServiceCompletion, "first choice has no message content")
	}
	return *first.Message.Content, nil
}

func (c *Client) transportError(ctx context.Context, err error) *apperrors.StandardError {
	timeout := errors.Is(ctx.Err(), context.DeadlineExceeded) || apperrors.IsTimeout(err)
	scrubbed := errors.New(c.scrub(err.Error()))
	if timeout {
		return apperrors.NewTimeoutError(apperrors.ServiceCompletion, scrubbed)
	}
	return apperrors.NewTransportError(apperrors.ServiceCompletion, scrubbed)
}

// scrub removes the API key from text that may be logged.
func (c *Client) scrub(s string) string {
	if c.config.APIKey == "" {
		return s
	}
	return strings.ReplaceAll(s, c.config.APIKey, "[REDACTED]")
}
