// internal/workers/ai-conversation/parse-user-intent/handler.go
package parseuserintent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	apperrors "crm-assistant/internal/common/errors"
	"crm-assistant/internal/common/jsonx"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/openai"
	"crm-assistant/internal/models"
	"crm-assistant/pkg/registry"
)

const (
	TaskType = "parse-user-intent"
)

// Completer is the part of the completion client the classifier needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, params openai.Params) (string, error)
}

type Handler struct {
	config    *Config
	completer Completer
	prompt    string
	logger    logger.Logger
}

func NewHandler(config *Config, completer Completer, catalog *registry.Catalog, log logger.Logger) *Handler {
	return &Handler{
		config:    config,
		completer: completer,
		prompt:    BuildSystemPrompt(catalog),
		logger: log.With(map[string]interface{}{
			"taskType": TaskType,
		}),
	}
}

// SystemPrompt returns the classification prompt. It depends only on the
// catalog the handler was built with.
func (h *Handler) SystemPrompt() string {
	return h.prompt
}

// Classify asks the completion endpoint which catalog function answers the
// utterance. Completion failures are returned unchanged.
func (h *Handler) Classify(ctx context.Context, utterance string) (*models.ActionDescriptor, error) {
	text, err := h.completer.Complete(ctx, h.prompt, utterance, openai.Params{
		Model:       h.config.Model,
		Temperature: h.config.Temperature,
		MaxTokens:   h.config.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	desc, err := ParseReply(text)
	if err != nil {
		h.logger.Warn("Unparseable classification reply", map[string]interface{}{
			"replyLength": len(text),
			"error":       err.Error(),
		})
		return nil, err
	}

	fields := map[string]interface{}{
		"action":     desc.Function.String(),
		"paramCount": len(desc.Parameters),
	}
	if desc.Function == models.ActionUnknown && desc.RawFunction != string(models.ActionUnknown) {
		fields["rawFunction"] = desc.RawFunction
	}
	if desc.Confidence != nil {
		fields["confidence"] = *desc.Confidence
	}
	h.logger.Info("Utterance classified", fields)
	return desc, nil
}

// ParseReply turns completion text into an ActionDescriptor. The text may wrap
// the JSON object in prose or code fences. Function names outside the catalog
// resolve to the unknown action.
func ParseReply(text string) (*models.ActionDescriptor, error) {
	var r reply
	if err := jsonx.Decode(text, &r); err != nil {
		if errors.Is(err, jsonx.ErrNoJSONObject) {
			return nil, apperrors.NewClassificationParseError("no JSON object in reply", err)
		}
		return nil, apperrors.NewClassificationParseError("reply is not an object", err)
	}

	if isAbsent(r.Function) {
		return nil, apperrors.NewClassificationParseError("reply has no function", nil)
	}
	var function string
	if err := json.Unmarshal(r.Function, &function); err != nil {
		return nil, apperrors.NewClassificationParseError("function is not a string", nil)
	}

	if isAbsent(r.Parameters) {
		return nil, apperrors.NewClassificationParseError("reply has no parameters", nil)
	}
	params, err := models.ParseValue(r.Parameters)
	if err != nil {
		return nil, apperrors.NewClassificationParseError("parameters are not valid JSON", err)
	}
	m, ok := params.AsMap()
	if !ok {
		return nil, apperrors.NewClassificationParseError("parameters is not an object", nil)
	}
	if m == nil {
		m = map[string]models.Value{}
	}

	function = strings.TrimSpace(function)
	desc := &models.ActionDescriptor{
		Function:    models.ParseAction(function),
		RawFunction: function,
		Parameters:  m,
	}

	if !isAbsent(r.Confidence) {
		var c float64
		if err := json.Unmarshal(r.Confidence, &c); err == nil {
			c = clamp(c)
			desc.Confidence = &c
		}
	}
	if !isAbsent(r.Explanation) {
		var e string
		if err := json.Unmarshal(r.Explanation, &e); err == nil {
			desc.Explanation = e
		}
	}
	return desc, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// BuildSystemPrompt renders the catalog into the classification prompt.
func BuildSystemPrompt(catalog *registry.Catalog) string {
	var b strings.Builder
	b.WriteString("You are an assistant for a real estate CRM called Follow Up Boss.\n")
	b.WriteString("Determine which function would best handle the user's query.\n\n")
	b.WriteString("Choose from these functions:\n")

	var examples []promptExample
	for _, f := range catalog.Functions {
		sig := f.Signature
		if sig == "" {
			sig = f.Name + "()"
		}
		fmt.Fprintf(&b, "- %s - %s\n", sig, f.Description)
		if params := describeParameters(f); params != "" {
			fmt.Fprintf(&b, "  parameters: %s\n", params)
		}
		for _, ex := range f.Examples {
			examples = append(examples, promptExample{
				Function:    f.Name,
				Parameters:  ex.Parameters,
				Explanation: ex.Explanation,
			})
		}
	}

	b.WriteString("\nReturn only a JSON object with:\n")
	b.WriteString("1. \"function\": The name of the function to call\n")
	b.WriteString("2. \"parameters\": An object of parameter values for the function\n")
	b.WriteString("3. \"confidence\": A number between 0 and 1\n")
	b.WriteString("4. \"explanation\": A brief explanation of why you chose this function\n\n")
	b.WriteString("If no function fits, use \"function\": \"unknown\" with empty parameters.\n")
	b.WriteString("Timeframes are one of today, tomorrow, this_week, this_month.\n")

	if len(examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, ex := range examples {
			if ex.Parameters == nil {
				ex.Parameters = map[string]interface{}{}
			}
			line, err := json.Marshal(ex)
			if err != nil {
				continue
			}
			b.Write(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func describeParameters(f registry.Function) string {
	props, _ := f.Parameters["properties"].(map[string]interface{})
	if len(props) == 0 {
		return ""
	}
	required := make(map[string]bool)
	for _, r := range f.Required() {
		required[r] = true
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if required[name] {
			parts = append(parts, name+" (required)")
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}
