// internal/workers/ai-conversation/llm-synthesis/handler.go
package llmsynthesis

import (
	"context"
	"fmt"
	"strings"

	apperrors "crm-assistant/internal/common/errors"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/openai"
	"crm-assistant/internal/models"
)

const (
	TaskType = "llm-synthesis"
)

// Completer sends an ordered message sequence to the completion endpoint.
type Completer interface {
	CompleteMessages(ctx context.Context, msgs []openai.Message, params openai.Params) (string, error)
}

type Handler struct {
	config    *Config
	completer Completer
	logger    logger.Logger
}

func NewHandler(config *Config, completer Completer, log logger.Logger) *Handler {
	return &Handler{
		config:    config,
		completer: completer,
		logger: log.With(map[string]interface{}{
			"taskType": TaskType,
		}),
	}
}

// Render asks the completion endpoint to answer the utterance from data. The
// generated text is returned as is; blank text is a MalformedResponseError.
func (h *Handler) Render(ctx context.Context, utterance, functionName string, data models.Value) (string, error) {
	prompt, err := h.BuildPrompt(&Input{
		Utterance:    utterance,
		FunctionName: functionName,
		Data:         data,
	})
	if err != nil {
		return "", err
	}

	text, err := h.completer.CompleteMessages(ctx, []openai.Message{
		{Role: openai.RoleSystem, Content: prompt},
	}, openai.Params{
		Model:       h.config.Model,
		Temperature: h.config.Temperature,
		MaxTokens:   h.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		h.logger.Warn("LLM synthesis returned no text", map[string]interface{}{
			"function": functionName,
		})
		return "", apperrors.NewMalformedResponseError(apperrors.ServiceSynthesizer, "empty completion")
	}

	h.logger.Info("LLM synthesis completed", map[string]interface{}{
		"function":    functionName,
		"promptChars": len(prompt),
		"replyChars":  len(text),
	})
	return text, nil
}

// BuildPrompt embeds the utterance, the function name and the compact JSON of
// the data into the generation prompt.
func (h *Handler) BuildPrompt(input *Input) (string, error) {
	payload, err := input.Data.MarshalJSON()
	if err != nil {
		return "", apperrors.NewMalformedResponseError(apperrors.ServiceSynthesizer, fmt.Sprintf("encode data: %v", err))
	}

	maxItems := h.config.MaxListItems
	if maxItems <= 0 {
		maxItems = 5
	}

	var parts []string
	parts = append(parts, "You are an assistant for a real estate CRM called Follow Up Boss.")
	parts = append(parts, fmt.Sprintf("The user asked: %q", input.Utterance))
	parts = append(parts, fmt.Sprintf("I called the function %q and got this data:", input.FunctionName))
	parts = append(parts, string(payload))
	parts = append(parts, "")
	parts = append(parts, "Format a helpful, conversational response based on this data. Be concise but informative.")
	parts = append(parts, "Format dates in a readable way and use a friendly, professional tone.")
	parts = append(parts, "If the data is empty, say so plainly.")
	parts = append(parts, fmt.Sprintf("Keep your response brief and focused. For lists of people, tasks or appointments, mention the total count and only include details for up to %d items.", maxItems))

	return strings.Join(parts, "\n"), nil
}
