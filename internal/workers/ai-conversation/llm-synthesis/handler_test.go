// internal/workers/ai-conversation/llm-synthesis/handler_test.go
package llmsynthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-assistant/internal/common/errors"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/openai"
	"crm-assistant/internal/models"
)

// ==========================
// Test Helpers
// ==========================

type stubCompleter struct {
	reply  string
	err    error
	msgs   []openai.Message
	params openai.Params
}

func (s *stubCompleter) CompleteMessages(_ context.Context, msgs []openai.Message, params openai.Params) (string, error) {
	s.msgs = msgs
	s.params = params
	return s.reply, s.err
}

func createTestConfig() *Config {
	cfg := LoadConfig()
	cfg.Model = "gpt-test"
	return cfg
}

func eventsData() models.Value {
	return models.Map(map[string]models.Value{
		"events": models.List(
			models.Map(map[string]models.Value{"id": models.Number(1), "title": models.String("Showing at 12 Elm St")}),
			models.Map(map[string]models.Value{"id": models.Number(2), "title": models.String("Call with Jane")}),
		),
	})
}

// ==========================
// Render
// ==========================

func TestHandler_Render_Success(t *testing.T) {
	stub := &stubCompleter{reply: "  You have 2 appointments this week.\n"}
	handler := NewHandler(createTestConfig(), stub, logger.NewTestLogger(t))

	text, err := handler.Render(context.Background(), "What are my appointments this week?", "getAppointments", eventsData())
	require.NoError(t, err)

	assert.Equal(t, "  You have 2 appointments this week.\n", text, "reply must be returned unmodified")
	require.Len(t, stub.msgs, 1)
	assert.Equal(t, openai.RoleSystem, stub.msgs[0].Role)
	assert.Equal(t, 0.7, stub.params.Temperature)
	assert.Equal(t, "gpt-test", stub.params.Model)

	prompt := stub.msgs[0].Content
	assert.Contains(t, prompt, `"What are my appointments this week?"`)
	assert.Contains(t, prompt, `"getAppointments"`)
	assert.Contains(t, prompt, eventsData().String())
}

func TestHandler_Render_PropagatesErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode apperrors.ErrorCode
	}{
		{"upstream status", apperrors.NewUpstreamStatusError(apperrors.ServiceCompletion, 503, ""), apperrors.ErrCodeUpstreamStatus},
		{"malformed", apperrors.NewMalformedResponseError(apperrors.ServiceCompletion, "no choices"), apperrors.ErrCodeMalformedResponse},
		{"timeout", apperrors.NewTimeoutError(apperrors.ServiceCompletion, context.DeadlineExceeded), apperrors.ErrCodeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(createTestConfig(), &stubCompleter{err: tt.err}, logger.NewNoOpLogger())
			text, err := handler.Render(context.Background(), "q", "getLeads", models.Map(nil))
			assert.Empty(t, text)
			assert.True(t, apperrors.Is(err, tt.wantCode))
		})
	}
}

func TestHandler_Render_RejectsBlankText(t *testing.T) {
	for _, reply := range []string{"", "   \n\t"} {
		handler := NewHandler(createTestConfig(), &stubCompleter{reply: reply}, logger.NewTestLogger(t))
		text, err := handler.Render(context.Background(), "Show my tasks", "getTasks", eventsData())
		assert.Empty(t, text)

		stdErr, ok := apperrors.As(err)
		require.True(t, ok, "reply %q", reply)
		assert.Equal(t, apperrors.ErrCodeMalformedResponse, stdErr.Code)
		assert.Equal(t, apperrors.ServiceSynthesizer, stdErr.Service)
		assert.False(t, apperrors.IsRetryable(err))
	}
}

func TestHandler_Render_OverHTTP(t *testing.T) {
	var got struct {
		Temperature float64          `json:"temperature"`
		Messages    []openai.Message `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"You have no tasks today."}}]}`))
	}))
	defer server.Close()

	client := openai.NewClient(openai.Config{BaseURL: server.URL, APIKey: "sk", DefaultModel: "gpt-default", Timeout: 2 * time.Second}, logger.NewTestLogger(t))
	handler := NewHandler(createTestConfig(), client, logger.NewTestLogger(t))

	text, err := handler.Render(context.Background(), "What's due today?", "getUpcomingTasks",
		models.Map(map[string]models.Value{"tasks": models.List()}))
	require.NoError(t, err)
	assert.Equal(t, "You have no tasks today.", text)
	assert.Equal(t, 0.7, got.Temperature)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, `{"tasks":[]}`)
}

// ==========================
// Prompt
// ==========================

func TestHandler_BuildPrompt(t *testing.T) {
	handler := NewHandler(createTestConfig(), &stubCompleter{}, logger.NewNoOpLogger())

	prompt, err := handler.BuildPrompt(&Input{
		Utterance:    "Show me my Zillow leads",
		FunctionName: "getLeads",
		Data:         models.Map(map[string]models.Value{"people": models.List(models.Map(map[string]models.Value{"name": models.String("Ann")}))}),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, "You are an assistant for a real estate CRM called Follow Up Boss."))
	assert.Contains(t, prompt, `{"people":[{"name":"Ann"}]}`)
	assert.Contains(t, prompt, "mention the total count")
	assert.Contains(t, prompt, "up to 5 items")
	assert.Contains(t, prompt, "friendly, professional tone")

	again, err := handler.BuildPrompt(&Input{
		Utterance:    "Show me my Zillow leads",
		FunctionName: "getLeads",
		Data:         models.Map(map[string]models.Value{"people": models.List(models.Map(map[string]models.Value{"name": models.String("Ann")}))}),
	})
	require.NoError(t, err)
	assert.Equal(t, prompt, again)
}

func TestHandler_BuildPrompt_ListLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.MaxListItems = 3
	handler := NewHandler(cfg, &stubCompleter{}, logger.NewNoOpLogger())

	prompt, err := handler.BuildPrompt(&Input{Utterance: "q", FunctionName: "getTasks", Data: models.Null()})
	require.NoError(t, err)
	assert.Contains(t, prompt, "up to 3 items")
	assert.Contains(t, prompt, "\nnull\n")
}
