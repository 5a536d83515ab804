package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"crm-assistant/internal/common/config"
	apperrors "crm-assistant/internal/common/errors"
	"crm-assistant/internal/common/followupboss"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/models"
	querycrmdata "crm-assistant/internal/workers/ai-conversation/query-crm-data"
	"crm-assistant/pkg/registry"
)

var fixedNow = time.Date(2024, 5, 6, 10, 30, 0, 0, time.UTC)

// ==========================
// Test Helpers
// ==========================

type classifierFunc func(ctx context.Context, utterance string) (*models.ActionDescriptor, error)

func (f classifierFunc) Classify(ctx context.Context, utterance string) (*models.ActionDescriptor, error) {
	return f(ctx, utterance)
}

type synthesizerFunc func(ctx context.Context, utterance, functionName string, data models.Value) (string, error)

func (f synthesizerFunc) Render(ctx context.Context, utterance, functionName string, data models.Value) (string, error) {
	return f(ctx, utterance, functionName, data)
}

type stubDispatcher struct {
	calls int32
	out   *querycrmdata.Output
	err   error
}

func (d *stubDispatcher) Validate(desc *models.ActionDescriptor) error { return nil }

func (d *stubDispatcher) Execute(ctx context.Context, desc *models.ActionDescriptor) (*querycrmdata.Output, error) {
	atomic.AddInt32(&d.calls, 1)
	return d.out, d.err
}

type fakeDataClient struct {
	calls int32
	data  models.Value
}

func (f *fakeDataClient) Now() time.Time { return fixedNow }

func (f *fakeDataClient) read() (models.Value, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.data, nil
}

func (f *fakeDataClient) GetLeads(context.Context, followupboss.Filters) (models.Value, error) {
	return f.read()
}

func (f *fakeDataClient) GetLeadDetails(context.Context, int64) (models.Value, error) {
	return f.read()
}

func (f *fakeDataClient) GetTasks(context.Context, followupboss.Filters) (models.Value, error) {
	return f.read()
}

func (f *fakeDataClient) GetUpcomingTasks(context.Context, string, followupboss.Filters) (models.Value, error) {
	return f.read()
}

func (f *fakeDataClient) GetAppointments(context.Context, string, followupboss.Filters) (models.Value, error) {
	return f.read()
}

func classifyAs(action models.Action, params map[string]models.Value) Classifier {
	return classifierFunc(func(context.Context, string) (*models.ActionDescriptor, error) {
		if params == nil {
			params = map[string]models.Value{}
		}
		return &models.ActionDescriptor{Function: action, RawFunction: action.String(), Parameters: params}, nil
	})
}

func answer(text string) Synthesizer {
	return synthesizerFunc(func(context.Context, string, string, models.Value) (string, error) {
		return text, nil
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = time.Second
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, c Classifier, d Dispatcher, s Synthesizer) *Orchestrator {
	t.Helper()
	return New(cfg, c, d, s, logger.NewTestLogger(t), WithClock(func() time.Time { return fixedNow }))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []models.TurnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TurnState
	for _, e := range r.events {
		if e.Type == EventStateChanged {
			out = append(out, e.State)
		}
	}
	return out
}

func (r *recorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func assertNoPlaceholder(t *testing.T, conv *Conversation) {
	t.Helper()
	for _, m := range conv.Messages() {
		assert.False(t, m.Transient, "placeholder %q left behind", m.Text)
	}
}

// ==========================
// Turn outcomes
// ==========================

func TestHandleUtterance_Answered(t *testing.T) {
	dispatcher := &stubDispatcher{out: &querycrmdata.Output{
		Action:  models.ActionGetUpcomingTasks,
		Path:    "tasks",
		Filters: map[string]string{"dueDate": "2024-05-06", "dueDateEnd": "2024-05-07", "status": "active"},
		Data:    models.Map(map[string]models.Value{"tasks": models.List()}),
	}}
	o := newTestOrchestrator(t, testConfig(),
		classifyAs(models.ActionGetUpcomingTasks, map[string]models.Value{"timeframe": models.String("today")}),
		dispatcher, answer("You have no tasks due today."))

	conv := o.NewConversation()
	rec := &recorder{}
	conv.Subscribe(rec.observe)

	turn, err := o.HandleUtterance(context.Background(), conv, "  What's due today?  ")
	require.NoError(t, err)

	assert.Equal(t, models.StateRendered, turn.State)
	assert.Equal(t, models.OutcomeAnswered, turn.Outcome)
	assert.Equal(t, "What's due today?", turn.Utterance)
	assert.Equal(t, "You have no tasks due today.", turn.Response)
	assert.Equal(t, dispatcher.out.Filters, turn.Filters)
	assert.Nil(t, turn.Err)

	assert.Equal(t, []models.TurnState{
		models.StateClassifying, models.StateClassified, models.StateDispatching,
		models.StateDataReady, models.StateSynthesizing, models.StateRendered,
	}, rec.states())

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, DefaultConfig().WelcomeMessage, msgs[0].Text)
	assert.Equal(t, models.SpeakerUser, msgs[1].Speaker)
	assert.Equal(t, models.SpeakerAssistant, msgs[2].Speaker)
	assert.Equal(t, "You have no tasks due today.", msgs[2].Text)
	assertNoPlaceholder(t, conv)

	assert.Equal(t, 1, rec.count(EventMessageRemoved))
	assert.Equal(t, 2, rec.count(EventBusyChanged))
	assert.False(t, conv.Busy())
	require.Len(t, conv.Turns(), 1)
}

func TestHandleUtterance_UnknownShortCircuits(t *testing.T) {
	dispatcher := &stubDispatcher{}
	synthCalled := false
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionUnknown, nil), dispatcher,
		synthesizerFunc(func(context.Context, string, string, models.Value) (string, error) {
			synthCalled = true
			return "", nil
		}))

	conv := o.NewConversation()
	rec := &recorder{}
	conv.Subscribe(rec.observe)

	turn, err := o.HandleUtterance(context.Background(), conv, "Tell me a joke")
	require.NoError(t, err)

	assert.Equal(t, models.StateRendered, turn.State)
	assert.Equal(t, models.OutcomeUnknown, turn.Outcome)
	assert.Equal(t, DefaultConfig().UnknownReply, turn.Response)
	assert.Empty(t, turn.ErrorCode)
	assert.Zero(t, atomic.LoadInt32(&dispatcher.calls))
	assert.False(t, synthCalled)
	assert.Equal(t, []models.TurnState{models.StateClassifying, models.StateClassified, models.StateRendered}, rec.states())
	assertNoPlaceholder(t, conv)
}

func TestHandleUtterance_ClassificationFailed(t *testing.T) {
	dispatcher := &stubDispatcher{}
	o := newTestOrchestrator(t, testConfig(),
		classifierFunc(func(context.Context, string) (*models.ActionDescriptor, error) {
			return nil, apperrors.NewClassificationParseError("reply has no function", nil)
		}),
		dispatcher, answer("unused"))

	conv := o.NewConversation()
	turn, err := o.HandleUtterance(context.Background(), conv, "???")
	require.NoError(t, err)

	assert.Equal(t, models.StateClassificationFailed, turn.State)
	assert.Equal(t, models.OutcomeClassificationError, turn.Outcome)
	assert.Equal(t, string(apperrors.ErrCodeClassificationParse), turn.ErrorCode)
	assert.Contains(t, turn.Response, "Sorry")
	assert.Zero(t, atomic.LoadInt32(&dispatcher.calls))
	assertNoPlaceholder(t, conv)
}

func TestHandleUtterance_MissingLeadIDSkipsCRM(t *testing.T) {
	data := &fakeDataClient{}
	dispatcher := querycrmdata.NewHandler(querycrmdata.LoadConfig(), data, registry.DefaultCatalog(), logger.NewTestLogger(t))
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionGetLeadDetails, nil), dispatcher, answer("unused"))

	conv := o.NewConversation()
	rec := &recorder{}
	conv.Subscribe(rec.observe)

	turn, err := o.HandleUtterance(context.Background(), conv, "Tell me about that lead")
	require.NoError(t, err)

	assert.Equal(t, models.StateDataOrSynthesisFailed, turn.State)
	assert.Equal(t, string(apperrors.ErrCodeParameterValidation), turn.ErrorCode)
	assert.Contains(t, turn.Response, "missing leadId")
	assert.Zero(t, atomic.LoadInt32(&data.calls))
	assert.Equal(t, 1, rec.count(EventMessageRemoved))
	assertNoPlaceholder(t, conv)
}

func TestHandleUtterance_CRMServerError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"database unavailable"}`))
	}))
	defer server.Close()

	crm := followupboss.NewClient(followupboss.Config{BaseURL: server.URL, APIKey: "fub-key", Timeout: time.Second},
		logger.NewTestLogger(t), followupboss.WithClock(func() time.Time { return fixedNow }))
	dispatcher := querycrmdata.NewHandler(querycrmdata.LoadConfig(), crm, registry.DefaultCatalog(), logger.NewTestLogger(t))
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionGetLeads, nil), dispatcher, answer("unused"))

	conv := o.NewConversation()
	rec := &recorder{}
	conv.Subscribe(rec.observe)

	turn, err := o.HandleUtterance(context.Background(), conv, "Show me my leads")
	require.NoError(t, err)

	assert.Equal(t, models.StateDataOrSynthesisFailed, turn.State)
	stdErr, ok := apperrors.As(turn.Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUpstreamStatus, stdErr.Code)
	assert.Equal(t, 500, stdErr.StatusCode)
	assert.NotContains(t, turn.Response, "database unavailable")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "one retry for a 5xx")

	assert.Equal(t, 1, rec.count(EventMessageRemoved))
	assertNoPlaceholder(t, conv)
	assert.False(t, conv.Busy())
}

func TestHandleUtterance_SynthesisFailed(t *testing.T) {
	dispatcher := &stubDispatcher{out: &querycrmdata.Output{Data: models.Map(nil)}}
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionGetTasks, nil), dispatcher,
		synthesizerFunc(func(context.Context, string, string, models.Value) (string, error) {
			return "", apperrors.NewMalformedResponseError(apperrors.ServiceCompletion, "no choices")
		}))

	conv := o.NewConversation()
	turn, err := o.HandleUtterance(context.Background(), conv, "List my tasks")
	require.NoError(t, err)

	assert.Equal(t, models.StateDataOrSynthesisFailed, turn.State)
	assert.Equal(t, models.OutcomeDataOrSynthesisErr, turn.Outcome)
	assert.Equal(t, string(apperrors.ErrCodeMalformedResponse), turn.ErrorCode)
	assertNoPlaceholder(t, conv)
}

func TestHandleUtterance_BlankSynthesisFailsTurn(t *testing.T) {
	dispatcher := &stubDispatcher{out: &querycrmdata.Output{
		Action: models.ActionGetTasks,
		Path:   "tasks",
		Data:   models.Map(map[string]models.Value{"tasks": models.List()}),
	}}
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionGetTasks, nil), dispatcher, answer("  \n"))

	conv := o.NewConversation()
	before := len(conv.Messages())

	turn, err := o.HandleUtterance(context.Background(), conv, "List my tasks")
	require.NoError(t, err)

	assert.Equal(t, models.StateDataOrSynthesisFailed, turn.State)
	assert.Equal(t, models.OutcomeDataOrSynthesisErr, turn.Outcome)
	assert.Equal(t, string(apperrors.ErrCodeMalformedResponse), turn.ErrorCode)
	assert.NotEmpty(t, turn.Response)

	msgs := conv.Messages()
	require.Len(t, msgs, before+2, "user message and exactly one reply")
	assert.Equal(t, turn.Response, msgs[len(msgs)-1].Text)
	assertNoPlaceholder(t, conv)
}

// ==========================
// Retries, timeouts and panics
// ==========================

func TestHandleUtterance_RetriesTransportErrors(t *testing.T) {
	var attempts int32
	classifier := classifierFunc(func(context.Context, string) (*models.ActionDescriptor, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, apperrors.NewTransportError(apperrors.ServiceCompletion, errors.New("connection reset"))
		}
		return &models.ActionDescriptor{Function: models.ActionUnknown, Parameters: map[string]models.Value{}}, nil
	})
	o := newTestOrchestrator(t, testConfig(), classifier, &stubDispatcher{}, answer("unused"))

	turn, err := o.HandleUtterance(context.Background(), o.NewConversation(), "hello")
	require.NoError(t, err)
	assert.Equal(t, models.StateRendered, turn.State)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestHandleUtterance_DoesNotRetryParseErrors(t *testing.T) {
	var attempts int32
	classifier := classifierFunc(func(context.Context, string) (*models.ActionDescriptor, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, apperrors.NewClassificationParseError("bad", nil)
	})
	cfg := testConfig()
	cfg.MaxRetries = 3
	o := newTestOrchestrator(t, cfg, classifier, &stubDispatcher{}, answer("unused"))

	_, err := o.HandleUtterance(context.Background(), o.NewConversation(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestHandleUtterance_CallTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 0
	classifier := classifierFunc(func(ctx context.Context, _ string) (*models.ActionDescriptor, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := newTestOrchestrator(t, cfg, classifier, &stubDispatcher{}, answer("unused"))

	conv := o.NewConversation()
	turn, err := o.HandleUtterance(context.Background(), conv, "slow question")
	require.NoError(t, err)

	assert.Equal(t, models.StateClassificationFailed, turn.State)
	stdErr, ok := apperrors.As(turn.Err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeTransport, stdErr.Code)
	assert.True(t, stdErr.Timeout)
	assert.False(t, conv.Busy())
}

func TestHandleUtterance_RecoversPanics(t *testing.T) {
	panicking := true
	classifier := classifierFunc(func(context.Context, string) (*models.ActionDescriptor, error) {
		if panicking {
			panic("nil map write")
		}
		return &models.ActionDescriptor{Function: models.ActionUnknown, Parameters: map[string]models.Value{}}, nil
	})
	o := newTestOrchestrator(t, testConfig(), classifier, &stubDispatcher{}, answer("unused"))
	conv := o.NewConversation()

	turn, err := o.HandleUtterance(context.Background(), conv, "boom")
	require.NoError(t, err)
	assert.Equal(t, models.StateClassificationFailed, turn.State)
	assert.Equal(t, string(apperrors.ErrCodeTransport), turn.ErrorCode)
	assertNoPlaceholder(t, conv)

	panicking = false
	turn, err = o.HandleUtterance(context.Background(), conv, "hello again")
	require.NoError(t, err)
	assert.Equal(t, models.StateRendered, turn.State)
	assert.Len(t, conv.Turns(), 2)
}

func TestHandleUtterance_PanickingObserverDoesNotWedgeConversation(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionUnknown, nil), &stubDispatcher{}, answer("unused"))
	conv := o.NewConversation()

	panicked := false
	conv.Subscribe(func(e Event) {
		if e.Type == EventMessageAppended && !panicked {
			panicked = true
			panic("display gone")
		}
	})
	rec := &recorder{}
	conv.Subscribe(rec.observe)

	turn, err := o.HandleUtterance(context.Background(), conv, "first")
	require.NoError(t, err)
	assert.True(t, panicked)
	assert.Equal(t, models.StateRendered, turn.State)
	assert.False(t, conv.Busy())
	assertNoPlaceholder(t, conv)
	assert.Equal(t, 2, rec.count(EventBusyChanged), "later observers still see every event")

	turn, err = o.HandleUtterance(context.Background(), conv, "second")
	require.NoError(t, err)
	assert.Equal(t, models.StateRendered, turn.State)
	assert.Len(t, conv.Turns(), 2)
}

// ==========================
// Conversation
// ==========================

func TestHandleUtterance_RejectsConcurrentTurn(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{})
	release := make(chan struct{})
	classifier := classifierFunc(func(ctx context.Context, _ string) (*models.ActionDescriptor, error) {
		close(started)
		<-release
		return &models.ActionDescriptor{Function: models.ActionUnknown, Parameters: map[string]models.Value{}}, nil
	})
	o := newTestOrchestrator(t, testConfig(), classifier, &stubDispatcher{}, answer("unused"))
	conv := o.NewConversation()

	done := make(chan *models.Turn)
	go func() {
		turn, _ := o.HandleUtterance(context.Background(), conv, "first")
		done <- turn
	}()

	<-started
	assert.True(t, conv.Busy())
	before := len(conv.Messages())

	_, err := o.HandleUtterance(context.Background(), conv, "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.Len(t, conv.Messages(), before, "rejected utterance must not be recorded")

	close(release)
	turn := <-done
	require.NotNil(t, turn)
	assert.Equal(t, "first", turn.Utterance)
	assert.False(t, conv.Busy())
	assert.Len(t, conv.Turns(), 1)
}

func TestHandleUtterance_EmptyUtterance(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionUnknown, nil), &stubDispatcher{}, answer("unused"))
	conv := o.NewConversation()

	_, err := o.HandleUtterance(context.Background(), conv, "   ")
	assert.ErrorIs(t, err, ErrEmptyUtterance)
	assert.Len(t, conv.Messages(), 1)
	assert.Empty(t, conv.Turns())
}

func TestConversation_EventOrderAndUnsubscribe(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionUnknown, nil), &stubDispatcher{}, answer("unused"))
	conv := o.NewConversation()

	var types []EventType
	var placeholderID, removedID string
	unsubscribe := conv.Subscribe(func(e Event) {
		if e.Type == EventStateChanged {
			return
		}
		types = append(types, e.Type)
		if e.Type == EventMessageAppended && e.Message.Transient {
			placeholderID = e.Message.ID.String()
		}
		if e.Type == EventMessageRemoved {
			removedID = e.Message.ID.String()
		}
	})

	_, err := o.HandleUtterance(context.Background(), conv, "hi")
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventMessageAppended, EventBusyChanged, EventMessageAppended,
		EventMessageRemoved, EventMessageAppended, EventBusyChanged,
	}, types)
	assert.NotEmpty(t, placeholderID)
	assert.Equal(t, placeholderID, removedID)

	unsubscribe()
	_, err = o.HandleUtterance(context.Background(), conv, "hi again")
	require.NoError(t, err)
	assert.Len(t, types, 6)
}

func TestConversation_EventsUseInjectedClock(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), classifyAs(models.ActionUnknown, nil), &stubDispatcher{}, answer("unused"))
	conv := o.NewConversation()
	rec := &recorder{}
	conv.Subscribe(rec.observe)

	_, err := o.HandleUtterance(context.Background(), conv, "hi")
	require.NoError(t, err)

	require.NotEmpty(t, rec.events)
	for _, e := range rec.events {
		assert.True(t, fixedNow.Equal(e.At), "%s event at %s", e.Type, e.At)
	}
	for _, m := range conv.Messages() {
		assert.True(t, fixedNow.Equal(m.Timestamp))
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.OrchestratorConfig{CallTimeout: 5000, WelcomeMessage: "Hi"})
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, "Hi", cfg.WelcomeMessage)
	assert.Equal(t, DefaultConfig().PlaceholderText, cfg.PlaceholderText)
}
