package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "crm-assistant/internal/common/errors"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/metrics"
	"crm-assistant/internal/common/observability"
	"crm-assistant/internal/models"
	querycrmdata "crm-assistant/internal/workers/ai-conversation/query-crm-data"
)

var (
	ErrTurnInFlight   = errors.New("a turn is already in flight for this conversation")
	ErrEmptyUtterance = errors.New("utterance is empty")
)

// Pipeline stages, used for spans, metrics and retries.
const (
	StageClassify   = "classify"
	StageDispatch   = "dispatch"
	StageSynthesize = "synthesize"
)

type Classifier interface {
	Classify(ctx context.Context, utterance string) (*models.ActionDescriptor, error)
}

type Dispatcher interface {
	Validate(desc *models.ActionDescriptor) error
	Execute(ctx context.Context, desc *models.ActionDescriptor) (*querycrmdata.Output, error)
}

type Synthesizer interface {
	Render(ctx context.Context, utterance, functionName string, data models.Value) (string, error)
}

type Orchestrator struct {
	config      Config
	classifier  Classifier
	dispatcher  Dispatcher
	synthesizer Synthesizer
	errors      *apperrors.ErrorHandler
	obs         *observability.Observability
	now         func() time.Time
	logger      logger.Logger
}

type Option func(*Orchestrator)

// WithObservability records spans and otel metrics for every turn.
func WithObservability(obs *observability.Observability) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithClock replaces time.Now for message and turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(cfg Config, classifier Classifier, dispatcher Dispatcher, synthesizer Synthesizer, log logger.Logger, opts ...Option) *Orchestrator {
	log = log.With(map[string]interface{}{"component": "orchestrator"})
	o := &Orchestrator{
		config:      cfg,
		classifier:  classifier,
		dispatcher:  dispatcher,
		synthesizer: synthesizer,
		errors:      apperrors.NewErrorHandler(log),
		now:         time.Now,
		logger:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewConversation starts a conversation showing the welcome message.
func (o *Orchestrator) NewConversation() *Conversation {
	return newConversation(o.config.WelcomeMessage, o.now(), o.logger)
}

// HandleUtterance runs one turn to completion and returns the settled turn.
// Pipeline failures end the turn with an apology and are not returned as
// errors; only ErrEmptyUtterance and ErrTurnInFlight are, and in those cases
// nothing is recorded.
func (o *Orchestrator) HandleUtterance(ctx context.Context, conv *Conversation, utterance string) (*models.Turn, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}

	start := o.now()
	turn := &models.Turn{
		ID:        uuid.New(),
		Utterance: utterance,
		State:     models.StateReceived,
		StartedAt: start,
	}
	placeholder := models.NewMessage(models.SpeakerAssistant, o.config.PlaceholderText, start)
	placeholder.Transient = true

	events, err := conv.begin(turn, placeholder, start)
	if err != nil {
		return nil, err
	}
	metrics.AssistantTurnsActive.Inc()

	log := o.logger.With(map[string]interface{}{
		"conversationId": conv.ID.String(),
		"turnId":         turn.ID.String(),
	})

	ctx, finish := o.obs.StartSpan(ctx, "assistant.turn", attribute.String("turn.id", turn.ID.String()))
	defer func() {
		turn.FinishedAt = o.now()
		metrics.AssistantTurnsActive.Dec()
		metrics.AssistantTurnsTotal.WithLabelValues(string(turn.Outcome)).Inc()
		o.obs.RecordTurnProcessed(ctx, string(turn.Outcome))
		o.obs.RecordTurnDuration(ctx, turn.Duration(), string(turn.Outcome))
		finish(turn.Err)

		conv.publish(conv.settle(turn, placeholder.ID, turn.FinishedAt)...)

		fields := map[string]interface{}{
			"action":     actionName(turn),
			"state":      string(turn.State),
			"outcome":    string(turn.Outcome),
			"durationMs": turn.Duration().Milliseconds(),
		}
		if turn.State.IsFailure() {
			log.Warn("Turn settled with failure", fields)
			return
		}
		log.Info("Turn settled", fields)
	}()

	conv.publish(events...)
	o.run(ctx, conv, turn, log)

	out := *turn
	return &out, nil
}

// run drives the state machine. A panic anywhere in the pipeline fails the
// turn as a transport error.
func (o *Orchestrator) run(ctx context.Context, conv *Conversation, turn *models.Turn, log logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			failed := models.StateDataOrSynthesisFailed
			service := apperrors.ServiceDispatcher
			if turn.State == models.StateReceived || turn.State == models.StateClassifying {
				failed = models.StateClassificationFailed
				service = apperrors.ServiceClassifier
			}
			log.Error("Recovered panic in turn", map[string]interface{}{
				"state": string(turn.State),
				"panic": fmt.Sprint(r),
			})
			o.fail(conv, turn, failed, service, apperrors.NewTransportError(service, fmt.Errorf("panic: %v", r)), log)
		}
	}()

	o.transition(conv, turn, models.StateClassifying)
	var desc *models.ActionDescriptor
	err := o.call(ctx, StageClassify, func(ctx context.Context) error {
		var err error
		desc, err = o.classifier.Classify(ctx, turn.Utterance)
		return err
	})
	if err != nil {
		o.fail(conv, turn, models.StateClassificationFailed, apperrors.ServiceClassifier, err, log)
		return
	}
	turn.Descriptor = desc
	o.transition(conv, turn, models.StateClassified)

	if desc.Function == models.ActionUnknown {
		turn.Response = o.config.UnknownReply
		turn.Outcome = models.OutcomeUnknown
		o.transition(conv, turn, models.StateRendered)
		return
	}

	o.transition(conv, turn, models.StateDispatching)
	if err := o.dispatcher.Validate(desc); err != nil {
		o.fail(conv, turn, models.StateDataOrSynthesisFailed, apperrors.ServiceDispatcher, err, log)
		return
	}
	var data *querycrmdata.Output
	err = o.call(ctx, StageDispatch, func(ctx context.Context) error {
		var err error
		data, err = o.dispatcher.Execute(ctx, desc)
		return err
	})
	if err != nil {
		o.fail(conv, turn, models.StateDataOrSynthesisFailed, apperrors.ServiceCRM, err, log)
		return
	}
	turn.Filters = data.Filters
	turn.Data = &data.Data
	o.transition(conv, turn, models.StateDataReady)

	o.transition(conv, turn, models.StateSynthesizing)
	var text string
	err = o.call(ctx, StageSynthesize, func(ctx context.Context) error {
		var err error
		text, err = o.synthesizer.Render(ctx, turn.Utterance, desc.Function.String(), data.Data)
		return err
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = apperrors.NewMalformedResponseError(apperrors.ServiceSynthesizer, "empty completion")
	}
	if err != nil {
		o.fail(conv, turn, models.StateDataOrSynthesisFailed, apperrors.ServiceSynthesizer, err, log)
		return
	}
	turn.Response = text
	turn.Outcome = models.OutcomeAnswered
	o.transition(conv, turn, models.StateRendered)
}

// call runs one pipeline stage under its own timeout, retrying retryable
// failures with exponential backoff.
func (o *Orchestrator) call(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			}
		}

		lastErr = o.attempt(ctx, stage, attempt, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !apperrors.IsRetryable(lastErr) {
			return lastErr
		}
		o.logger.Warn("Retrying stage", map[string]interface{}{
			"stage":   stage,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		})
	}
	return lastErr
}

func (o *Orchestrator) attempt(ctx context.Context, stage string, attempt int, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
	defer cancel()

	callCtx, finish := o.obs.StartSpan(callCtx, "assistant."+stage, attribute.Int("attempt", attempt))
	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !apperrors.IsTimeout(err) {
		err = apperrors.NewTimeoutError(stageService(stage), err)
	}
	finish(err)

	metrics.AssistantStageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	o.obs.RecordStageDuration(ctx, stage, elapsed)
	return err
}

func (o *Orchestrator) transition(conv *Conversation, turn *models.Turn, state models.TurnState) {
	turn.State = state
	conv.publish(conv.event(EventStateChanged, turn, o.now(), nil))
}

func (o *Orchestrator) fail(conv *Conversation, turn *models.Turn, state models.TurnState, service string, err error, log logger.Logger) {
	fields := map[string]interface{}{
		"conversationId": conv.ID.String(),
		"turnId":         turn.ID.String(),
		"action":         actionName(turn),
		"state":          string(turn.State),
	}
	msg, stdErr := o.errors.HandleTurnError(service, fields, err)

	turn.Err = stdErr
	turn.ErrorCode = string(stdErr.Code)
	turn.Response = msg
	if state == models.StateClassificationFailed {
		turn.Outcome = models.OutcomeClassificationError
	} else {
		turn.Outcome = models.OutcomeDataOrSynthesisErr
	}
	o.transition(conv, turn, state)
	log.Debug("Turn failed", map[string]interface{}{"state": string(state)})
}

func stageService(stage string) string {
	switch stage {
	case StageClassify:
		return apperrors.ServiceCompletion
	case StageDispatch:
		return apperrors.ServiceCRM
	default:
		return apperrors.ServiceCompletion
	}
}

func actionName(turn *models.Turn) string {
	if turn.Descriptor == nil {
		return ""
	}
	return turn.Descriptor.Function.String()
}
