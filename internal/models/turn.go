package models

import (
	"time"

	"github.com/google/uuid"
)

// Speaker marks who produced a message.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Message is one entry of the display sequence. Transient messages are
// placeholders that only live while a turn is in flight.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Transient bool      `json:"transient,omitempty"`
}

func NewMessage(speaker Speaker, text string, at time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: at,
	}
}

// TurnState is a state of the per-turn pipeline.
type TurnState string

const (
	StateReceived              TurnState = "received"
	StateClassifying           TurnState = "classifying"
	StateClassified            TurnState = "classified"
	StateDispatching           TurnState = "dispatching"
	StateDataReady             TurnState = "data_ready"
	StateSynthesizing          TurnState = "synthesizing"
	StateRendered              TurnState = "rendered"
	StateClassificationFailed  TurnState = "classification_failed"
	StateDataOrSynthesisFailed TurnState = "data_or_synthesis_failed"
)

// IsFailure reports whether the state is one of the absorbing error states.
func (s TurnState) IsFailure() bool {
	return s == StateClassificationFailed || s == StateDataOrSynthesisFailed
}

// Outcome summarizes how a turn ended.
type Outcome string

const (
	OutcomeAnswered            Outcome = "answered"
	OutcomeUnknown             Outcome = "unknown"
	OutcomeClassificationError Outcome = "classification_failed"
	OutcomeDataOrSynthesisErr  Outcome = "data_or_synthesis_failed"
)

// Turn is one utterance-to-response cycle. Turns are appended to history once
// terminal and never edited afterwards.
type Turn struct {
	ID         uuid.UUID         `json:"id"`
	Utterance  string            `json:"utterance"`
	Descriptor *ActionDescriptor `json:"descriptor,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	Data       *Value            `json:"data,omitempty"`
	Response   string            `json:"response"`
	Err        error             `json:"-"`
	ErrorCode  string            `json:"errorCode,omitempty"`
	State      TurnState         `json:"state"`
	Outcome    Outcome           `json:"outcome"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
}

func (t Turn) Duration() time.Duration {
	return t.FinishedAt.Sub(t.StartedAt)
}
