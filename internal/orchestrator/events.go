package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"crm-assistant/internal/models"
)

// EventType names a conversation change a display can react to.
type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventMessageAppended EventType = "message_appended"
	EventMessageRemoved  EventType = "message_removed"
	EventBusyChanged     EventType = "busy_changed"
)

// Event is delivered to observers in the order changes happen.
type Event struct {
	Type           EventType
	ConversationID uuid.UUID
	TurnID         uuid.UUID
	State          models.TurnState
	Message        *models.Message
	Busy           bool
	At             time.Time
}

// Observer receives conversation events. It is called synchronously and must
// not call back into HandleUtterance.
type Observer func(Event)
