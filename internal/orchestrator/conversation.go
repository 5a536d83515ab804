package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/models"
)

// Conversation holds the display messages and the append-only turn history
// of one chat. At most one turn is in flight at a time.
type Conversation struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu        sync.Mutex
	busy      bool
	messages  []models.Message
	turns     []models.Turn
	observers []subscription
	nextSub   int
	logger    logger.Logger
}

type subscription struct {
	id       int
	observer Observer
}

func newConversation(welcome string, now time.Time, log logger.Logger) *Conversation {
	c := &Conversation{
		ID:        uuid.New(),
		CreatedAt: now,
	}
	c.logger = log.With(map[string]interface{}{"conversationId": c.ID.String()})
	if welcome != "" {
		c.messages = append(c.messages, models.NewMessage(models.SpeakerAssistant, welcome, now))
	}
	return c
}

// Subscribe registers an observer and returns a function that removes it.
func (c *Conversation) Subscribe(observer Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	id := c.nextSub
	c.observers = append(c.observers, subscription{id: id, observer: observer})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.observers {
			if s.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Messages returns a copy of the display sequence.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Turns returns a copy of the settled turn history.
func (c *Conversation) Turns() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Busy reports whether a turn is in flight.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// begin marks the conversation busy and shows the user message and the
// placeholder. It fails when another turn is in flight.
func (c *Conversation) begin(turn *models.Turn, placeholder models.Message, now time.Time) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return nil, ErrTurnInFlight
	}
	c.busy = true

	user := models.NewMessage(models.SpeakerUser, turn.Utterance, now)
	c.messages = append(c.messages, user, placeholder)

	return []Event{
		c.event(EventMessageAppended, turn, now, func(e *Event) { e.Message = &user }),
		c.event(EventBusyChanged, turn, now, func(e *Event) { e.Busy = true }),
		c.event(EventMessageAppended, turn, now, func(e *Event) { e.Message = &placeholder }),
	}, nil
}

// settle removes the placeholder, shows the reply, records the turn and
// clears the busy flag in one step.
func (c *Conversation) settle(turn *models.Turn, placeholderID uuid.UUID, now time.Time) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []Event
	for i, m := range c.messages {
		if m.ID == placeholderID {
			removed := m
			c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
			events = append(events, c.event(EventMessageRemoved, turn, now, func(e *Event) { e.Message = &removed }))
			break
		}
	}

	if turn.Response != "" {
		reply := models.NewMessage(models.SpeakerAssistant, turn.Response, now)
		c.messages = append(c.messages, reply)
		events = append(events, c.event(EventMessageAppended, turn, now, func(e *Event) { e.Message = &reply }))
	}

	c.turns = append(c.turns, *turn)
	c.busy = false
	events = append(events, c.event(EventBusyChanged, turn, now, func(e *Event) { e.Busy = false }))
	return events
}

func (c *Conversation) event(typ EventType, turn *models.Turn, at time.Time, fill func(*Event)) Event {
	e := Event{
		Type:           typ,
		ConversationID: c.ID,
		TurnID:         turn.ID,
		State:          turn.State,
		At:             at,
	}
	if fill != nil {
		fill(&e)
	}
	return e
}

// publish delivers events to the current observers outside the lock. A
// panicking observer is logged and skipped; it never aborts the turn.
func (c *Conversation) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	observers := make([]Observer, len(c.observers))
	for i, s := range c.observers {
		observers[i] = s.observer
	}
	c.mu.Unlock()

	for _, e := range events {
		for _, o := range observers {
			c.notify(o, e)
		}
	}
}

func (c *Conversation) notify(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Observer panicked", map[string]interface{}{
				"event": string(e.Type),
				"panic": fmt.Sprint(r),
			})
		}
	}()
	o(e)
}
