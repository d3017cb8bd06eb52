package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Event names pushed to live subscribers.
const (
	EventStatus      = "status"
	EventControllers = "controllers"
	EventController  = "controller"
	EventDenied      = "denied"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
	ErrUnknownEvent   = errors.New("unknown event")
)

const clientBuffer = 100

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	Events      []string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a client subscribed to events, or to every event when
// events is empty.
func NewSSEClient(clientID string, events []string) *SSEClient {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &SSEClient{
		ClientID:    clientID,
		Events:      events,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, clientBuffer),
	}
}

// Wants reports whether the client subscribed to event.
func (c *SSEClient) Wants(event string) bool {
	return len(c.Events) == 0 || slices.Contains(c.Events, event)
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// EncodeSSEMessage marshals v as the payload of a new message.
func EncodeSSEMessage(event string, v any) (*SSEMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	return NewSSEMessage(event, data), nil
}

// ValidateEvents checks a subscription list against the known event names.
func ValidateEvents(events []string) error {
	known := []string{EventStatus, EventControllers, EventController, EventDenied}
	for _, e := range events {
		if !slices.Contains(known, e) {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, e)
		}
	}
	return nil
}
