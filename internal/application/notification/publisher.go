package notification

import (
	"github.com/rs/zerolog"

	"github.com/execution-hub/moldwatch/internal/application/session"
	"github.com/execution-hub/moldwatch/internal/domain/controller"
	"github.com/execution-hub/moldwatch/internal/domain/notification"
)

// Broadcaster fans a message out to live subscribers.
type Broadcaster interface {
	BroadcastToAll(message *notification.SSEMessage)
}

// StatusEvent is the payload of a status event.
type StatusEvent struct {
	Status session.Status `json:"status"`
}

// DeniedEvent is the payload of a denied event.
type DeniedEvent struct {
	session.Denial
	Reason string `json:"reason"`
}

// Publisher turns store changes and session notifications into SSE messages.
// It implements session.Observer.
type Publisher struct {
	out    Broadcaster
	store  controller.Store
	logger zerolog.Logger
}

var _ session.Observer = (*Publisher)(nil)

func NewPublisher(out Broadcaster, store controller.Store, logger zerolog.Logger) *Publisher {
	return &Publisher{
		out:    out,
		store:  store,
		logger: logger.With().Str("service", "publisher").Logger(),
	}
}

// Attach starts forwarding store changes. The returned func detaches.
func (p *Publisher) Attach() func() {
	return p.store.Subscribe(p.onChange)
}

func (p *Publisher) StatusChanged(status session.Status) {
	p.publish(notification.EventStatus, StatusEvent{Status: status})
}

func (p *Publisher) Denied(denial session.Denial) {
	p.publish(notification.EventDenied, DeniedEvent{Denial: denial, Reason: denial.Reason()})
}

func (p *Publisher) onChange(change controller.Change) {
	if change.List {
		p.publish(notification.EventControllers, p.store.Snapshot())
		return
	}
	st, ok := p.store.Get(change.ControllerID)
	if !ok {
		return
	}
	p.publish(notification.EventController, st)
}

func (p *Publisher) publish(event string, v any) {
	msg, err := notification.EncodeSSEMessage(event, v)
	if err != nil {
		p.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	p.out.BroadcastToAll(msg)
}
