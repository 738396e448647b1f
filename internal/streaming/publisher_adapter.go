package streaming

import (
	"context"

	"tracelink-lab/internal/domain/models"
)

// EventBusPublisher implements services.ProgressPublisher using the EventBus
type EventBusPublisher struct {
	eventBus *EventBus
	wsHub    *WebSocketHub
}

// NewEventBusPublisher creates a new publisher adapter. Either side may be nil.
func NewEventBusPublisher(eventBus *EventBus, wsHub *WebSocketHub) *EventBusPublisher {
	return &EventBusPublisher{
		eventBus: eventBus,
		wsHub:    wsHub,
	}
}

// PublishProgress publishes one pipeline progress event
func (p *EventBusPublisher) PublishProgress(ctx context.Context, ev models.ProgressEvent) error {
	return p.publish(ctx, NewProgressEvent(ev))
}

// PublishCompleted publishes the summary of a finished session
func (p *EventBusPublisher) PublishCompleted(ctx context.Context, summary models.SessionSummary) error {
	return p.publish(ctx, NewCompletedEvent(summary))
}

func (p *EventBusPublisher) publish(ctx context.Context, event *SearchEvent) error {
	if p.eventBus != nil {
		if err := p.eventBus.Publish(ctx, event); err != nil {
			return err
		}
	}

	// Broadcast to WebSocket clients
	if p.wsHub != nil {
		p.wsHub.BroadcastEvent(event)
	}

	return nil
}
