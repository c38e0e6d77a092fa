package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventExtensionLoaded     EventType = "extension.loaded"
	EventExtensionUnloaded   EventType = "extension.unloaded"
	EventExtensionLoadFailed EventType = "extension.load_failed"
	EventExtensionInstalled  EventType = "extension.installed"
	EventExtensionUpdated    EventType = "extension.updated"
	EventExtensionRemoved    EventType = "extension.removed"
	EventBackendAttached     EventType = "backend.attached"
	EventBackendDetached     EventType = "backend.detached"
	EventDispatchFallback    EventType = "dispatch.fallback"
	EventSchedulerTaskFired  EventType = "scheduler.task.fired"
	EventRepositoryRefreshed EventType = "repository.refreshed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   string          `json:"subject,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ExtensionEventPayload accompanies extension lifecycle events.
type ExtensionEventPayload struct {
	ExtensionID string `json:"extension_id"`
	Backend     string `json:"backend,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BackendEventPayload accompanies attach and detach events.
type BackendEventPayload struct {
	AttachmentID string `json:"attachment_id"`
	Name         string `json:"name"`
	Platform     string `json:"platform,omitempty"`
}

// TaskEventPayload accompanies scheduler task runs.
type TaskEventPayload struct {
	Task     string `json:"task"`
	Action   string `json:"action"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// NewEvent builds an event with a JSON payload. Marshal failures yield an empty payload.
func NewEvent(t EventType, subject string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), Subject: subject}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}
