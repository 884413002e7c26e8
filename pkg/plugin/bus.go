package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageKind classifies traffic on the inter-plugin bus.
type MessageKind string

const (
	KindDirect      MessageKind = "direct-message"
	KindBroadcast   MessageKind = "broadcast"
	KindSystemEvent MessageKind = "system-event"
)

// BusMessage is the envelope exchanged between plugins. It lives only for
// the duration of a call; nothing on the bus is persisted.
type BusMessage struct {
	ID            string                 `json:"id"`
	Kind          MessageKind            `json:"kind"`
	Source        string                 `json:"source"`
	Target        string                 `json:"target,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// BusResponse carries a handler's result back to the caller.
type BusResponse struct {
	RequestID string                 `json:"requestId"`
	Success   bool                   `json:"success"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Handler processes one bus message for a plugin. A handler error is
// reported to the caller as a failed response; it never aborts the bus.
type Handler func(ctx context.Context, msg *BusMessage) (*BusResponse, error)

// Bus is the capability-gated request/response and broadcast channel
// between plugins. Every send is authorized against the permission manager
// at the call site.
type Bus struct {
	perms  *PermissionManager
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates a Bus enforcing permissions from pm.
func NewBus(pm *PermissionManager, logger zerolog.Logger) *Bus {
	return &Bus{
		perms:    pm,
		handlers: make(map[string][]Handler),
		logger:   logger.With().Str("component", "PluginBus").Logger(),
	}
}

// RegisterHandler appends a handler for the named plugin. Multiple handlers
// per plugin are allowed.
func (b *Bus) RegisterHandler(plugin string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[plugin] = append(b.handlers[plugin], h)
	b.logger.Debug().Str("plugin", plugin).Int("handlers", len(b.handlers[plugin])).Msg("Registered bus handler.")
}

// UnregisterHandlers removes every handler for the named plugin.
func (b *Bus) UnregisterHandlers(plugin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, plugin)
}

// newMessage builds the envelope for one call.
func newMessage(kind MessageKind, source, target string, payload map[string]interface{}) *BusMessage {
	return &BusMessage{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    source,
		Target:    target,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// invoke runs a single handler, converting a returned error (or a nil
// response) into a failure BusResponse.
func (b *Bus) invoke(ctx context.Context, h Handler, msg *BusMessage) *BusResponse {
	resp, err := h(ctx, msg)
	if err != nil {
		b.logger.Warn().Err(err).Str("source", msg.Source).Str("target", msg.Target).Msg("Bus handler returned an error.")
		return &BusResponse{RequestID: msg.ID, Success: false, Error: err.Error()}
	}
	if resp == nil {
		resp = &BusResponse{Success: true}
	}
	resp.RequestID = msg.ID
	return resp
}

// Send delivers a message from source to target and returns the first
// registered handler's response. A target with no handlers yields a nil
// response and nil error. The source must hold the inter-plugin-messaging
// capability.
func (b *Bus) Send(ctx context.Context, source, target string, kind MessageKind, payload map[string]interface{}) (*BusResponse, error) {
	if err := b.perms.Check(source, CapInterPlugin); err != nil {
		return nil, err
	}

	b.mu.RLock()
	handlers := b.handlers[target]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		b.logger.Debug().Str("source", source).Str("target", target).Msg("No handlers registered for target plugin.")
		return nil, nil
	}

	msg := newMessage(kind, source, target, payload)
	return b.invoke(ctx, handlers[0], msg), nil
}

// Broadcast delivers a message from source to every handler of every other
// plugin, never the sender's own. It returns one response per handler
// invocation; a handler failure is isolated into its own failure response.
func (b *Bus) Broadcast(ctx context.Context, source string, kind MessageKind, payload map[string]interface{}) ([]*BusResponse, error) {
	if err := b.perms.Check(source, CapInterPlugin); err != nil {
		return nil, err
	}

	b.mu.RLock()
	targets := make(map[string][]Handler, len(b.handlers))
	for plugin, hs := range b.handlers {
		if plugin == source {
			continue
		}
		targets[plugin] = append([]Handler(nil), hs...)
	}
	b.mu.RUnlock()

	var responses []*BusResponse
	for plugin, hs := range targets {
		msg := newMessage(kind, source, plugin, payload)
		for _, h := range hs {
			responses = append(responses, b.invoke(ctx, h, msg))
		}
	}
	return responses, nil
}

// HandlerCount returns the number of handlers registered for plugin.
func (b *Bus) HandlerCount(plugin string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[plugin])
}
