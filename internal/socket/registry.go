package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// HandlerFunc consumes the payload of one inbound event.
type HandlerFunc func(payload json.RawMessage)

// Envelope is the wire shape of every inbound push event.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

/*
* Registry reconciles the caller's desired event subscriptions against
* what is attached to the transport. Callers may replace the whole
* table arbitrarily often; the registry converges to exactly one
* listener per event name.
 */
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]*HandlerFunc

	attachCalls int
	detachCalls int
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With(slog.String("component", "registry")),
		handlers: make(map[string]*HandlerFunc),
	}
}

// SetHandlers replaces the active handler table. The attached name set
// only changes when the set of event names changes structurally; tables
// rebuilt with fresh closures but identical names just swap the stored
// callbacks, so a late event always reaches the current callback
// version rather than a stale closure.
func (r *Registry) SetHandlers(table map[string]HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sameNames(r.handlers, table) {
		for name, fn := range table {
			*r.handlers[name] = fn
		}
		return
	}

	// Detach everything, then attach the new set. Between the two steps
	// a name briefly has zero listeners: an event landing in that exact
	// window is dropped. Accepted trade-off; the alternative is risking
	// double delivery.
	r.detachCalls += len(r.handlers)
	r.handlers = make(map[string]*HandlerFunc, len(table))
	for name, fn := range table {
		ref := fn
		r.handlers[name] = &ref
		r.attachCalls++
	}
	r.logger.Debug("handler table replaced", slog.Int("names", len(table)))
}

// Dispatch routes one decoded event to the current handler for its
// name. Unknown names are dropped quietly.
func (r *Registry) Dispatch(event string, payload json.RawMessage) {
	r.mu.RLock()
	ref, ok := r.handlers[event]
	var fn HandlerFunc
	if ok {
		fn = *ref
	}
	r.mu.RUnlock()

	if fn == nil {
		r.logger.Debug("no handler attached for event", slog.String("event", event))
		return
	}
	fn(payload)
}

// HandleFrame decodes a raw transport frame and dispatches it.
// Malformed frames are logged and dropped.
func (r *Registry) HandleFrame(ctx context.Context, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.logger.Warn("failed to unmarshal inbound frame", slog.Any("error", err))
		return
	}
	if env.Event == "" {
		r.logger.Warn("inbound frame missing event name")
		return
	}
	r.Dispatch(env.Event, env.Payload)
}

// AttachCalls reports how many transport-level attachments have been
// made over the registry's lifetime.
func (r *Registry) AttachCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attachCalls
}

func (r *Registry) DetachCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.detachCalls
}

func sameNames(current map[string]*HandlerFunc, next map[string]HandlerFunc) bool {
	if len(current) != len(next) {
		return false
	}
	for name := range next {
		if _, ok := current[name]; !ok {
			return false
		}
	}
	return true
}
