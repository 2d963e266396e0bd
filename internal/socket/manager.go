package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/aulalink/realtime/pkg/config"
	"github.com/aulalink/realtime/pkg/session"
	"github.com/aulalink/realtime/pkg/transport"
)

// Transport is the connection the manager drives. Satisfied by
// *transport.Client; tests substitute a fake.
type Transport interface {
	Run(ctx context.Context)
	Send(message []byte)
	State() transport.State
}

// TransportFactory builds the transport with the manager's callbacks
// already wired in.
type TransportFactory func(onMessage transport.MessageHandler, onConnect func()) Transport

// DefaultFactory dials the real push server.
func DefaultFactory(logger *slog.Logger, cfg *config.Config) TransportFactory {
	return func(onMessage transport.MessageHandler, onConnect func()) Transport {
		return transport.NewClient(logger, transport.ClientConfig{
			URL:               cfg.Socket.URL,
			ReconnectAttempts: cfg.Transport.ReconnectAttempts,
			ReconnectDelay:    cfg.Transport.ReconnectDelay,
			ReadTimeout:       cfg.Transport.ReadTimeout,
		}, onMessage, onConnect)
	}
}

// registerPayload associates the live connection with a user. userId
// and id_usuario carry the same value; older server builds read the
// latter.
type registerPayload struct {
	UserID    int    `json:"userId"`
	IDUsuario int    `json:"id_usuario"`
	Rol       string `json:"rol"`
	Cursos    []int  `json:"cursos"`
}

/*
* Manager owns the process-wide push connection. It is constructed once
* at startup and injected into every consumer; calling Ensure any
* number of times never yields a second connection. The connection is
* deliberately never torn down when a consumer detaches, so switching
* screens does not pay reconnection cost.
 */
type Manager struct {
	logger   *slog.Logger
	store    session.Store
	registry *Registry
	factory  TransportFactory

	mu        sync.Mutex
	started   bool
	connected bool
	transport Transport
	courses   []int
	lastSent  session.Identity
	everSent  bool
}

func NewManager(logger *slog.Logger, store session.Store, factory TransportFactory) *Manager {
	mgrLogger := logger.With(slog.String("component", "socket"))
	return &Manager{
		logger:   mgrLogger,
		store:    store,
		registry: NewRegistry(mgrLogger),
		factory:  factory,
	}
}

// Ensure starts the connection on first call and is a no-op after
// that. The connection lives until ctx (the application context) is
// cancelled.
func (m *Manager) Ensure(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	t := m.factory(m.registry.HandleFrame, m.handleConnect)
	m.transport = t
	m.mu.Unlock()

	go t.Run(ctx)
}

// SetHandlers replaces the event subscription table. See Registry.
func (m *Manager) SetHandlers(table map[string]HandlerFunc) {
	m.registry.SetHandlers(table)
}

// SetCourses updates the course list used for server-side routing and
// re-registers when the list actually changed by value.
func (m *Manager) SetCourses(courseIDs []int) {
	m.mu.Lock()
	if slices.Equal(m.courses, courseIDs) {
		m.mu.Unlock()
		return
	}
	m.courses = slices.Clone(courseIDs)
	connected := m.connected
	m.mu.Unlock()

	if connected {
		m.register(false)
	}
}

// Refresh re-derives identity from the session store and re-sends the
// registration message. Safe to call after any session change; sending
// a duplicate registration is harmless, missing one is not.
func (m *Manager) Refresh() {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if connected {
		m.register(true)
	}
}

// State reports the transport state, for shutdown logging.
func (m *Manager) State() transport.State {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return transport.StateDisconnected
	}
	return t.State()
}

// handleConnect runs on every successful (re)connect.
func (m *Manager) handleConnect() {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.register(true)
}

// register resolves identity fresh and sends the registration frame.
// Absent identity suppresses registration silently; the caller retries
// via Refresh once the session store is populated.
func (m *Manager) register(force bool) {
	id, ok := session.Resolve(m.logger, m.store)
	if !ok {
		m.logger.Debug("identity unavailable, registration deferred")
		return
	}

	m.mu.Lock()
	id.CourseIDs = slices.Clone(m.courses)
	if id.CourseIDs == nil {
		id.CourseIDs = []int{}
	}
	if !force && m.everSent && id.Equal(m.lastSent) {
		m.mu.Unlock()
		return
	}
	m.lastSent = id
	m.everSent = true
	t := m.transport
	m.mu.Unlock()

	if t == nil {
		return
	}
	frame, err := json.Marshal(Envelope{Event: "register", Payload: mustMarshal(registerPayload{
		UserID:    id.UserID,
		IDUsuario: id.UserID,
		Rol:       string(id.Role),
		Cursos:    id.CourseIDs,
	})})
	if err != nil {
		m.logger.Error("failed to marshal registration frame", slog.Any("error", err))
		return
	}
	t.Send(frame)
	m.logger.Info("registration sent",
		slog.Int("userID", id.UserID),
		slog.String("rol", string(id.Role)),
		slog.Int("courses", len(id.CourseIDs)),
	)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
