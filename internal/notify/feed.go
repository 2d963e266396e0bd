package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/aulalink/realtime/internal/socket"
	"github.com/aulalink/realtime/pkg/session"
)

// FeedCap bounds the in-memory feed; the oldest records are evicted.
const FeedCap = 50

const (
	tokenRetryAttempts = 3
	tokenRetryDelay    = time.Second
)

/*
* Feed holds the bounded, most-recent-first notification list for one
* user. It is hydrated once from the REST collaborator and then grows
* from live push events. Unread state is never tracked separately; it
* is always recomputed from the records, so it cannot drift.
 */
type Feed struct {
	logger  *slog.Logger
	role    session.Role
	store   session.Store
	api     API
	alerter Alerter

	// test seams
	clock      func() time.Time
	retryDelay time.Duration

	mu       sync.Mutex
	records  []Record
	hydrated bool
}

type Option func(*Feed)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(f *Feed) { f.clock = clock }
}

// WithRetryDelay overrides the delay between token-availability retries.
func WithRetryDelay(d time.Duration) Option {
	return func(f *Feed) { f.retryDelay = d }
}

func NewFeed(logger *slog.Logger, role session.Role, store session.Store, api API, alerter Alerter, opts ...Option) *Feed {
	feed := &Feed{
		logger:     logger.With(slog.String("component", "feed"), slog.String("rol", string(role))),
		role:       role,
		store:      store,
		api:        api,
		alerter:    alerter,
		clock:      time.Now,
		retryDelay: tokenRetryDelay,
	}
	for _, opt := range opts {
		opt(feed)
	}
	return feed
}

// Hydrate replaces the feed with the server-persisted history. When the
// bearer token has not been written to the session store yet the fetch
// is retried a few times; a fetch that fails for any other reason is
// logged and NOT retried. That asymmetry is deliberate: the retry loop
// only covers the startup race where the token lands slightly after
// this component.
func (f *Feed) Hydrate(ctx context.Context) {
	var token string
	for attempt := 0; attempt < tokenRetryAttempts; attempt++ {
		if t, ok := f.store.Get(session.KeyToken); ok && t != "" {
			token = t
			break
		}
		f.logger.Debug("session token not present yet", slog.Int("attempt", attempt+1))
		if attempt == tokenRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(f.retryDelay):
		case <-ctx.Done():
			return
		}
	}
	if token == "" {
		f.logger.Warn("giving up on hydration, no session token")
		return
	}

	list, err := f.api.FetchMine(ctx, token)
	if err != nil {
		// Feed stays in its prior state (empty if never hydrated).
		f.logger.Error("hydration fetch failed", slog.Any("error", err))
		return
	}

	records := make([]Record, 0, len(list))
	for _, n := range list {
		records = append(records, f.fromServer(n))
	}

	f.mu.Lock()
	f.records = capRecords(records)
	f.hydrated = true
	f.mu.Unlock()
	f.logger.Info("feed hydrated", slog.Int("records", len(records)))
}

// HandleEvent maps one live push event through the role's table and
// prepends the resulting unread record. Unknown roles and unmatched
// event names are no-ops.
func (f *Feed) HandleEvent(event string, payload json.RawMessage) {
	table, ok := roleTables[f.role]
	if !ok {
		return
	}
	entry, ok := table[event]
	if !ok {
		return
	}

	title, message := entry.build(gjson.ParseBytes(payload))
	record := Record{
		ID:        f.synthID(),
		Category:  entry.category,
		Title:     title,
		Message:   message,
		Read:      false,
		CreatedAt: f.clock(),
		Link:      linkFor(entry.category, f.role),
		Payload:   payload,
	}

	f.mu.Lock()
	f.records = capRecords(append([]Record{record}, f.records...))
	f.mu.Unlock()

	if f.alerter != nil && f.alerter.Granted() {
		f.alerter.Alert(title, message)
	}
}

// Handlers returns the event subscription table for this role, ready
// for Manager.SetHandlers. Safe to rebuild on every call.
func (f *Feed) Handlers() map[string]socket.HandlerFunc {
	table := roleTables[f.role]
	handlers := make(map[string]socket.HandlerFunc, len(table))
	for name := range table {
		event := name
		handlers[event] = func(payload json.RawMessage) {
			f.HandleEvent(event, payload)
		}
	}
	return handlers
}

// MarkAllRead flips every record to read locally first, then tells the
// server. A failed network call keeps the optimistic local state; the
// feed never flickers back to unread.
func (f *Feed) MarkAllRead(ctx context.Context) {
	now := f.clock()
	f.mu.Lock()
	for i := range f.records {
		if !f.records[i].Read {
			readAt := now
			f.records[i].Read = true
			f.records[i].ReadAt = &readAt
		}
	}
	f.mu.Unlock()

	token, ok := f.store.Get(session.KeyToken)
	if !ok || token == "" {
		f.logger.Warn("mark-all-read not synced, no session token")
		return
	}
	if err := f.api.MarkAllRead(ctx, token); err != nil {
		f.logger.Warn("mark-all-read sync failed, keeping local state", slog.Any("error", err))
	}
}

// UnreadCount recomputes over the current records on every call.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for i := range f.records {
		if !f.records[i].Read {
			count++
		}
	}
	return count
}

// Records returns a snapshot of the feed, newest first.
func (f *Feed) Records() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, len(f.records))
	copy(out, f.records)
	return out
}

// Hydrated reports whether the initial fetch has completed.
func (f *Feed) Hydrated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hydrated
}

func (f *Feed) fromServer(n ServerNotification) Record {
	record := Record{
		ID:       strconv.Itoa(n.ID),
		Category: normalizeCategory(n.Tipo),
		Title:    n.Titulo,
		Message:  n.Mensaje,
		Read:     n.Leida,
		Link:     linkFor(normalizeCategory(n.Tipo), f.role),
		Payload:  n.Datos,
	}
	if t, err := time.Parse(time.RFC3339, n.FechaCreacion); err == nil {
		record.CreatedAt = t
	} else {
		record.CreatedAt = f.clock()
	}
	if n.FechaLectura != "" {
		if t, err := time.Parse(time.RFC3339, n.FechaLectura); err == nil {
			record.ReadAt = &t
		}
	}
	return record
}

// synthID builds a locally unique id: creation time plus a random
// suffix. Hydrated records keep their server-assigned id instead.
func (f *Feed) synthID() string {
	return fmt.Sprintf("%d-%s", f.clock().UnixMilli(), uuid.NewString()[:8])
}

func capRecords(records []Record) []Record {
	if len(records) > FeedCap {
		return records[:FeedCap]
	}
	return records
}
