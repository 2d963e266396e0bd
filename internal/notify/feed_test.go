package notify_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aulalink/realtime/internal/notify"
	"github.com/aulalink/realtime/pkg/session"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeAPI struct {
	mu         sync.Mutex
	list       []notify.ServerNotification
	fetchErr   error
	fetchCalls int
	markErr    error
	markCalls  int
}

func (a *fakeAPI) FetchMine(ctx context.Context, token string) ([]notify.ServerNotification, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchCalls++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return a.list, nil
}

func (a *fakeAPI) MarkAllRead(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markCalls++
	return a.markErr
}

type fakeAlerter struct {
	granted bool
	alerts  []string
}

func (a *fakeAlerter) Granted() bool { return a.granted }
func (a *fakeAlerter) Alert(title, message string) {
	a.alerts = append(a.alerts, title)
}

// lateTokenStore misses the first N token reads, simulating the portal
// shell writing the token slightly after the feed starts.
type lateTokenStore struct {
	*session.MemoryStore
	mu     sync.Mutex
	misses int
	token  string
}

func (s *lateTokenStore) Get(key string) (string, bool) {
	if key == session.KeyToken {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.misses > 0 {
			s.misses--
			return "", false
		}
		return s.token, true
	}
	return s.MemoryStore.Get(key)
}

func newStudentFeed(api notify.API, alerter notify.Alerter) (*notify.Feed, *session.MemoryStore) {
	store := session.NewMemoryStore()
	store.Set(session.KeyToken, "tok")
	feed := notify.NewFeed(newTestLogger(), session.RoleStudent, store, api, alerter,
		notify.WithRetryDelay(time.Millisecond))
	return feed, store
}

func TestHydrateMapsServerRecords(t *testing.T) {
	api := &fakeAPI{list: []notify.ServerNotification{{
		ID:            7,
		Tipo:          "pago",
		Titulo:        "T",
		Mensaje:       "M",
		Leida:         false,
		FechaCreacion: "2024-01-01T00:00:00Z",
	}}}
	feed, _ := newStudentFeed(api, nil)

	feed.Hydrate(context.Background())

	records := feed.Records()
	if len(records) != 1 {
		t.Fatalf("feed has %d records, want 1", len(records))
	}
	r := records[0]
	if r.ID != "7" {
		t.Errorf("ID = %q, want stringified server id \"7\"", r.ID)
	}
	if r.Category != notify.CategoryPago {
		t.Errorf("Category = %q, want pago", r.Category)
	}
	if r.Read {
		t.Error("Read = true, want false")
	}
	if r.Link != "/estudiante/pagos" {
		t.Errorf("Link = %q, want /estudiante/pagos", r.Link)
	}
	if !r.CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v, want parsed fecha_creacion", r.CreatedAt)
	}
	if !feed.Hydrated() {
		t.Error("feed should report hydrated after a successful fetch")
	}
}

func TestLiveEventBuildsStudentTaskRecord(t *testing.T) {
	alerter := &fakeAlerter{granted: true}
	feed, _ := newStudentFeed(&fakeAPI{}, alerter)

	feed.HandleEvent("nueva_tarea", []byte(`{
		"titulo_tarea": "Ensayo",
		"curso_nombre": "Cosmetología",
		"fecha_entrega": "2024-03-01T10:00:00Z"
	}`))

	records := feed.Records()
	if len(records) != 1 {
		t.Fatalf("feed has %d records, want 1", len(records))
	}
	r := records[0]
	if r.Read {
		t.Error("live records arrive unread")
	}
	if r.Link != "/estudiante/tareas" {
		t.Errorf("Link = %q, want /estudiante/tareas", r.Link)
	}
	if !strings.Contains(r.Message, "Cosmetología") {
		t.Errorf("message %q must contain the course name", r.Message)
	}
	if !strings.Contains(r.Message, "01/03/2024 10:00") {
		t.Errorf("message %q must contain the formatted due date", r.Message)
	}
	if r.ID == "" {
		t.Error("live records need a synthesized id")
	}
	if len(r.Payload) == 0 {
		t.Error("original payload must be retained on the record")
	}
	if len(alerter.alerts) != 1 {
		t.Errorf("alerter fired %d times, want 1", len(alerter.alerts))
	}
}

func TestMarkAllReadIsOptimistic(t *testing.T) {
	for _, failing := range []bool{false, true} {
		name := "network ok"
		if failing {
			name = "network failure"
		}
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{}
			if failing {
				api.markErr = errors.New("boom")
			}
			feed, _ := newStudentFeed(api, nil)
			for i := 0; i < 3; i++ {
				feed.HandleEvent("nueva_tarea", []byte(`{"titulo_tarea":"x"}`))
			}
			if feed.UnreadCount() != 3 {
				t.Fatalf("UnreadCount = %d, want 3 before marking", feed.UnreadCount())
			}

			feed.MarkAllRead(context.Background())

			// Local state is applied regardless of the network outcome
			// and is never rolled back on failure.
			if feed.UnreadCount() != 0 {
				t.Errorf("UnreadCount = %d, want 0 immediately", feed.UnreadCount())
			}
			records := feed.Records()
			for _, r := range records {
				if !r.Read || r.ReadAt == nil {
					t.Errorf("record %s not marked read", r.ID)
				}
			}
			// Each record owns its ReadAt; writing through one pointer
			// must not bleed into the others.
			mutated := records[0].ReadAt.Add(time.Hour)
			*records[0].ReadAt = mutated
			if records[1].ReadAt.Equal(mutated) {
				t.Error("records share a ReadAt timestamp pointer")
			}
			if api.markCalls != 1 {
				t.Errorf("server PUT issued %d times, want 1", api.markCalls)
			}
		})
	}
}

func TestFeedCap(t *testing.T) {
	feed, _ := newStudentFeed(&fakeAPI{}, nil)

	for i := 0; i < notify.FeedCap+5; i++ {
		feed.HandleEvent("nueva_tarea", []byte(fmt.Sprintf(`{"titulo_tarea":"T%d"}`, i)))
	}

	records := feed.Records()
	if len(records) != notify.FeedCap {
		t.Fatalf("feed has %d records, want exactly %d", len(records), notify.FeedCap)
	}
	if records[0].Title != fmt.Sprintf("Nueva tarea: T%d", notify.FeedCap+4) {
		t.Errorf("newest record = %q, want the most recent event first", records[0].Title)
	}
	if records[len(records)-1].Title != "Nueva tarea: T5" {
		t.Errorf("oldest record = %q, want the oldest non-evicted event", records[len(records)-1].Title)
	}
}

func TestUnreadCountAlwaysMatchesRecords(t *testing.T) {
	api := &fakeAPI{list: []notify.ServerNotification{
		{ID: 1, Tipo: "pago", Leida: true, FechaCreacion: "2024-01-01T00:00:00Z"},
		{ID: 2, Tipo: "tarea", Leida: false, FechaCreacion: "2024-01-02T00:00:00Z"},
	}}
	feed, _ := newStudentFeed(api, nil)

	check := func(step string) {
		want := 0
		for _, r := range feed.Records() {
			if !r.Read {
				want++
			}
		}
		if got := feed.UnreadCount(); got != want {
			t.Errorf("%s: UnreadCount = %d, recomputation over the feed gives %d", step, got, want)
		}
	}

	check("empty")
	feed.Hydrate(context.Background())
	check("after hydration")
	feed.HandleEvent("nueva_tarea", []byte(`{"titulo_tarea":"x"}`))
	feed.HandleEvent("pago_aprobado", []byte(`{"monto":"50"}`))
	check("after live events")
	feed.MarkAllRead(context.Background())
	check("after mark all read")
	feed.HandleEvent("nueva_calificacion", []byte(`{"curso_nombre":"Belleza","nota":"9"}`))
	check("after another live event")
}

func TestHydrateWaitsForLateToken(t *testing.T) {
	api := &fakeAPI{list: []notify.ServerNotification{{ID: 1, Tipo: "general"}}}
	store := &lateTokenStore{MemoryStore: session.NewMemoryStore(), misses: 2, token: "tok"}
	feed := notify.NewFeed(newTestLogger(), session.RoleStudent, store, api, nil,
		notify.WithRetryDelay(time.Millisecond))

	feed.Hydrate(context.Background())

	if api.fetchCalls != 1 {
		t.Errorf("fetch issued %d times, want 1 once the token appeared", api.fetchCalls)
	}
	if len(feed.Records()) != 1 {
		t.Error("feed not hydrated after token became available")
	}
}

func TestHydrateGivesUpWithoutToken(t *testing.T) {
	api := &fakeAPI{}
	store := &lateTokenStore{MemoryStore: session.NewMemoryStore(), misses: 100}
	feed := notify.NewFeed(newTestLogger(), session.RoleStudent, store, api, nil,
		notify.WithRetryDelay(time.Millisecond))

	feed.Hydrate(context.Background())

	if api.fetchCalls != 0 {
		t.Errorf("fetch issued %d times without a token, want 0", api.fetchCalls)
	}
	if feed.Hydrated() {
		t.Error("feed must not report hydrated")
	}
}

// The token-availability loop is the only retry; a fetch failing for
// any other reason is logged once and left alone.
func TestHydrateFetchFailureIsNotRetried(t *testing.T) {
	api := &fakeAPI{fetchErr: errors.New("500")}
	feed, _ := newStudentFeed(api, nil)

	feed.Hydrate(context.Background())

	if api.fetchCalls != 1 {
		t.Errorf("fetch issued %d times, want exactly 1", api.fetchCalls)
	}
	if feed.Hydrated() || len(feed.Records()) != 0 {
		t.Error("failed hydration must leave the feed in its prior state")
	}
}

func TestHydrateReplacesFeedWholesale(t *testing.T) {
	api := &fakeAPI{list: []notify.ServerNotification{{ID: 3, Tipo: "pago"}}}
	feed, _ := newStudentFeed(api, nil)

	feed.HandleEvent("nueva_tarea", []byte(`{"titulo_tarea":"pre"}`))
	feed.Hydrate(context.Background())

	records := feed.Records()
	if len(records) != 1 || records[0].ID != "3" {
		t.Errorf("hydration must replace the in-memory feed, got %+v", records)
	}
}

func TestUnmatchedEventAndRoleAreNoOps(t *testing.T) {
	feed, _ := newStudentFeed(&fakeAPI{}, nil)
	feed.HandleEvent("evento_desconocido", []byte(`{}`))
	if len(feed.Records()) != 0 {
		t.Error("unmatched event name must be ignored")
	}

	store := session.NewMemoryStore()
	unknown := notify.NewFeed(newTestLogger(), session.RoleUnknown, store, &fakeAPI{}, nil)
	unknown.HandleEvent("nueva_tarea", []byte(`{"titulo_tarea":"x"}`))
	if len(unknown.Records()) != 0 {
		t.Error("unmatched role must be ignored")
	}
}

func TestLiveRecordTimestamps(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := session.NewMemoryStore()
	store.Set(session.KeyToken, "tok")
	feed := notify.NewFeed(newTestLogger(), session.RoleStudent, store, &fakeAPI{}, nil,
		notify.WithClock(func() time.Time { return fixed }))

	feed.HandleEvent("nueva_tarea", []byte(`{"titulo_tarea":"x"}`))

	records := feed.Records()
	if len(records) != 1 {
		t.Fatalf("feed has %d records, want 1", len(records))
	}
	if !records[0].CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want the injected clock value", records[0].CreatedAt)
	}
	if !strings.HasPrefix(records[0].ID, fmt.Sprintf("%d-", fixed.UnixMilli())) {
		t.Errorf("ID = %q, want time-based prefix with random suffix", records[0].ID)
	}
}

func TestAlerterPermissionGate(t *testing.T) {
	alerter := &fakeAlerter{granted: false}
	feed, _ := newStudentFeed(&fakeAPI{}, alerter)

	feed.HandleEvent("nueva_tarea", []byte(`{"titulo_tarea":"x"}`))
	if len(alerter.alerts) != 0 {
		t.Errorf("alert fired %d times without permission, want 0", len(alerter.alerts))
	}
	if len(feed.Records()) != 1 {
		t.Error("record must still be appended when alerts are not granted")
	}
}

func TestHandlersCoverRoleTable(t *testing.T) {
	feed, _ := newStudentFeed(&fakeAPI{}, nil)

	handlers := feed.Handlers()
	if len(handlers) == 0 {
		t.Fatal("student role must expose a handler table")
	}
	fn, ok := handlers["nueva_tarea"]
	if !ok {
		t.Fatal("nueva_tarea missing from the student handler table")
	}
	fn([]byte(`{"titulo_tarea":"Ensayo"}`))
	if len(feed.Records()) != 1 {
		t.Error("handler must route into the feed")
	}
}
