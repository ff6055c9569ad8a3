package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orionwa/dispatch/internal/dispatch"
	"github.com/orionwa/dispatch/internal/model"
	"github.com/orionwa/dispatch/internal/repo"
)

type fakeDispatcher struct {
	running      bool
	snap         dispatch.Snapshot
	gotInterval  time.Duration
	startCalled  bool
	stopCalled   bool
	appliedValue time.Duration
}

var _ Dispatcher = (*fakeDispatcher)(nil)

func (f *fakeDispatcher) Start() bool {
	f.startCalled = true
	f.running = true
	return true
}

func (f *fakeDispatcher) Stop() bool {
	f.stopCalled = true
	f.running = false
	return true
}

func (f *fakeDispatcher) IsRunning() bool { return f.running }

func (f *fakeDispatcher) SetInterval(d time.Duration) time.Duration {
	f.gotInterval = d
	if f.appliedValue != 0 {
		return f.appliedValue
	}
	return d
}

func (f *fakeDispatcher) Status() dispatch.Snapshot { return f.snap }

type fakeRepo struct {
	gotLimit  int
	gotOffset int

	sentItems    []model.Message
	pendingItems []model.Message
	stats        repo.QueueStats
	err          error
}

var _ repo.MessageRepository = (*fakeRepo)(nil)

func (f *fakeRepo) FetchPending(ctx context.Context, limit int) ([]model.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRepo) MarkSent(ctx context.Context, id int64) error {
	return errors.New("not implemented")
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id int64) error {
	return errors.New("not implemented")
}

func (f *fakeRepo) ListSent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	f.gotLimit = limit
	f.gotOffset = offset
	return f.sentItems, f.err
}

func (f *fakeRepo) ListPending(ctx context.Context, limit, offset int) ([]model.Message, error) {
	return f.pendingItems, f.err
}

func (f *fakeRepo) Stats(ctx context.Context) (repo.QueueStats, error) {
	return f.stats, f.err
}

type fakeLogs struct{ lines []string }

func (f *fakeLogs) History() []string { return f.lines }

func newTestServer(t *testing.T, d Dispatcher, r repo.MessageRepository, token string) http.Handler {
	t.Helper()
	return Router(NewHandler(d, r, &fakeLogs{lines: []string{"[10:00:00] started"}}, token))
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var decoded map[string]any
	if ct := rr.Header().Get("Content-Type"); strings.Contains(ct, "application/json") {
		_ = json.Unmarshal(rr.Body.Bytes(), &decoded)
	}
	return rr, decoded
}

func TestDispatcherStatus(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := &fakeDispatcher{
		running: true,
		snap: dispatch.Snapshot{
			Running:     true,
			Interval:    10 * time.Second,
			NextCheck:   4 * time.Second,
			SessionSent: 7,
			LastLog:     "[10:00:01] message sent",
		},
	}
	r := &fakeRepo{
		stats: repo.QueueStats{TotalSent: 120, Pending: 3},
		sentItems: []model.Message{
			{ID: 1, Recipient: "905321234567", Status: model.Sent, QueuedAt: now},
		},
		pendingItems: []model.Message{
			{ID: 2, Recipient: "905321234568", Status: model.Pending, QueuedAt: now, Attachment: "JVBERi0..."},
		},
	}

	rr, got := doJSON(t, newTestServer(t, d, r, ""), http.MethodGet, "/v1/dispatcher/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	if got["running"] != true {
		t.Fatalf("running = %v, want true", got["running"])
	}
	if got["interval"] != float64(10000) {
		t.Fatalf("interval = %v, want 10000", got["interval"])
	}
	if got["nextCheck"] != float64(4000) {
		t.Fatalf("nextCheck = %v, want 4000", got["nextCheck"])
	}
	if got["sessionSent"] != float64(7) {
		t.Fatalf("sessionSent = %v, want 7", got["sessionSent"])
	}
	if got["lastLog"] != "[10:00:01] message sent" {
		t.Fatalf("lastLog = %v", got["lastLog"])
	}

	stats, ok := got["stats"].(map[string]any)
	if !ok || stats["totalSent"] != float64(120) || stats["pending"] != float64(3) {
		t.Fatalf("unexpected stats: %v", got["stats"])
	}

	lists, ok := got["lists"].(map[string]any)
	if !ok {
		t.Fatalf("missing lists: %v", got)
	}
	pending, ok := lists["pending"].([]any)
	if !ok || len(pending) != 1 {
		t.Fatalf("unexpected pending list: %v", lists["pending"])
	}
	row := pending[0].(map[string]any)
	if row["hasAttachment"] != true {
		t.Fatalf("expected hasAttachment true, got %v", row)
	}
}

func TestDispatcherStartStop(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	h := newTestServer(t, d, &fakeRepo{}, "")

	rr, got := doJSON(t, h, http.MethodPost, "/v1/dispatcher/start", "")
	if rr.Code != http.StatusOK || !d.startCalled {
		t.Fatalf("start: code=%d called=%v", rr.Code, d.startCalled)
	}
	if got["running"] != true {
		t.Fatalf("start response running = %v", got["running"])
	}

	rr, got = doJSON(t, h, http.MethodPost, "/v1/dispatcher/stop", "")
	if rr.Code != http.StatusOK || !d.stopCalled {
		t.Fatalf("stop: code=%d called=%v", rr.Code, d.stopCalled)
	}
	if got["running"] != false {
		t.Fatalf("stop response running = %v", got["running"])
	}
}

func TestDispatcherInterval(t *testing.T) {
	t.Parallel()

	t.Run("applies and echoes clamped value", func(t *testing.T) {
		t.Parallel()

		d := &fakeDispatcher{appliedValue: time.Second}
		h := newTestServer(t, d, &fakeRepo{}, "")

		rr, got := doJSON(t, h, http.MethodPost, "/v1/dispatcher/interval", `{"ms": 500}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d, want 200", rr.Code)
		}
		if d.gotInterval != 500*time.Millisecond {
			t.Fatalf("dispatcher got %v, want 500ms", d.gotInterval)
		}
		if got["interval"] != float64(1000) {
			t.Fatalf("interval = %v, want clamped 1000", got["interval"])
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, &fakeDispatcher{}, &fakeRepo{}, "")

		for _, body := range []string{`{"ms": 0}`, `{"ms": -5}`, `not json`} {
			rr, _ := doJSON(t, h, http.MethodPost, "/v1/dispatcher/interval", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("body %q: code = %d, want 400", body, rr.Code)
			}
		}
	})
}

func TestListSentMessages_PagingAndErrors(t *testing.T) {
	t.Parallel()

	t.Run("forwards paging params", func(t *testing.T) {
		t.Parallel()

		r := &fakeRepo{sentItems: []model.Message{{ID: 9, Status: model.Sent}}}
		h := newTestServer(t, &fakeDispatcher{}, r, "")

		rr, got := doJSON(t, h, http.MethodGet, "/v1/messages/sent?limit=10&offset=20", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d", rr.Code)
		}
		if r.gotLimit != 10 || r.gotOffset != 20 {
			t.Fatalf("paging = (%d,%d), want (10,20)", r.gotLimit, r.gotOffset)
		}
		items := got["items"].([]any)
		if len(items) != 1 {
			t.Fatalf("items = %v", got["items"])
		}
	})

	t.Run("store error becomes 500", func(t *testing.T) {
		t.Parallel()

		r := &fakeRepo{err: errors.New("db down")}
		h := newTestServer(t, &fakeDispatcher{}, r, "")

		rr, _ := doJSON(t, h, http.MethodGet, "/v1/messages/sent", "")
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("code = %d, want 500", rr.Code)
		}
	})
}

func TestLogsEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, &fakeDispatcher{}, &fakeRepo{}, "")

	rr, got := doJSON(t, h, http.MethodGet, "/v1/logs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	lines := got["lines"].([]any)
	if len(lines) != 1 || lines[0] != "[10:00:00] started" {
		t.Fatalf("unexpected lines: %v", got["lines"])
	}
}

func TestTokenMiddleware(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, &fakeDispatcher{}, &fakeRepo{}, "hunter2")

	t.Run("health is exempt", func(t *testing.T) {
		t.Parallel()

		rr, _ := doJSON(t, h, http.MethodGet, "/v1/health", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d, want 200", rr.Code)
		}
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		t.Parallel()

		rr, _ := doJSON(t, h, http.MethodGet, "/v1/dispatcher/status", "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("code = %d, want 403", rr.Code)
		}
	})

	t.Run("valid token passes", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/v1/dispatcher/status", nil)
		req.Header.Set("X-API-Token", "hunter2")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d, want 200", rr.Code)
		}
	})
}
