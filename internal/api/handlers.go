package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/orionwa/dispatch/internal/dispatch"
	"github.com/orionwa/dispatch/internal/model"
	"github.com/orionwa/dispatch/internal/repo"
)

// listLimit caps the recent/oldest message lists in the status payload.
const listLimit = 5

// Dispatcher is the control surface the HTTP layer drives.
type Dispatcher interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	SetInterval(time.Duration) time.Duration
	Status() dispatch.Snapshot
}

// LogSource exposes the retained log history.
type LogSource interface {
	History() []string
}

type Handler struct {
	disp     Dispatcher
	repo     repo.MessageRepository
	logs     LogSource
	apiToken string
}

func NewHandler(d Dispatcher, r repo.MessageRepository, logs LogSource, apiToken string) *Handler {
	return &Handler{disp: d, repo: r, logs: logs, apiToken: apiToken}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type messageView struct {
	ID            int64      `json:"id"`
	Recipient     string     `json:"recipient"`
	Status        string     `json:"status"`
	HasAttachment bool       `json:"hasAttachment"`
	QueuedAt      time.Time  `json:"queuedAt"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
}

func toViews(msgs []model.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{
			ID:            m.ID,
			Recipient:     m.Recipient,
			Status:        m.Status.String(),
			HasAttachment: m.Attachment != "",
			QueuedAt:      m.QueuedAt,
			SentAt:        m.SentAt,
		})
	}
	return out
}

func (h *Handler) DispatcherStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.disp.Status()

	payload := map[string]any{
		"running":     snap.Running,
		"interval":    snap.Interval.Milliseconds(),
		"nextCheck":   snap.NextCheck.Milliseconds(),
		"sessionSent": snap.SessionSent,
		"lastLog":     snap.LastLog,
	}

	// Stats and lists are best-effort decoration; a store hiccup must not
	// take the status endpoint down with it.
	if stats, err := h.repo.Stats(r.Context()); err == nil {
		payload["stats"] = map[string]any{
			"totalSent": stats.TotalSent,
			"pending":   stats.Pending,
		}
	}
	lists := map[string]any{}
	if sent, err := h.repo.ListSent(r.Context(), listLimit, 0); err == nil {
		lists["sent"] = toViews(sent)
	}
	if pending, err := h.repo.ListPending(r.Context(), listLimit, 0); err == nil {
		lists["pending"] = toViews(pending)
	}
	payload["lists"] = lists

	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) DispatcherStart(w http.ResponseWriter, r *http.Request) {
	h.disp.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.disp.IsRunning()})
}

func (h *Handler) DispatcherStop(w http.ResponseWriter, r *http.Request) {
	h.disp.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.disp.IsRunning()})
}

type intervalRequest struct {
	MS int64 `json:"ms"`
}

func (h *Handler) DispatcherInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.MS <= 0 {
		http.Error(w, "ms must be > 0", http.StatusBadRequest)
		return
	}

	applied := h.disp.SetInterval(time.Duration(req.MS) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{"interval": applied.Milliseconds()})
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListSent(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": toViews(items)})
}

func (h *Handler) ListPendingMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.repo.ListPending(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": toViews(items)})
}

func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	var lines []string
	if h.logs != nil {
		lines = h.logs.History()
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
