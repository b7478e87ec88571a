package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/newthinker/switchboard/internal/api/response"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/usage"
	"github.com/newthinker/switchboard/internal/usage/history"
)

// UsageHandler exposes usage counters and the attempt history.
type UsageHandler struct {
	tracker *usage.Tracker
	history history.Store
}

// NewUsageHandler creates a usage handler. store may be nil.
func NewUsageHandler(tracker *usage.Tracker, store history.Store) *UsageHandler {
	return &UsageHandler{tracker: tracker, history: store}
}

// Get returns the current usage snapshot.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.tracker.Snapshot())
}

// Flush writes the snapshot to storage.
func (h *UsageHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if !h.tracker.Persistent() {
		response.Error(w, http.StatusConflict,
			core.WrapError(core.ErrConfigMissing, fmt.Errorf("no usage storage configured")))
		return
	}
	if err := h.tracker.Flush(r.Context()); err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"flushed": true,
		"key":     h.tracker.Key(),
	})
}

// Reset zeroes the counters and deletes the stored snapshot.
func (h *UsageHandler) Reset(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.tracker.Clear(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"reset":   true,
		"deleted": deleted,
	})
}

// History returns recent attempt records and their totals. Query
// parameters: provider, limit, since (RFC 3339 time or a duration such as
// 24h).
func (h *UsageHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		response.Error(w, http.StatusNotFound,
			core.WrapError(core.ErrNotFound, fmt.Errorf("usage history disabled")))
		return
	}

	f, err := parseFilter(r, time.Now())
	if err != nil {
		response.Fail(w, err)
		return
	}

	records, err := h.history.Recent(r.Context(), f)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	totals, err := h.history.Totals(r.Context(), f.Since)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"records": records,
		"totals":  totals,
	})
}

func parseFilter(r *http.Request, now time.Time) (history.Filter, error) {
	q := r.URL.Query()
	f := history.Filter{Provider: q.Get("provider"), Limit: 100}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, core.WrapError(core.ErrInvalidRequest, fmt.Errorf("invalid limit %q", v))
		}
		f.Limit = n
	}

	if v := q.Get("since"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			f.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = t
		} else {
			return f, core.WrapError(core.ErrInvalidRequest, fmt.Errorf("invalid since %q", v))
		}
	}
	return f, nil
}
