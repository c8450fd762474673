package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/anthropic"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/config"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/ratelimit"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessionlog"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessions"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/todo"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/usage"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/version"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Current())
}

// sessionView is the /api/sessions element shape.
type sessionView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	MessageCount int               `json:"messageCount"`
	Created      time.Time         `json:"created,omitzero"`
	Modified     time.Time         `json:"modified"`
	ProjectPath  string            `json:"projectPath,omitempty"`
	Status       sessions.Status   `json:"status"`
	MinutesAgo   int               `json:"minutesAgo"`
	IsUnindexed  bool              `json:"isUnindexed,omitempty"`
	TokenUsage   sessionUsageView  `json:"tokenUsage"`
	Cost         float64           `json:"estimatedCost"`
}

type sessionUsageView struct {
	sessionlog.Totals
	TotalTokens int `json:"totalTokens"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	records := sessions.ReconcileAll(s.cfg.ProjectsDir())

	views := lo.Map(records, func(rec sessions.Record, _ int) sessionView {
		name := sessionlog.CleanPromptTitle(rec.FirstPrompt)
		if name == "" {
			name = "Untitled Session"
		}
		events := sessionlog.ReadUsageEvents(rec.LogPath)
		var totals sessionlog.Totals
		for _, e := range events {
			totals.Add(e)
		}
		return sessionView{
			ID:           rec.SessionID,
			Name:         name,
			MessageCount: rec.MessageCount,
			Created:      rec.CreatedAt,
			Modified:     rec.LastModifiedAt,
			ProjectPath:  rec.ProjectPath,
			Status:       rec.StatusAt(now),
			MinutesAgo:   int(now.Sub(rec.LastModifiedAt).Minutes()),
			IsUnindexed:  rec.IsUnindexed,
			TokenUsage:   sessionUsageView{Totals: totals, TotalTokens: totals.TotalTokens()},
			Cost:         s.table.CostOfAll(events),
		}
	})
	sort.Slice(views, func(i, j int) bool { return views[i].Modified.After(views[j].Modified) })
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTodos(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if uuid.Validate(sessionID) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid session id"})
		return
	}
	items := todo.MergeForSession(s.cfg.TodosDir(), sessionID)
	if items == nil {
		items = []todo.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.costs.Stats(time.Now()))
}

// rateLimitResponse combines the local estimate with the reconciled manual
// sync state.
type rateLimitResponse struct {
	usage.Estimate
	Ready             bool                  `json:"ready"`
	Synced            bool                  `json:"synced"`
	Sync              *ratelimit.SyncStatus `json:"sync,omitempty"`
	MessagesSinceSync *int                  `json:"messagesSinceSync,omitempty"`
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := rateLimitResponse{
		Estimate: s.window.Query(now),
		Ready:    s.window.Ready(),
	}
	if status, ok := s.syncer.Status(now); ok {
		resp.Synced = true
		resp.Sync = &status
	}
	// A caller tracking its own snapshot can ask for the delta since an
	// arbitrary timestamp (milliseconds since epoch).
	if raw := r.URL.Query().Get("syncedAt"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			n := s.window.MessagesSince(time.UnixMilli(ms))
			resp.MessagesSinceSync = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Percent int   `json:"percent"`
		ResetMs int64 `json:"resetMs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	now := time.Now()
	if err := s.syncer.Set(now, body.Percent, time.Duration(body.ResetMs)*time.Millisecond); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	status, _ := s.syncer.Status(now)
	s.hub.Broadcast("ratelimit")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sync": status})
}

func (s *Server) handleSyncClear(w http.ResponseWriter, _ *http.Request) {
	s.syncer.Clear()
	s.hub.Broadcast("ratelimit")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	cfg, ok := s.keys.Get()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"hasApiKey": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hasApiKey": true,
		"keyType":   cfg.KeyType,
		"maskedKey": cfg.Masked(),
		"updatedAt": cfg.UpdatedAt,
	})
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	cfg, err := s.keys.Set(body.APIKey)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidAPIKey) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"keyType":   cfg.KeyType,
		"maskedKey": cfg.Masked(),
	})
}

func (s *Server) handleConfigDelete(w http.ResponseWriter, _ *http.Request) {
	if err := s.keys.Delete(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVendorRateLimit(w http.ResponseWriter, r *http.Request) {
	info, err := s.vendor.RateLimit(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, vendorErrorPayload(err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleVendorUsage(w http.ResponseWriter, r *http.Request) {
	report, err := s.vendor.Usage(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, vendorErrorPayload(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// vendorErrorPayload distinguishes "no key", "key lacks privilege" and plain
// transport failure; numbers are never fabricated in their place.
func vendorErrorPayload(err error) map[string]any {
	code := "upstream_error"
	switch {
	case errors.Is(err, anthropic.ErrNoAPIKey):
		code = "no_key"
	case errors.Is(err, anthropic.ErrAdminKeyRequired):
		code = "admin_required"
	case errors.Is(err, anthropic.ErrNoRateLimitData):
		code = "no_data"
	}
	return map[string]any{"error": err.Error(), "code": code}
}
