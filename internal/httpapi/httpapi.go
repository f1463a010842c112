// Package httpapi exposes the read-only query surface: health,
// latest/recent/paginated sessions, and two diagnostics endpoints.
// Grounded in original_source/src/adapters/api.rs's route
// table and response shapes, wired onto gorilla/mux + rs/cors.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/aj9599/keba-telemetry/internal/session"
	"github.com/aj9599/keba-telemetry/internal/storage"
)

const (
	defaultSessionsLimit = 50
	maxSessionsLimit     = 500
	defaultLogEventLimit = 100
	maxLogEventLimit     = 1000
	recentWindow         = 5 * time.Minute
)

// Router builds the HTTP surface over queries, CORS-wrapped.
func Router(queries session.QueryHandler, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	h := &handlers{queries: queries, log: log}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/sessions/latest", h.sessionsLatest).Methods(http.MethodGet)
	r.HandleFunc("/sessions/recent", h.sessionsRecent).Methods(http.MethodGet)
	r.HandleFunc("/sessions", h.sessionsList).Methods(http.MethodGet)
	r.HandleFunc("/diagnostics/db", h.diagnosticsDB).Methods(http.MethodGet)
	r.HandleFunc("/diagnostics/log-events", h.diagnosticsLogEvents).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)
}

type handlers struct {
	queries session.QueryHandler
	log     zerolog.Logger
}

// sessionView is the plain session shape returned by the three base
// session endpoints.
type sessionView struct {
	ID         string  `json:"id"`
	StartedAt  *string `json:"startedAt,omitempty"`
	FinishedAt string  `json:"finishedAt"`
	DurationMs int64   `json:"durationMs"`
	EnergyKWh  float64 `json:"kwh"`
}

func toSessionView(s storage.Session) sessionView {
	return sessionView{
		ID:         s.ID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		DurationMs: s.DurationMs,
		EnergyKWh:  s.EnergyKWh,
	}
}

// diagnosticsSessionView carries the session row, including the
// bookkeeping fields reserved for diagnostics consumers; the raw report
// snapshot columns are not included.
type diagnosticsSessionView struct {
	ID                      string  `json:"id"`
	StartedAt               *string `json:"startedAt,omitempty"`
	FinishedAt              string  `json:"finishedAt"`
	DurationMs              int64   `json:"durationMs"`
	EnergyKWh               float64 `json:"kwh"`
	Source                  string  `json:"source"`
	Status                  string  `json:"status"`
	StartedReason           string  `json:"startedReason"`
	FinishedReason          string  `json:"finishedReason"`
	PollIntervalMs          int64   `json:"pollIntervalMs"`
	DebounceSamples         int64   `json:"debounceSamples"`
	ErrorCountDuringSession int64   `json:"errorCountDuringSession"`
	StationID               *string `json:"stationId,omitempty"`
	CreatedAt               string  `json:"createdAt"`
}

func toDiagnosticsSessionView(s storage.Session) diagnosticsSessionView {
	return diagnosticsSessionView{
		ID: s.ID, StartedAt: s.StartedAt, FinishedAt: s.FinishedAt, DurationMs: s.DurationMs,
		EnergyKWh: s.EnergyKWh, Source: s.Source, Status: s.Status, StartedReason: s.StartedReason,
		FinishedReason: s.FinishedReason, PollIntervalMs: s.PollIntervalMs, DebounceSamples: s.DebounceSamples,
		ErrorCountDuringSession: s.ErrorCountDuringSession, StationID: s.StationID, CreatedAt: s.CreatedAt,
	}
}

type logEventView struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"createdAt"`
	Level       string  `json:"level"`
	Code        string  `json:"code"`
	Message     string  `json:"message"`
	Source      string  `json:"source"`
	StationID   *string `json:"stationId,omitempty"`
	DetailsJSON *string `json:"details,omitempty"`
}

func toLogEventView(e storage.LogEvent) logEventView {
	return logEventView{
		ID: e.ID, CreatedAt: e.CreatedAt, Level: e.Level, Code: e.Code, Message: e.Message,
		Source: e.Source, StationID: e.StationID, DetailsJSON: e.DetailsJSON,
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) sessionsLatest(w http.ResponseWriter, r *http.Request) {
	s, err := h.queries.GetLatestSession()
	if h.handleQueryError(w, err) {
		return
	}
	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sessions recorded yet"})
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(*s))
}

// sessionsRecent returns the most recently created session if its
// created_at falls within recentWindow of now, else 204 No Content —
// grounded in original_source/src/adapters/api.rs's recent-session window
// check, which relies on created_at's uniform ISO-8601 format for
// lexicographic comparison.
func (h *handlers) sessionsRecent(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UTC().Add(-recentWindow).Format("2006-01-02T15:04:05.000Z")
	s, err := h.queries.GetLatestSessionSince(cutoff)
	if h.handleQueryError(w, err) {
		return
	}
	if s == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(*s))
}

func (h *handlers) sessionsList(w http.ResponseWriter, r *http.Request) {
	limit := parseUintParam(r, "limit", defaultSessionsLimit, maxSessionsLimit)
	offset := parseUintParam(r, "offset", 0, 1<<31-1)

	sessions, err := h.queries.ListSessions(limit, offset)
	if h.handleQueryError(w, err) {
		return
	}

	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = toSessionView(s)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) diagnosticsDB(w http.ResponseWriter, r *http.Request) {
	version, err := h.queries.GetSchemaVersion()
	if h.handleQueryError(w, err) {
		return
	}
	sessionsCount, err := h.queries.CountSessions()
	if h.handleQueryError(w, err) {
		return
	}
	logEventsCount, err := h.queries.CountLogEvents()
	if h.handleQueryError(w, err) {
		return
	}
	latest, err := h.queries.GetLatestSession()
	if h.handleQueryError(w, err) {
		return
	}

	var latestView *diagnosticsSessionView
	if latest != nil {
		v := toDiagnosticsSessionView(*latest)
		latestView = &v
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schemaVersion":  version,
		"sessionsCount":  sessionsCount,
		"logEventsCount": logEventsCount,
		"latestSession":  latestView,
	})
}

func (h *handlers) diagnosticsLogEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseUintParam(r, "limit", defaultLogEventLimit, maxLogEventLimit)

	events, err := h.queries.ListRecentLogEvents(limit)
	if h.handleQueryError(w, err) {
		return
	}

	views := make([]logEventView, len(events))
	for i, e := range events {
		views[i] = toLogEventView(e)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) handleQueryError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, session.ErrLockPoisoned) {
		h.log.Error().Err(err).Msg("query rejected: database lock poisoned")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database unavailable"})
		return true
	}
	h.log.Error().Err(err).Msg("query failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	return true
}

func parseUintParam(r *http.Request, name string, fallback, max uint32) uint32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fallback
	}
	if uint32(parsed) > max {
		return max
	}
	return uint32(parsed)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
