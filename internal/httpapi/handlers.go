// Package httpapi bundles the operational HTTP surface: health probes, a
// Prometheus-style metrics endpoint, and the open-match listing used by
// lobby browsers.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"arenaclash/server/internal/broadcast"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/wire"
)

// RateLimiter gates how frequently the match listing may be scraped.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Clients     func() int
	Stats       func() match.Stats
	Broadcast   func() broadcast.Metrics
	OpenMatches func() []wire.MatchUpdate
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the arena server's operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	clients     func() int
	stats       func() match.Stats
	broadcast   func() broadcast.Metrics
	openMatches func() []wire.MatchUpdate
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		clients:     opts.Clients,
		stats:       opts.Stats,
		broadcast:   opts.Broadcast,
		openMatches: opts.OpenMatches,
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/matches", h.MatchListHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports the serving state with connection and match counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string      `json:"status"`
		UptimeSeconds float64     `json:"uptime_seconds"`
		Clients       int         `json:"clients"`
		Matches       match.Stats `json:"matches"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{
			Status:        "ok",
			UptimeSeconds: h.now().Sub(h.started).Seconds(),
		}
		if h.clients != nil {
			resp.Clients = h.clients()
		}
		if h.stats != nil {
			resp.Matches = h.stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(w, "# HELP arena_uptime_seconds Server uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE arena_uptime_seconds gauge\n")
		fmt.Fprintf(w, "arena_uptime_seconds %.0f\n", h.now().Sub(h.started).Seconds())

		if h.clients != nil {
			fmt.Fprintf(w, "# HELP arena_clients Current connected WebSocket clients.\n")
			fmt.Fprintf(w, "# TYPE arena_clients gauge\n")
			fmt.Fprintf(w, "arena_clients %d\n", h.clients())
		}
		if h.stats != nil {
			stats := h.stats()
			fmt.Fprintf(w, "# HELP arena_matches Current matches per lifecycle state.\n")
			fmt.Fprintf(w, "# TYPE arena_matches gauge\n")
			fmt.Fprintf(w, "arena_matches{state=\"waiting\"} %d\n", stats.Waiting)
			fmt.Fprintf(w, "arena_matches{state=\"active\"} %d\n", stats.Active)
			fmt.Fprintf(w, "arena_matches{state=\"finished\"} %d\n", stats.Finished)
		}
		if h.broadcast != nil {
			metrics := h.broadcast()
			fmt.Fprintf(w, "# HELP arena_frames_delivered_total Total frames delivered to clients.\n")
			fmt.Fprintf(w, "# TYPE arena_frames_delivered_total counter\n")
			fmt.Fprintf(w, "arena_frames_delivered_total %d\n", metrics.Delivered)
			fmt.Fprintf(w, "# HELP arena_frames_dropped_total Total frames dropped on slow or dead connections.\n")
			fmt.Fprintf(w, "# TYPE arena_frames_dropped_total counter\n")
			fmt.Fprintf(w, "arena_frames_dropped_total %d\n", metrics.Dropped)
		}
	}
}

// MatchListHandler serves the joinable public matches for lobby browsers.
func (h *HandlerSet) MatchListHandler() http.HandlerFunc {
	type response struct {
		Matches []wire.MatchUpdate `json:"matches"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		resp := response{Matches: []wire.MatchUpdate{}}
		if h.openMatches != nil {
			if open := h.openMatches(); open != nil {
				resp.Matches = open
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
