// Package api is the HTTP control surface: tracking management, sweep
// triggers, sort and alert configuration, and queue introspection.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/config"
	"github.com/akagifreeez/donut-orders/internal/history"
	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/orderconfig"
	"github.com/akagifreeez/donut-orders/internal/sweep"
	"github.com/akagifreeez/donut-orders/internal/tracker"
)

// Server bundles the API's collaborators.
type Server struct {
	cfg     *config.Config
	sched   *tracker.Scheduler
	sweeper *sweep.Sweeper
	prefs   *orderconfig.Store
	alerts  *history.Alerter
	prices  *history.Prices
	started time.Time
}

// NewServer returns an API server over the given collaborators.
func NewServer(cfg *config.Config, sched *tracker.Scheduler, sweeper *sweep.Sweeper, prefs *orderconfig.Store, alerts *history.Alerter, prices *history.Prices) *Server {
	return &Server{
		cfg:     cfg,
		sched:   sched,
		sweeper: sweeper,
		prefs:   prefs,
		alerts:  alerts,
		prices:  prices,
		started: time.Now(),
	}
}

// Router builds the chi router with the full endpoint set.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsAll)

	r.Get("/health", s.handleHealth)
	r.Get("/queue", s.handleQueue)
	r.Post("/track", s.handleTrack)
	r.Post("/track-once", s.handleTrackOnce)
	r.Post("/untrack", s.handleUntrack)
	r.Post("/alias", s.handleAlias)
	r.Post("/say", s.handleSay)
	r.Get("/search-all", s.handleSweepStatus)
	r.Post("/search-all", s.handleSweepRequest)
	r.Get("/order-config", s.handleGetOrderConfig)
	r.Post("/order-config", s.handleSetOrderConfig)
	r.Get("/alerts", s.handleGetAlerts)
	r.Post("/alerts", s.handleSetAlerts)
	r.Get("/history", s.handleHistory)

	return r
}

// corsAll leaves the API wide open; it binds to an operator-controlled host.
func corsAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	payload := map[string]any{"ok": true}
	for k, v := range fields {
		payload[k] = v
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"environment": s.cfg.Environment,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	st := s.sched.Status()
	writeOK(w, map[string]any{
		"tracked":        st.Tracked,
		"items":          st.Items,
		"aliases":        st.Aliases,
		"pending":        st.Pending,
		"current":        st.Current,
		"queuedMessages": st.ChatHeld,
		"sweep":          s.sweeper.Status(),
	})
}

// trackRequest accepts both the productKey/commandName field names and the
// older product/command spellings.
type trackRequest struct {
	ProductKey  string `json:"productKey"`
	CommandName string `json:"commandName"`
	Product     string `json:"product"`
	Command     string `json:"command"`
	IntervalMs  int64  `json:"intervalMs"`
}

func (r trackRequest) product() string {
	if r.ProductKey != "" {
		return r.ProductKey
	}
	return r.Product
}

func (r trackRequest) command() string {
	if r.CommandName != "" {
		return r.CommandName
	}
	return r.Command
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.product() == "" {
		writeErr(w, http.StatusBadRequest, "productKey required")
		return
	}
	p := s.sched.Track(req.product(), req.command(), time.Duration(req.IntervalMs)*time.Millisecond)
	writeOK(w, map[string]any{"tracked": p})
}

func (s *Server) handleTrackOnce(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.product() == "" {
		writeErr(w, http.StatusBadRequest, "productKey required")
		return
	}
	key := s.sched.TrackOnce(req.product(), req.command())
	writeOK(w, map[string]any{"product": key})
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.product() == "" {
		writeErr(w, http.StatusBadRequest, "productKey required")
		return
	}
	writeOK(w, map[string]any{"removed": s.sched.Untrack(req.product())})
}

func (s *Server) handleAlias(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.product() == "" {
		writeErr(w, http.StatusBadRequest, "productKey required")
		return
	}
	writeOK(w, map[string]any{"command": s.sched.SetAlias(req.product(), req.command())})
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	msg := s.sched.Say(req.Message)
	if msg == "" {
		writeErr(w, http.StatusBadRequest, "message required")
		return
	}
	writeOK(w, map[string]any{"message": msg})
}

func (s *Server) handleSweepStatus(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{"sweep": s.sweeper.Status()})
}

func (s *Server) handleSweepRequest(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{"sweep": s.sweeper.Request()})
}

func (s *Server) handleGetOrderConfig(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{
		"config":  s.prefs.Get(),
		"options": navigator.SortKeys(),
	})
}

func (s *Server) handleSetOrderConfig(w http.ResponseWriter, r *http.Request) {
	var req orderconfig.Config
	if !decodeBody(w, r, &req) {
		return
	}
	cfg, err := s.prefs.Set(req)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, map[string]any{
		"config":  cfg,
		"options": navigator.SortKeys(),
	})
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, _ *http.Request) {
	cfg := s.alerts.Config()
	writeOK(w, map[string]any{"webhookUrl": cfg.WebhookURL, "rules": cfg.Rules})
}

func (s *Server) handleSetAlerts(w http.ResponseWriter, r *http.Request) {
	var req history.Config
	if !decodeBody(w, r, &req) {
		return
	}
	cfg, err := s.alerts.SetConfig(req)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, map[string]any{"webhookUrl": cfg.WebhookURL, "rules": cfg.Rules})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]any{"stats": s.prices.Stats(time.Now())})
}
