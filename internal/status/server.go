// Package status serves the local observability surface: liveness,
// JSON state endpoints, sink management and a live event feed over
// WebSocket.
package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"watchhound/internal/bridge"
	"watchhound/internal/bus"
	"watchhound/internal/events"
	"watchhound/internal/notify"
	"watchhound/internal/store"
)

// StatsSource exposes one monitor's counters under a name.
type StatsSource interface {
	Stats() map[string]any
}

// Config tunes the status server.
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string
	// Password guards the /api and /ws surface via basic auth. Empty
	// disables auth.
	Password string
}

// Server is the embedded status HTTP server.
type Server struct {
	cfg      Config
	bus      *bus.Bus
	db       *sql.DB
	hub      *Hub
	started  time.Time
	monitors map[string]StatsSource
	httpSrv  *http.Server

	mu       sync.Mutex
	degraded string
}

func NewServer(cfg Config, b *bus.Bus, db *sql.DB, hub *Hub) *Server {
	return &Server{
		cfg:      cfg,
		bus:      b,
		db:       db,
		hub:      hub,
		started:  time.Now().UTC(),
		monitors: make(map[string]StatsSource),
	}
}

// AddMonitor registers a monitor's counters under name for /api/status.
func (s *Server) AddMonitor(name string, src StatsSource) {
	s.monitors[name] = src
}

// MonitorDigest flattens every monitor's counters into string metadata,
// keyed "monitor.field".
func (s *Server) MonitorDigest() map[string]string {
	out := make(map[string]string)
	for name, src := range s.monitors {
		for k, v := range src.Stats() {
			switch t := v.(type) {
			case float64:
				out[name+"."+k] = strconv.FormatFloat(t, 'f', 1, 64)
			default:
				out[name+"."+k] = fmt.Sprintf("%v", v)
			}
		}
	}
	return out
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Printf("status: listening on %s", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.CloseAll()
	}
	if err := s.httpSrv.Shutdown(shutCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(basicAuth(s.cfg.Password))

		r.Get("/api/status", s.handleStatus)
		r.Get("/api/events", s.handleEvents)
		r.Get("/api/history", s.handleHistory)

		r.Get("/api/notifiers", s.handleListNotifiers)
		r.Post("/api/notifiers", s.handleCreateNotifier)
		r.Delete("/api/notifiers/{name}", s.handleDeleteNotifier)

		if s.hub != nil {
			r.Get("/ws", s.hub.ServeWS)
		}
	})
	return r
}

// SetDegraded marks the process unhealthy with a reason; an empty
// reason clears the condition.
func (s *Server) SetDegraded(reason string) {
	s.mu.Lock()
	s.degraded = reason
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reason := s.degraded
	s.mu.Unlock()

	body := map[string]any{
		"status": "healthy",
		"uptime": bridge.FormatUptime(time.Since(s.started)),
	}
	if reason != "" {
		body["status"] = "unhealthy"
		body["reason"] = reason
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	bs := s.bus.GetStatus()

	mon := make(map[string]any, len(s.monitors))
	for name, src := range s.monitors {
		mon[name] = src.Stats()
	}

	resp := map[string]any{
		"uptime":      bridge.FormatUptime(time.Since(s.started)),
		"started_at":  s.started.Format(time.RFC3339),
		"notifiers":   bs.Notifiers,
		"history_len": bs.HistoryLen,
		"monitors":    mon,
	}
	if bs.LastEvent != nil {
		resp["last_event"] = bs.LastEvent.JSON()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "limit", 50)
	recent := s.bus.Recent(n)

	out := make([]map[string]any, 0, len(recent))
	for _, e := range recent {
		out = append(out, e.JSON())
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "delivery history store not configured")
		return
	}
	n := queryInt(r, "limit", 100)
	recs, err := store.RecentDeliveries(s.db, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": recs})
}

func (s *Server) handleListNotifiers(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "sink store not configured")
		return
	}
	list, err := store.ListNotifiers(s.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifiers": list})
}

func (s *Server) handleCreateNotifier(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "sink store not configured")
		return
	}

	var spec notify.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if spec.Name == "" || spec.Type == "" {
		writeError(w, http.StatusBadRequest, "name and type are required")
		return
	}

	// Build first so a broken config never reaches the store or the bus.
	n, err := notify.Build(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfgJSON, err := json.Marshal(spec.Settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = store.UpsertNotifier(s.db, &store.NotifierSetting{
		Name:        spec.Name,
		SinkType:    spec.Type,
		ConfigJSON:  string(cfgJSON),
		MinSeverity: spec.MinSeverity,
		Enabled:     !spec.Disabled,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Register(n)

	s.bus.Emit(events.New(events.SeverityInfo, events.CategoryRegistration,
		"notifier "+spec.Name+" registered").WithSource("status"))
	writeJSON(w, http.StatusCreated, map[string]any{"name": spec.Name})
}

func (s *Server) handleDeleteNotifier(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "sink store not configured")
		return
	}
	name := chi.URLParam(r, "name")

	if err := store.DeleteNotifierByName(s.db, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such notifier")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Unregister(name)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("status: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
