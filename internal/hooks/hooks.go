// Package hooks implements the Hook Ingestion Server (SPEC_FULL.md §4.4):
// the authenticated HTTP endpoint agent-side hook scripts post typed
// lifecycle events to. It exposes a small REST surface, with auth and
// rate-limiting factored into the internal/hookauth and internal/ratelimit
// packages rather than inlined per-handler.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/discode/discode/internal/bus"
	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/hookauth"
	"github.com/discode/discode/internal/pipeline"
	"github.com/discode/discode/internal/project"
	"github.com/discode/discode/internal/ratelimit"
)

// maxBodyBytes bounds the size of an /opencode-event request body
// (SPEC_FULL.md §4.4).
const maxBodyBytes = 256 * 1024

// rateLimitCapacity and rateLimitRefill are the token-bucket parameters for
// the per-source limiter (SPEC_FULL.md §4.4: "capacity 60, refill 60/s").
const (
	rateLimitCapacity = 60
	rateLimitRefill   = 60
)

// Config wires the server's dependencies together. ReloadFn is called by
// POST /reload and should re-read config.yaml and apply it to Projects
// (the project↔channel mapping) — supplied by the caller so this package
// doesn't need to know about internal/config.
type Config struct {
	Checker  *hookauth.Checker
	Limiter  *ratelimit.PerSource
	Projects *project.Registry
	Pipeline *pipeline.Pipeline
	Bus      *bus.Bus
	Logger   *slog.Logger
	ReloadFn func() error
}

// NewLimiter builds the per-source rate limiter at its fixed
// capacity/refill (SPEC_FULL.md §4.4).
func NewLimiter() *ratelimit.PerSource {
	return ratelimit.NewPerSource(rateLimitCapacity, rateLimitRefill)
}

// Server is the hook ingestion HTTP server.
type Server struct {
	cfg            Config
	authRejections atomic.Int64
	rateRejections atomic.Int64
}

// New builds a Server from cfg. Checker, Limiter, Projects, and Pipeline
// must be non-nil; Bus, Logger, and ReloadFn are optional.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Handler builds the routed http.Handler: /health and /metrics bypass auth
// entirely, /opencode-event and /reload require a valid bearer token. All
// other paths return 404 (SPEC_FULL.md §4.4).
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			s.handleHealth(w, r)
		case "/metrics":
			s.handleMetrics(w, r)
		case "/opencode-event":
			s.authorize(s.handleEvent)(w, r)
		case "/reload":
			s.authorize(s.handleReload)(w, r)
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	})
}

// authorize wraps next with a bearer-token check, counting rejections for
// /metrics (hookauth.Checker.Valid does the actual comparison).
func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Checker.Valid(r) {
			s.authRejections.Add(1)
			s.reject("auth", r)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// handleMetrics renders a Prometheus text-format snapshot of the counters
// named in SPEC_FULL.md §6: queue depth, dropped bus events, hook auth
// rejections, and rate-limit rejections.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var dropped int64
	var buckets int
	if s.cfg.Bus != nil {
		dropped = s.cfg.Bus.DroppedEventCount()
	}
	if s.cfg.Limiter != nil {
		buckets = s.cfg.Limiter.BucketCount()
	}

	fmt.Fprintf(w, "# HELP discode_bus_dropped_events_total Events dropped by the in-process bus due to a full subscriber buffer.\n")
	fmt.Fprintf(w, "# TYPE discode_bus_dropped_events_total counter\n")
	fmt.Fprintf(w, "discode_bus_dropped_events_total %d\n", dropped)
	fmt.Fprintf(w, "# HELP discode_ratelimit_sources Number of distinct rate-limit buckets currently tracked.\n")
	fmt.Fprintf(w, "# TYPE discode_ratelimit_sources gauge\n")
	fmt.Fprintf(w, "discode_ratelimit_sources %d\n", buckets)
	fmt.Fprintf(w, "# HELP discode_hook_auth_rejected_total Hook requests rejected for missing or invalid bearer token.\n")
	fmt.Fprintf(w, "# TYPE discode_hook_auth_rejected_total counter\n")
	fmt.Fprintf(w, "discode_hook_auth_rejected_total %d\n", s.authRejections.Load())
	fmt.Fprintf(w, "# HELP discode_hook_ratelimit_rejected_total Hook requests rejected by the per-source token bucket.\n")
	fmt.Fprintf(w, "# TYPE discode_hook_ratelimit_rejected_total counter\n")
	fmt.Fprintf(w, "discode_hook_ratelimit_rejected_total %d\n", s.rateRejections.Load())
}

// handleEvent implements POST /opencode-event (SPEC_FULL.md §4.4): body
// size check, JSON decode, project resolution, rate limit, and async
// dispatch onto the per-channel pipeline. Handler execution happens on the
// pipeline's own worker goroutine, entirely after this method returns 200.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.reject("size", r)
		http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
		return
	}

	ev, err := events.Decode(body)
	if err != nil {
		s.reject("json", r)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	if !s.cfg.Limiter.Allow(ev.ProjectName) {
		s.rateRejections.Add(1)
		s.reject("rate", r)
		w.Header().Set("Retry-After", "1")
		http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	proj, ok := s.cfg.Projects.Get(ev.ProjectName)
	if !ok {
		s.reject("project", r)
		http.Error(w, fmt.Sprintf(`{"error":"project %q not registered"}`, ev.ProjectName), http.StatusBadRequest)
		return
	}

	instanceKey := ev.InstanceKey()
	channelID := ""
	if inst, ok := proj.Instances[instanceKey]; ok {
		channelID = inst.ChannelID
	}

	ec := events.Context{
		Event:       ev,
		ProjectName: ev.ProjectName,
		ProjectPath: proj.ProjectPath,
		ChannelID:   channelID,
		AgentType:   ev.AgentType,
		InstanceKey: instanceKey,
	}

	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(bus.TopicHookAccepted, bus.HookAcceptedEvent{
			ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey,
			ChannelID: ec.ChannelID, EventType: string(ec.Event.Type),
		})
	}

	s.cfg.Pipeline.DispatchAsync(r.Context(), ec)

	w.WriteHeader(http.StatusOK)
}

// handleReload implements POST /reload: delegates to the caller-supplied
// ReloadFn, which re-reads config.yaml and applies it to the project
// registry (SPEC_FULL.md §6, §11.6 — also triggered by SIGHUP).
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.ReloadFn != nil {
		if err := s.cfg.ReloadFn(); err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) reject(reason string, r *http.Request) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(bus.TopicHookRejected, bus.HookRejectedEvent{
			Reason: reason, RemoteAddr: r.RemoteAddr,
		})
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug("hook request rejected", "reason", reason, "remote", r.RemoteAddr)
	}
}

// Serve starts the HTTP server on addr and blocks until ctx is cancelled,
// then shuts down gracefully within a bounded timeout.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
