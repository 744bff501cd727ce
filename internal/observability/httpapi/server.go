// Package httpapi serves health, metrics, read-only controller state and
// optional pprof endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"valvectl/internal/irrigation"
	rtsup "valvectl/internal/runtime/supervisor"
	"valvectl/internal/storage"
	logx "valvectl/pkg/logx"
)

// Config controls the optional HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// StaleAfter fails /healthz when the control loop has not ticked for
	// this long.
	StaleAfter time.Duration
}

// Source is the read side of the control loop.
type Source interface {
	Status() irrigation.Status
	Schedules() []irrigation.Schedule
	LastTick() time.Time
}

// SessionLog serves /api/sessions. Optional.
type SessionLog interface {
	RecentSessions(ctx context.Context, limit int) ([]storage.SessionEntry, error)
}

type Deps struct {
	Source   Source
	Sessions SessionLog
	Metrics  http.Handler
}

type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	deps Deps

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "http"))}
}

// Addr returns the bound address while serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the server as
// needed. Safe during hot reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent.
func (s *Server) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		// optional surface; never takes the controller down
		s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
		return
	}
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("http server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:8089"
	}
	// no accidental public exposure without auth
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("http refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return errors.New("http refused to start: insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.Handler(cur),
		ReadTimeout:       cur.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cur.WriteTimeout,
		IdleTimeout:       cur.IdleTimeout,
	}

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cur.Token != ""),
		logx.Bool("pprof", cur.Pprof),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.ln, s.srv = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// Handler builds the route table for cfg.
func (s *Server) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler { return withAuth(cfg.Token, h) }

	mux.Handle("GET /healthz", wrap(s.healthz(cfg.StaleAfter)))
	mux.Handle("GET /api/status", wrap(s.status))
	mux.Handle("GET /api/schedules", wrap(s.schedules))
	mux.Handle("GET /api/sessions", wrap(s.sessions))
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", wrap(s.deps.Metrics.ServeHTTP))
	}
	if cfg.Pprof {
		mux.Handle("/debug/pprof/", wrap(hpprof.Index))
		mux.Handle("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.Handle("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.Handle("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.Handle("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func (s *Server) healthz(staleAfter time.Duration) http.HandlerFunc {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		last := s.deps.Source.LastTick()
		if last.IsZero() || time.Since(last) > staleAfter {
			http.Error(w, "control loop stalled", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Source.Status())
}

type scheduleItem struct {
	Index int `json:"index"`
	irrigation.Schedule
	At   string `json:"at"`
	Days string `json:"days"`
}

func (s *Server) schedules(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "1"
	list := s.deps.Source.Schedules()
	out := make([]scheduleItem, 0, len(list))
	for i, sc := range list {
		if !sc.Enabled && !all {
			continue
		}
		out = append(out, scheduleItem{Index: i, Schedule: sc, At: sc.At(), Days: sc.Weekdays.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		http.Error(w, "session journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	entries, err := s.deps.Sessions.RecentSessions(r.Context(), limit)
	if err != nil {
		s.log.Warn("session journal read failed", logx.Err(err))
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if entries == nil {
		entries = []storage.SessionEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Authorization: Bearer <token> or ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
