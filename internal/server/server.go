// Package server exposes the public query surface and the allow-list-gated
// admin surface over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/harborlab/tidegate/internal/admin"
	"github.com/harborlab/tidegate/internal/appeal"
	"github.com/harborlab/tidegate/internal/geo"
	"github.com/harborlab/tidegate/internal/identity"
	"github.com/harborlab/tidegate/internal/ledger"
	"github.com/harborlab/tidegate/internal/planner"
	"github.com/harborlab/tidegate/internal/rle"
	"github.com/harborlab/tidegate/internal/sampler"
	"github.com/harborlab/tidegate/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Charges are the per-surface strike costs.
type Charges struct {
	BaseCheck     float64
	Snapshot      float64
	Dashboard     float64
	BannedSurface float64
	Appeal        float64
	InternalError float64
}

// BanParams shape administrative bans.
type BanParams struct {
	BaseStrikes  float64
	ExtraStrikes float64 // per "!" appended to the admin password field
	Cooldown     time.Duration
}

// Options wires a Server.
type Options struct {
	ListenAddr  string
	MetricsAddr string
	Metrics     bool

	Store      storage.Store
	Ledger     *ledger.Ledger
	Policy     ledger.Policy
	Planner    planner.Config
	Codec      rle.Codec
	Sampler    *sampler.Sampler
	Oracle     geo.Oracle
	Appeals    *appeal.Service
	Challenges *admin.Challenges // nil disables mutating admin routes
	Charges    Charges

	Ban             BanParams
	JanitorInterval time.Duration

	Log zerolog.Logger
}

// Server handles the HTTP surfaces and owns the janitor.
type Server struct {
	opts Options
	log  zerolog.Logger
}

// New constructs a Server.
func New(opts Options) *Server {
	return &Server{opts: opts, log: opts.Log}
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withIdentity)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/check", s.handleCheck)
	r.Get("/check-my-ip", s.handleCheckMyIP)
	r.Get("/banned", s.handleBanned)
	r.Get("/appeal", s.handleAppealInfo)
	r.Post("/appeal", s.handleAppealSubmit)
	r.Get("/dashboard", s.handleDashboard)

	r.Post("/ban", s.handleBan)
	r.Post("/unban", s.handleUnban)
	r.Post("/appeals/delete", s.handleAppealDelete)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	return r
}

// Run starts the API server, the metrics server, and the janitor, blocking
// until ctx is cancelled or a listener fails.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := newGroup(ctx)

	g.Go(func() error {
		return s.serve(gctx, s.opts.ListenAddr, s.Routes(), "api")
	})

	if s.opts.Metrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return s.serve(gctx, s.opts.MetricsAddr, mux, "metrics")
		})
	}

	janitor := NewJanitor(s.opts.Store, s.opts.Ledger, s.opts.Challenges,
		s.opts.JanitorInterval, s.log)
	g.Go(func() error {
		return janitor.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) serve(ctx context.Context, addr string, handler http.Handler, name string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info().Str("addr", addr).Msgf("%s server started", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// ---- middleware ------------------------------------------------------------

type ctxKey int

const identityKey ctxKey = iota

// withIdentity derives the caller identity once per request.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromRequest(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(identityKey).(string)
	return id
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("identity", callerID(r)).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// recoverer converts panics into charged internal errors. Repeatedly
// triggering internal failures is itself an abuse vector, so the penalty is
// applied before responding.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				id := callerID(r)
				s.log.Error().Str("identity", id).Interface("panic", rec).Msg("handler panic")
				s.chargeInternal(id)
				writeError(w, http.StatusInternalServerError, "P500", "something went wrong")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) chargeInternal(id string) {
	if _, err := s.opts.Ledger.Charge(id, s.opts.Charges.InternalError, "internal_error"); err != nil {
		s.log.Warn().Err(err).Str("identity", id).Msg("failed to charge internal-error penalty")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
