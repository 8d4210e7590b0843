package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/store"
)

// Config holds HTTP server settings.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// MetricsFunc returns the health snapshot served at /v1/metrics.
type MetricsFunc func(ctx context.Context) (any, error)

// Server is the HTTP trigger surface.
type Server struct {
	cfg     Config
	runner  *Runner
	store   store.Store
	metrics MetricsFunc
}

// New creates a Server.
func New(cfg Config, runner *Runner, st store.Store) *Server {
	return &Server{cfg: cfg, runner: runner, store: st}
}

// WithMetrics enables GET /v1/metrics.
func (s *Server) WithMetrics(fn MetricsFunc) *Server {
	s.metrics = fn
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs/{kind}", s.handleTrigger)
		r.Get("/contacts", s.handleContacts)
		r.Get("/contacts/{email}", s.handleContact)
		r.Get("/runs", s.handleRuns)
		if s.metrics != nil {
			r.Get("/metrics", s.handleMetrics)
		}
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"status": "ok"}
	if kind := s.runner.Running(); kind != "" {
		resp["running"] = string(kind)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	kind := model.RunKind(chi.URLParam(r, "kind"))
	if kind != model.RunKindScan && kind != model.RunKindReconcile {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", kind))
		return
	}

	err := s.runner.Start(kind)
	if errors.Is(err, ErrBusy) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "a job is already running",
			"running": string(s.runner.Running()),
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "job": string(kind)})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ContactFilter{Status: model.ContactStatus(q.Get("status"))}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", filter.Status))
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	contacts, err := s.store.ListContacts(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list contacts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []model.StagedContact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	c, err := s.store.GetContact(r.Context(), email)
	if err != nil {
		zap.L().Error("server: get contact", zap.String("email", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get contact")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{Kind: model.RunKind(q.Get("kind")), Limit: limit})
	if err != nil {
		zap.L().Error("server: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.metrics(r.Context())
	if err != nil {
		zap.L().Error("server: collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid value %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
