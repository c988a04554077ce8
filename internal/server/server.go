// Package server exposes run history, run triggering and metrics over HTTP
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/history"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

// RunStore answers run history queries
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]history.RunRecord, error)
	GetRun(ctx context.Context, id uuid.UUID) (*history.RunRecord, error)
}

// Trigger starts a run in the background
type Trigger interface {
	Trigger(logicalDate time.Time) error
}

type Server struct {
	runs     RunStore
	trigger  Trigger
	gatherer prometheus.Gatherer
	now      func() time.Time
}

func New(runs RunStore, trigger Trigger, gatherer prometheus.Gatherer) *Server {
	return &Server{runs: runs, trigger: trigger, gatherer: gatherer, now: time.Now}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", RestHandler(http.StatusOK, s.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", RestHandler(http.StatusOK, s.ListRuns))
			r.Post("/", RestHandler(http.StatusAccepted, s.TriggerRun))
			r.Get("/{runID}", RestHandler(http.StatusOK, s.GetRun))
		})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogInfo("HTTP server listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.LogInfo("HTTP server shutting down", nil)
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) Health(r *http.Request) (any, error) {
	return map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) ListRuns(r *http.Request) (any, error) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid limit %q", raw)
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView(run))
	}
	return views, nil
}

func (s *Server) GetRun(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "runID")
	if err != nil {
		return nil, err
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, errors.ErrRunNotFound) {
			return nil, CodedError(http.StatusNotFound, err)
		}
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	return runView(*run), nil
}

// TriggerRequest optionally pins the logical date of a manual run
type TriggerRequest struct {
	LogicalDate *time.Time `json:"logical_date,omitempty"`
}

type TriggerResponse struct {
	Status      string    `json:"status"`
	LogicalDate time.Time `json:"logical_date"`
}

func (s *Server) TriggerRun(r *http.Request) (any, error) {
	var req TriggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
		}
	}

	logicalDate := s.now().UTC()
	if req.LogicalDate != nil {
		logicalDate = req.LogicalDate.UTC()
	}

	if err := s.trigger.Trigger(logicalDate); err != nil {
		if stderrors.Is(err, errors.ErrRunInProgress) {
			return nil, CodedError(http.StatusConflict, err)
		}
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	logger.LogInfo("Manual run triggered", map[string]interface{}{
		"logical_date": logicalDate.Format(time.RFC3339),
	})
	return TriggerResponse{Status: "accepted", LogicalDate: logicalDate}, nil
}
