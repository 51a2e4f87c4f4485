package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"benchboard/internal/cache"
	"benchboard/internal/coordinator"
	"benchboard/internal/domain"
	"benchboard/internal/leaderboard"
	"benchboard/internal/worker"
)

type Server struct {
	r      *chi.Mux
	tasks  *coordinator.Coordinator
	board  *leaderboard.Service
	caches *cache.Manager
	logger zerolog.Logger
}

func NewServer(tasks *coordinator.Coordinator, board *leaderboard.Service, caches *cache.Manager) http.Handler {
	return NewServerWithDebug(tasks, board, caches, false)
}

func NewServerWithDebug(tasks *coordinator.Coordinator, board *leaderboard.Service, caches *cache.Manager, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	logger := log.With().Str("component", "api").Logger()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(logger), middleware.Recoverer)

	s := &Server{r: r, tasks: tasks, board: board, caches: caches, logger: logger}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/uploads", s.submitUpload)
		r.Post("/uploads/batch", s.submitBatch)
		r.Post("/uploads/batch/status", s.batchStatus)
		r.Get("/uploads/{id}", s.getUpload)
		r.Get("/owners/{owner}/uploads", s.listOwnerUploads)

		r.Get("/models", s.listModels)
		r.Post("/models", s.createModel)
		r.Get("/models/{id}", s.getModel)
		r.Delete("/models/{id}", s.deleteModel)
		r.Get("/metrics", s.listMetrics)
		r.Post("/metrics", s.createMetric)
		r.Get("/metrics/aggregates", s.metricAggregates)
		r.Post("/submissions", s.createSubmission)
		r.Get("/leaderboard/{metric}", s.leaderboard)
		r.Get("/statistics", s.statistics)

		r.Get("/cache/stats", s.cacheStats)
		r.Delete("/cache", s.clearCaches)
		r.Delete("/cache/{domain}", s.clearCache)
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		r.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		r.Handle("/debug/pprof/block", pprof.Handler("block"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type fileReq struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (f fileReq) payload() domain.PayloadDescriptor {
	return domain.NewPayload(f.Kind, f.Name, f.Size)
}

type uploadReq struct {
	OwnerID string `json:"owner_id"`
	fileReq
}

func (s *Server) submitUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadReq
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.tasks.Submit(r.Context(), req.OwnerID, req.payload())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) getUpload(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listOwnerUploads(w http.ResponseWriter, r *http.Request) {
	recs, err := s.tasks.ListTasksForOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type batchReq struct {
	OwnerID string    `json:"owner_id"`
	Files   []fileReq `json:"files"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if !s.decode(w, r, &req) {
		return
	}
	descs := make([]domain.PayloadDescriptor, 0, len(req.Files))
	for _, f := range req.Files {
		descs = append(descs, f.payload())
	}
	res, err := s.tasks.SubmitBatch(r.Context(), req.OwnerID, descs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

type batchStatusReq struct {
	TaskIDs []string `json:"task_ids"`
}

func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	var req batchStatusReq
	if !s.decode(w, r, &req) {
		return
	}
	st, err := s.tasks.GetBatchStatus(r.Context(), req.TaskIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.board.ListModels(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"), refresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) createModel(w http.ResponseWriter, r *http.Request) {
	var req leaderboard.Model
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.board.CreateModel(r.Context(), leaderboard.Model{
		Name: req.Name, Organization: req.Organization, Description: req.Description,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.board.GetModel(r.Context(), chi.URLParam(r, "id"), refresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.board.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.board.ListMetrics(r.Context(), refresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) createMetric(w http.ResponseWriter, r *http.Request) {
	var req leaderboard.Metric
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.board.CreateMetric(r.Context(), leaderboard.Metric{
		Name: req.Name, Description: req.Description, HigherIsBetter: req.HigherIsBetter,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) metricAggregates(w http.ResponseWriter, r *http.Request) {
	aggs, err := s.board.MetricAggregates(r.Context(), refresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggs)
}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req leaderboard.Submission
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.board.CreateSubmission(r.Context(), leaderboard.Submission{
		ModelID: req.ModelID, MetricID: req.MetricID, Score: req.Score, TaskID: req.TaskID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.board.Leaderboard(r.Context(), chi.URLParam(r, "metric"), queryInt(r, "limit"), refresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.board.Statistics(r.Context(), refresh(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.caches.Stats())
}

func (s *Server) clearCaches(w http.ResponseWriter, r *http.Request) {
	s.caches.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.caches.Invalidate(chi.URLParam(r, "domain")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResp struct {
	Error string `json:"error"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrNotFound), errors.Is(err, leaderboard.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, coordinator.ErrInvalidOwner), errors.Is(err, coordinator.ErrEmptyBatch),
		errors.Is(err, leaderboard.ErrInvalid), errors.Is(err, cache.ErrUnknownDomain):
		code = http.StatusBadRequest
	case errors.Is(err, leaderboard.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, worker.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorResp{Error: err.Error()})
}

// queryInt returns 0 for a missing or malformed value.
func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func refresh(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
