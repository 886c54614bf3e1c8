package controllers

import (
	"errors"
	"net/http"

	"github.com/rzbill/eventpipe/internal/queue"
	"github.com/rzbill/eventpipe/internal/runtime"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

const defaultFailedLimit = 100

// JobsController is the operator surface over the durable queue.
type JobsController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

func NewJobsController(rt *runtime.Runtime, logger logpkg.Logger) *JobsController {
	return &JobsController{rt: rt, logger: logger}
}

func (c *JobsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/jobs/failed", c.handleListFailed)
	mux.HandleFunc("/v1/jobs/get", c.handleGet)
	mux.HandleFunc("/v1/jobs/requeue", c.handleRequeue)
	mux.HandleFunc("/v1/jobs/stats", c.handleStats)
}

func (c *JobsController) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, queue.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrBackendUnavailable):
		c.logger.Warn("Queue unavailable", logpkg.Str("op", op), logpkg.Err(err))
		writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
	default:
		c.logger.Error("Queue operation failed", logpkg.Str("op", op), logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Queue operation failed")
	}
}

// handleListFailed returns terminally failed jobs, oldest failure first.
func (c *JobsController) handleListFailed(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = defaultFailedLimit
	}
	jobs, err := c.rt.Queue().ListFailed(r.Context(), limit)
	if err != nil {
		c.storeError(w, "list failed", err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, newJobView(j))
	}
	writeJSON(w, map[string]any{"jobs": out})
}

func (c *JobsController) handleGet(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	j, err := c.rt.Queue().Get(r.Context(), id)
	if err != nil {
		c.storeError(w, "get", err)
		return
	}
	writeJSON(w, newJobView(j))
}

// handleRequeue moves a terminally failed job back to waiting.
func (c *JobsController) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req requeueReq
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := c.rt.Queue().Requeue(r.Context(), req.ID); err != nil {
		c.storeError(w, "requeue", err)
		return
	}
	c.logger.Info("Job requeued", logpkg.Str("jobId", req.ID))
	writeNoContent(w)
}

func (c *JobsController) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	st, err := c.rt.Queue().Stats(r.Context())
	if err != nil {
		c.storeError(w, "stats", err)
		return
	}
	writeJSON(w, st)
}
