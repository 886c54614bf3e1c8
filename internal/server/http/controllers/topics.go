package controllers

import (
	"errors"
	"net/http"

	"github.com/rzbill/eventpipe/internal/broker"
	"github.com/rzbill/eventpipe/internal/runtime"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// TopicsController provisions topics and publishes records to the
// embedded broker.
type TopicsController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

func NewTopicsController(rt *runtime.Runtime, logger logpkg.Logger) *TopicsController {
	return &TopicsController{rt: rt, logger: logger}
}

func (c *TopicsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/topics/create", c.handleCreate)
	mux.HandleFunc("/v1/topics/get", c.handleGet)
	mux.HandleFunc("/v1/topics/publish", c.handlePublish)
}

// handleCreate is idempotent: an existing compatible topic returns 200,
// a new one 201, an incompatible one 409.
func (c *TopicsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req topicCreateReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	_, lookupErr := c.rt.Broker().Topic(req.Name)
	meta, err := c.rt.Broker().EnsureTopic(r.Context(), broker.TopicSpec{
		Name: req.Name, Partitions: req.Partitions, ReplicationFactor: req.ReplicationFactor,
	})
	switch {
	case errors.Is(err, broker.ErrIncompatibleTopic):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	case lookupErr == nil:
		writeJSON(w, meta)
	default:
		writeJSONStatus(w, http.StatusCreated, meta)
	}
}

func (c *TopicsController) handleGet(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	meta, err := c.rt.Broker().Topic(r.URL.Query().Get("name"))
	if errors.Is(err, broker.ErrUnknownTopic) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load topic")
		return
	}
	writeJSON(w, meta)
}

func (c *TopicsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req publishReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if req.Topic == "" {
		req.Topic = c.rt.Config().Broker.Topic
	}
	part, off, err := c.rt.Broker().Publish(r.Context(), req.Topic, []byte(req.Key), req.Value)
	if errors.Is(err, broker.ErrUnknownTopic) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		c.logger.Error("Publish failed", logpkg.Str("topic", req.Topic), logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to publish")
		return
	}
	writeJSONStatus(w, http.StatusAccepted, publishResp{Topic: req.Topic, Partition: part, Offset: off})
}
