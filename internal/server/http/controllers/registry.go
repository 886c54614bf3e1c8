package controllers

import (
	"net/http"

	"github.com/rzbill/eventpipe/internal/runtime"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// ControllerRegistry groups the admin API controllers.
type ControllerRegistry struct {
	general *GeneralController
	topics  *TopicsController
	jobs    *JobsController
}

func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		topics:  NewTopicsController(rt, logger),
		jobs:    NewJobsController(rt, logger),
	}
}

// RegisterAllRoutes registers every admin route on mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.topics.RegisterRoutes(mux)
	r.jobs.RegisterRoutes(mux)
}
