// Package httpapi implements the external HTTP surface (spec §6) over
// chi, the way the teacher's internal/api lays out its own routes:
// request-scoped logging, an RFC 7807 error boundary, and a rate limit
// on the mutating create-task endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jiqinga/strmforge/internal/bus"
	applog "github.com/jiqinga/strmforge/internal/log"
	"github.com/jiqinga/strmforge/internal/store"
)

// Server wires the store and the background services' owner identity
// into the HTTP handlers.
type Server struct {
	Store              store.StateStore
	WorkerOwner        string
	RateLimitPerMinute int
	recover            func() error
	// Bus is optional; when set via SetBus, lifecycle actions publish to
	// it so other in-process consumers observe create/cancel/continue/
	// delete without polling the store.
	Bus bus.Bus
}

// SetBus wires an event bus into the lifecycle handlers. Not part of
// NewServer's signature so existing callers are unaffected by its absence.
func (s *Server) SetBus(b bus.Bus) { s.Bus = b }

func (s *Server) publish(ctx context.Context, topic string, taskID int64) {
	if s.Bus == nil {
		return
	}
	_ = s.Bus.Publish(ctx, topic, bus.Message{TaskID: taskID, Kind: topic})
}

// NewServer returns a Server ready to mount. recoverFn is invoked by the
// manual "recover orphaned tasks" endpoint (spec §6); it is injected
// rather than constructed here so the HTTP layer does not import the
// recovery package's concrete Service type.
func NewServer(st store.StateStore, workerOwner string, rateLimitPerMinute int, recoverFn func() error) *Server {
	if rateLimitPerMinute <= 0 {
		rateLimitPerMinute = 60
	}
	return &Server{Store: st, WorkerOwner: workerOwner, RateLimitPerMinute: rateLimitPerMinute, recover: recoverFn}
}

// Router builds the full chi.Router for this Server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(applog.Middleware())
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "strmforge")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	openapiRouter := loadRouter()
	validated := validateRequest(openapiRouter)

	r.Route("/api/v1", func(api chi.Router) {
		api.With(
			httprate.Limit(s.RateLimitPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
			validated,
		).Post("/tasks", s.handleCreateTask)

		api.Get("/tasks", s.handleListTasks)
		api.Get("/tasks/{taskID}", s.handleGetTask)
		api.Get("/tasks/{taskID}/subtasks", s.handleListSubTasks)
		api.Post("/tasks/{taskID}/cancel", s.handleCancelTask)
		api.Post("/tasks/{taskID}/continue", s.handleContinueTask)
		api.Delete("/tasks/{taskID}", s.handleDeleteTask)
		api.Get("/tasks/{taskID}/logs", s.handleTaskLogs)
		api.Get("/tasks/{taskID}/directory", s.handleDirectory)
		api.Get("/tasks/{taskID}/preview", s.handlePreview)
		api.Post("/recovery/run", s.handleRecoverNow)

		api.With(validated).Post("/uploads", s.handleCreateUpload)
		api.Get("/uploads/{uploadID}", s.handleGetUpload)

		api.Get("/settings", s.handleGetSettings)
		api.With(validated).Put("/settings", s.handlePutSettings)
	})

	return r
}
