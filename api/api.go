// Package api exposes the scheduler over HTTP for polling frontends.
// Responses are flat task summaries (status, percentage, caller
// metadata merged top-level) so an admin page can render them without
// knowing the scheduler's internals.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberline/stoker/queue"
)

// API wires the task management routes over a queue.
type API struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API serving the given queue.
func New(q *queue.Queue, opts ...Option) *API {
	a := &API{queue: q, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Handler returns a fully routed http.Handler.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes mounts the task routes on an existing router, for
// embedding into a larger server.
func (a *API) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")

	v1.GET("/tasks", a.listTasks)
	v1.POST("/tasks", a.createTask)
	v1.GET("/tasks/:taskId", a.getTask)
	v1.POST("/tasks/:taskId/cancel", a.cancelTask)
	v1.DELETE("/tasks/:taskId", a.clearTask)
	v1.POST("/tasks/clear", a.clearTasks)
	v1.POST("/tasks/empty", a.emptyTasks)
}
