// Package api assembles the HTTP surface: the task control endpoints, fleet
// observability, the metrics endpoint, and the worker WebSocket upgrade.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrapeflow/orchestrator/internal/api/handlers"
	apiMiddleware "github.com/scrapeflow/orchestrator/internal/api/middleware"
	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/session"
)

// Server wires handlers onto the router.
type Server struct {
	router         *chi.Mux
	config         *config.Config
	taskHandler    *handlers.TaskHandler
	workerHandler  *handlers.WorkerHandler
	sessionHandler *session.Handler
}

func NewServer(cfg *config.Config, q *queue.Queue, reg *registry.Registry, sess *session.Handler) *Server {
	apiTypes := cfg.Worker.APITypes()

	s := &Server{
		router:         chi.NewRouter(),
		config:         cfg,
		taskHandler:    handlers.NewTaskHandler(q, apiTypes),
		workerHandler:  handlers.NewWorkerHandler(reg, q, apiTypes),
		sessionHandler: sess,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)

	// Health endpoint for load balancers
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	// Control surface
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.Auth(&s.config.Auth))

		if s.config.Server.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Server.RateLimitRPS))
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/submit", s.taskHandler.Submit)
			r.Delete("/pending", s.taskHandler.CancelPending)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Delete("/{taskID}", s.taskHandler.Cancel)
		})

		r.Get("/workers", s.workerHandler.List)
		r.Get("/workers/{apiType}/stats", s.workerHandler.TypeStats)
		r.Get("/queue/stats", s.workerHandler.QueueStats)
	})

	// Worker WebSocket endpoint; auth happens at the frame level
	s.router.Get("/worker", s.sessionHandler.ServeWorker)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
