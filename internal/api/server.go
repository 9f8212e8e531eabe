package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"omnipost/internal/usecase"
)

type Server struct {
	router   *chi.Mux
	tasks    *usecase.TaskService
	accounts *usecase.AccountService
	logins   *usecase.Orchestrator
	registry *usecase.Registry
}

func NewServer(tasks *usecase.TaskService, accounts *usecase.AccountService, logins *usecase.Orchestrator) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		tasks:    tasks,
		accounts: accounts,
		logins:   logins,
		registry: logins.Registry,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Get("/health", s.health)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)
		r.Get("/{id}", s.getTask)
		r.Patch("/{id}", s.updateTask)
		r.Delete("/{id}", s.deleteTask)
		r.Post("/{id}/start", s.startTask)
	})
	r.Post("/publish", s.publish)
	r.Post("/publish/batch", s.publishBatch)
	r.Get("/login", s.login)

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.listAccounts)
		r.Get("/valid", s.listValidAccounts)
		r.Get("/stats", s.accountStats)
		r.Get("/{id}/status", s.accountStatus)
		r.Get("/{id}/cookie", s.downloadState)
		r.Post("/{id}/cookie", s.uploadState)
		r.Put("/{id}", s.updateAccount)
		r.Delete("/{id}", s.deleteAccount)
	})
	r.Route("/groups", func(r chi.Router) {
		r.Get("/", s.listGroups)
		r.Post("/", s.createGroup)
		r.Put("/{id}", s.updateGroup)
		r.Delete("/{id}", s.deleteGroup)
		r.Get("/{id}/accounts", s.groupAccounts)
	})
}

// Handler is the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		realIPHandler,
		requestIDHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/health" }),
		corsHandler,
	)
}

// Run serves on port until ctx ends, then shuts down gracefully within
// shutdownTimeout. Open login streams are cut at shutdown.
func (s *Server) Run(ctx context.Context, port int, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf(":%d", port)
	httpServer := http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("server is shutting down...")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		done <- httpServer.Shutdown(sctx)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	err := <-done
	if err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
