// Package api serves the command interface: read-only views of the rules,
// resolution, refresh control, and live log and event streams.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/urlredirector/urlredirector/internal/config"
	"github.com/urlredirector/urlredirector/internal/engine"
	applog "github.com/urlredirector/urlredirector/internal/log"
)

type APIServer struct {
	version        string
	cfg            *config.Config
	addr           string
	engine         *engine.Engine
	httpServer     *http.Server
	logBroadcaster *applog.Broadcaster
}

func New(version string, cfg *config.Config, eng *engine.Engine, lb *applog.Broadcaster) *APIServer {
	return &APIServer{
		version:        version,
		cfg:            cfg,
		addr:           cfg.API.ListenAddr(),
		engine:         eng,
		logBroadcaster: lb,
	}
}

// Handler returns the router serving the command interface.
func (s *APIServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	if s.cfg.API.Secret != "" {
		r.Use(bearerAuth(s.cfg.API.Secret))
	}

	r.Get("/version", s.handleVersion)
	r.Get("/config", s.handleConfig)

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", s.handleRules)
		r.Get("/compiled", s.handleCompiledRules)
	})
	r.Get("/resolve", s.handleResolve)
	r.Get("/go", s.handleRedirect)

	r.Route("/refresh", func(r chi.Router) {
		r.Get("/", s.handleRefreshing)
		r.Post("/", s.handleRefresh)
	})

	r.Get("/events", s.handleEvents)
	r.Get("/logs", s.handleLogs)

	r.Mount("/debug", middleware.Profiler())
	return r
}

func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api-server listen failed: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	slog.Info("api-server started", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api-server error", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *APIServer) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("api-server shutting down")
	return s.httpServer.Shutdown(ctx)
}
