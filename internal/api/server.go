// Package api provides the HTTP REST API and WebSocket server for the router.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	bridgerouter "github.com/nerrad567/gray-logic-router/internal/bridges/router"
	"github.com/nerrad567/gray-logic-router/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-router/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RouterControl is the management surface the API drives.
// *router.Bridge satisfies it.
type RouterControl interface {
	Status() routing.Status
	FilterTable() routing.FilterTable
	ApplyRoutingMode(ctx context.Context, mode routing.RoutingMode) error
	ApplyFilterTable(ctx context.Context, table routing.FilterTable) error
	Restart(ctx context.Context) error
}

// EventSource delivers engine events. *routing.Engine satisfies it.
type EventSource interface {
	Subscribe(h routing.EventHandler) func()
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Router   RouterControl
	Events   EventSource         // optional; without it the event stream is silent
	Gatherer prometheus.Gatherer // optional; defaults to prometheus.DefaultGatherer
	RouterID string
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	router   RouterControl
	events   EventSource
	gatherer prometheus.Gatherer
	routerID string
	version  string
	started  time.Time

	mu          sync.Mutex
	server      *http.Server
	listener    net.Listener
	hub         *Hub
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a new API server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		router:   deps.Router,
		events:   deps.Events,
		gatherer: gatherer,
		routerID: deps.RouterID,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start binds the listener, subscribes the hub to engine events and serves
// HTTP in a background goroutine. Binding errors are returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	if s.events != nil {
		s.unsubscribe = s.events.Subscribe(s.relayEvent)
	}

	s.started = time.Now()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	srv := s.server
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// relayEvent runs on the engine's dispatch path. Frames are only valid for
// the duration of the call, so the message is built here.
func (s *Server) relayEvent(ev routing.Event) {
	msg := bridgerouter.NewEventMessage(s.routerID, ev, time.Now())
	s.hub.Broadcast(ev.EventName(), msg)
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	unsubscribe := s.unsubscribe
	cancel := s.cancel
	s.server = nil
	s.unsubscribe = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelShutdown()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
