package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/starport-core/internal/audit"
	"github.com/nerrad567/starport-core/internal/auth"
	"github.com/nerrad567/starport-core/internal/connector"
	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/history"
	"github.com/nerrad567/starport-core/internal/indiserver"
	"github.com/nerrad567/starport-core/internal/infrastructure/config"
	"github.com/nerrad567/starport-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the part of *connector.Connector the API drives.
type Controller interface {
	StartServer() bool
	StopServer() bool
	RestartServer() bool
	IsRunning() bool
	ServerStats() indiserver.Stats

	StartDriver(d connector.Driver) bool
	StopDriver(d connector.Driver) bool
	RestartDriver(d connector.Driver) bool
	RunningDrivers() map[string]connector.Driver

	SendCommand(text string) fifo.Result
	FifoStats() fifo.Stats

	Devices(ctx context.Context) ([]connector.Device, error)
	GetProp(ctx context.Context, dev, prop, elem string) (string, error)
	GetState(ctx context.Context, dev, prop string) (string, error)
	SetProp(ctx context.Context, dev, prop, elem, value string) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Controller Controller

	// History is optional; the history endpoints answer 503 without it.
	History history.Repository

	// Audit is optional. When set, every control request is recorded and
	// the audit endpoint lists the trail.
	Audit audit.Repository

	Version string
}

// Server is the HTTP API server. It is created with New and started with
// Start.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secret  string
	logger  *logging.Logger
	ctl     Controller
	history history.Repository
	audit   audit.Repository
	trail   *audit.Recorder
	version string
	hub     *Hub

	mu     sync.Mutex
	server *http.Server
	addr   string
	cancel context.CancelFunc
}

// New creates a server. The WebSocket hub exists from here on so it can be
// registered as an event sink before Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if len(deps.Security.JWT.Secret) < auth.MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d characters", auth.ErrWeakSecret, auth.MinSecretLength)
	}

	var trail *audit.Recorder
	if deps.Audit != nil {
		trail = audit.NewRecorder(deps.Audit, deps.Logger)
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secret:  deps.Security.JWT.Secret,
		logger:  deps.Logger,
		ctl:     deps.Controller,
		history: deps.History,
		audit:   deps.Audit,
		trail:   trail,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background. A bind failure
// such as a port already in use is returned here.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Address(), err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.addr)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close disconnects WebSocket clients and shuts the listener down, waiting
// for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is accepting connections.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
