package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/plclink/internal/infrastructure/config"
	"github.com/nerrad567/plclink/internal/infrastructure/database"
	"github.com/nerrad567/plclink/internal/infrastructure/logging"
	"github.com/nerrad567/plclink/internal/plc"
	"github.com/nerrad567/plclink/internal/profile"
	"github.com/nerrad567/plclink/internal/trigger"
)

const (
	// gracefulShutdownTimeout bounds in-flight requests during Close.
	gracefulShutdownTimeout = 10 * time.Second

	// broadcastQueueSize bounds store changes waiting for the hub.
	broadcastQueueSize = 512
)

// Link is the part of *plc.Manager the API drives.
type Link interface {
	Start(url string)
	Stop()
	State() plc.State
	URL() string
	IsRunning() bool
	IsConnected() bool
	Stats() plc.Stats
	Subscribe(ns plc.Namespace, name string, cb plc.Callback)
	Write(ns plc.Namespace, name string, value bool) error
	WriteWait(ctx context.Context, ns plc.Namespace, name string, value bool) error
	Store() *plc.Store
	Registry() *plc.Registry
}

// Detector evaluates detections. *trigger.Latch satisfies it.
type Detector interface {
	Check(detected bool) (trigger.Result, error)
}

// StatusChecker reports broker connectivity. *mqtt.Client satisfies it.
type StatusChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Link     Link
	Profiles profile.Repository

	// Optional.
	Detector Detector
	MQTT     StatusChecker
	DB       *database.DB
	Version  string
}

// Server is the plclink HTTP API server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	link      Link
	profiles  profile.Repository
	detector  Detector
	mqtt      StatusChecker
	db        *database.DB
	version   string
	startTime time.Time

	hub      *Hub
	queue    *plc.Queue
	observer plc.Observer

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	closeMu  sync.Mutex
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start is called.
//
// Parameters:
//   - deps: Logger, Link and Profiles are required; MQTT, DB and Detector are optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile repository is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		link:      deps.Link,
		profiles:  deps.Profiles,
		detector:  deps.Detector,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		queue:     plc.NewQueue(broadcastQueueSize, deps.Logger),
	}
	s.observer = plc.Deliver(s.queue, plc.ObserverFunc(s.broadcastVariable))
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It performs:
//  1. Starts the WebSocket hub
//  2. Registers the status feed as a store observer so every value change
//     reaches WebSocket clients
//  3. Binds the listener and serves in a background goroutine
//
// The server can be stopped with Close.
//
// Parameters:
//   - ctx: Parent context for the hub; cancelling it disconnects WebSocket clients
//
// Returns:
//   - error: If the feed cannot attach or the port cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	if err := s.link.Store().AddObserver(s.observer); err != nil {
		s.cancel()
		return fmt.Errorf("attaching status feed: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		s.link.Store().RemoveObserver(s.observer)
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// LinkStateChanged broadcasts a link transition to WebSocket clients. It
// does not block and may be called from the link goroutine.
func (s *Server) LinkStateChanged(state plc.State) {
	url := s.link.URL()
	s.queue.Post(func() {
		s.hub.Broadcast(EventLinkState, map[string]any{"state": state, "url": url})
	})
}

func (s *Server) broadcastVariable(key plc.Key, value any) {
	s.hub.Broadcast(EventVariableChanged, map[string]any{"key": key, "value": value})
}

// Close gracefully shuts down the API server.
//
// It detaches the status feed, stops the hub and waits up to 10 seconds for
// in-flight requests before closing remaining connections. Calling Close
// again is a no-op.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	s.link.Store().RemoveObserver(s.observer)
	s.queue.Close()
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: nil if serving, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
