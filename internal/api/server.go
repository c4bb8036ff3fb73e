package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/devicesync/internal/audit"
	"github.com/nerrad567/devicesync/internal/auth"
	"github.com/nerrad567/devicesync/internal/infrastructure/config"
	"github.com/nerrad567/devicesync/internal/infrastructure/logging"
	"github.com/nerrad567/devicesync/internal/notify"
	"github.com/nerrad567/devicesync/internal/session"
	"github.com/nerrad567/devicesync/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Authenticator issues and validates access tokens. auth.Provider
// implements it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*auth.Identity, error)
	ParseToken(token string) (*auth.Claims, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Session *session.Session
	Auth    Authenticator
	Version string

	// Audit journals mutating requests. Nil disables the journal.
	Audit *audit.Journal
}

// Server is the HTTP API server for devicesync.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	session   *session.Session
	auth      Authenticator
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()

	journal   *audit.Journal
	auditCh   chan *audit.Entry
	auditDone chan struct{}

	watchMu sync.Mutex
	watches []notify.Token
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		session:   deps.Session,
		auth:      deps.Auth,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
		journal:   deps.Audit,
		auditCh:   make(chan *audit.Entry, auditBufferSize),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, registers change listeners that feed it, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	if err := s.startBackground(ctx); err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startBackground runs the hub, ticket cleanup and change listeners.
func (s *Server) startBackground(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	if s.journal != nil {
		s.auditDone = make(chan struct{})
		go s.auditLoop(srvCtx)
	}

	return s.watchChanges()
}

// watchChanges registers the collection listeners that feed the hub. It is
// safe to call again after the session dropped every listener.
func (s *Server) watchChanges() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, tok := range s.watches {
		if err := s.session.RemoveListener(tok); err != nil {
			return err
		}
	}
	s.watches = s.watches[:0]

	for _, t := range []store.RecordType{store.TypeDevice, store.TypeComponent} {
		tok, err := s.session.AddCollectionListener(t, s.hub.Publish)
		if err != nil {
			return fmt.Errorf("watching %s changes: %w", t, err)
		}
		s.watches = append(s.watches, tok)
	}
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.auditDone != nil {
		<-s.auditDone
	}

	s.watchMu.Lock()
	for _, tok := range s.watches {
		//nolint:errcheck // Session may already be closed
		s.session.RemoveListener(tok)
	}
	s.watches = nil
	s.watchMu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
