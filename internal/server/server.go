package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/amoylab/chatline/internal/chat"
	"github.com/amoylab/chatline/internal/chat/projection"
	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/i18n"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Manager is the part of chat.Manager served over HTTP.
type Manager interface {
	ConnectSession(ctx context.Context, identity transport.User) error
	DisconnectSession(ctx context.Context)
	RefreshConversations(ctx context.Context) error
	OpenConversation(ctx context.Context, id string) error
	CloseConversation()
	SendMessage(ctx context.Context, text string) error
	ViewIn(labels projection.Labels) chat.View
	OnChange(fn func()) (release func())
}

var _ Manager = (*chat.Manager)(nil)

// Option configures a Server.
type Option func(*Server)

// WithAdmin mounts the /admin routes backed by admin.
func WithAdmin(admin transport.Admin) Option {
	return func(s *Server) { s.admin = admin }
}

// WithLogLevel mounts handler, typically a zap.AtomicLevel, at
// /admin/log/level for GET and PUT.
func WithLogLevel(handler http.Handler) Option {
	return func(s *Server) { s.logLevel = handler }
}

// Server exposes a Manager as a JSON API.
type Server struct {
	logger   *zap.Logger
	manager  Manager
	admin    transport.Admin
	logLevel http.Handler
	metrics  *metrics.Metrics
	router   *gin.Engine
	server   *http.Server

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates the HTTP surface for manager. m may be nil.
func NewServer(logger *zap.Logger, cfg *config.ChatlineConfig, manager Manager, m *metrics.Metrics, opts ...Option) *Server {
	s := &Server{
		logger:  logger.Named("server"),
		manager: manager,
		metrics: m,
		router:  gin.New(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.loggerMiddleware())
	s.router.Use(otelgin.Middleware(cnst.AppName))
	s.router.Use(m.Middleware())
	s.router.Use(i18n.Middleware())

	if m != nil && cfg.Metrics.Enabled {
		s.router.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: s.router,
	}
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/state", s.handleState)
	api.GET("/stream", s.handleStream)

	api.POST("/session", s.handleConnect)
	api.DELETE("/session", s.handleDisconnect)

	api.GET("/conversations", s.handleConversations)
	api.POST("/conversations/refresh", s.handleRefresh)
	api.GET("/conversations/active", s.handleActive)
	api.DELETE("/conversations/active", s.handleCloseActive)
	api.POST("/conversations/active/messages", s.handleSend)
	api.POST("/conversations/:id/open", s.handleOpen)

	if s.admin != nil {
		admin := s.router.Group("/admin")
		admin.POST("/channels", s.handleCreateChannel)
		admin.POST("/channels/:id/messages", s.handlePost)
		admin.POST("/channels/:id/read", s.handleMarkRead)
	}
	if s.logLevel != nil {
		s.router.GET("/admin/log/level", gin.WrapH(s.logLevel))
		s.router.PUT("/admin/log/level", gin.WrapH(s.logLevel))
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP in the background.
func (s *Server) Start() {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()
}

// Shutdown ends open event streams and gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.server.Shutdown(ctx)
}
