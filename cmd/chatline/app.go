package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/amoylab/chatline/internal/chat"
	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/i18n"
	"github.com/amoylab/chatline/internal/server"
	"github.com/amoylab/chatline/internal/token"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/internal/transport/memory"
	"github.com/amoylab/chatline/internal/transport/redistransport"
	"github.com/amoylab/chatline/pkg/metrics"
	"github.com/amoylab/chatline/pkg/trace"

	"go.uber.org/zap"
)

type closer func(context.Context) error

// app holds the wired components of a running chatline process.
type app struct {
	logger  *zap.Logger
	cfg     *config.ChatlineConfig
	metrics *metrics.Metrics
	manager *chat.Manager
	admin   transport.Admin
	server  *server.Server

	// run in reverse order on shutdown
	closers []closer
}

func newApp(ctx context.Context, logger *zap.Logger, cfg *config.ChatlineConfig, extra ...server.Option) (*app, error) {
	a := &app{logger: logger, cfg: cfg}

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	i18n.SetDefaultLanguage(cfg.Session.Language)
	if err := i18n.InitTranslator(cfg.Session.Translations); err != nil {
		return nil, a.abort(fmt.Errorf("failed to load translations: %w", err))
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics)
	}

	tokens, err := token.NewProvider(logger, cfg.Token)
	if err != nil {
		return nil, a.abort(fmt.Errorf("failed to initialize token provider: %w", err))
	}

	client, admin, closeTransport, err := newTransport(logger, cfg, tokens)
	if err != nil {
		return nil, a.abort(err)
	}
	a.admin = admin
	a.closers = append(a.closers, closeTransport)

	a.manager = chat.NewManager(logger, client, tokens,
		chat.WithMetrics(a.metrics),
		chat.WithLabels(i18n.LabelsFor(cfg.Session.Language)),
		chat.WithQueryLimit(cfg.Session.QueryLimit),
		chat.WithMessageLimit(cfg.Session.MessageLimit),
		chat.WithConnectTimeout(cfg.Session.ConnectTimeout),
	)
	a.closers = append(a.closers, a.manager.Close)

	opts := extra
	if cfg.HTTP.Admin {
		opts = append(opts, server.WithAdmin(admin))
	}
	a.server = server.NewServer(logger, cfg, a.manager, a.metrics, opts...)
	return a, nil
}

// newTransport builds the configured real-time backend. Tokens minted by the
// jwt provider are verified by the backend on connect.
func newTransport(logger *zap.Logger, cfg *config.ChatlineConfig, tokens token.Provider) (transport.Client, transport.Admin, closer, error) {
	var verifier transport.TokenVerifier
	if p, ok := tokens.(*token.JWTProvider); ok {
		verifier = p.Verify
	}

	logger.Info("Initializing transport", zap.String("type", cfg.Transport.Type))
	switch cfg.Transport.Type {
	case cnst.TransportTypeMemory:
		var opts []memory.Option
		if verifier != nil {
			opts = append(opts, memory.WithVerifier(verifier))
		}
		backend := memory.NewBackend(logger, opts...)
		return backend.NewClient(), backend.Admin(), func(context.Context) error { return nil }, nil
	case cnst.TransportTypeRedis:
		var opts []redistransport.Option
		if verifier != nil {
			opts = append(opts, redistransport.WithVerifier(verifier))
		}
		store, err := redistransport.NewStore(logger, cfg.Transport.Redis, opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewClient(), store, func(context.Context) error { return store.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported transport type: %s", cfg.Transport.Type)
	}
}

func (a *app) start() {
	a.server.Start()
}

// shutdown stops the HTTP server, then releases everything else in reverse
// construction order.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) abort(err error) error {
	_ = a.shutdown(context.Background())
	return err
}
