// Package token obtains session tokens for a user identity.
package token

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/transport"
)

// ErrNoToken is returned when a provider could not produce a usable token.
var ErrNoToken = errors.New("no session token available")

// Provider produces the session token a transport client connects with.
type Provider interface {
	Token(ctx context.Context, user transport.User) (string, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, user transport.User) (string, error)

func (f ProviderFunc) Token(ctx context.Context, user transport.User) (string, error) {
	return f(ctx, user)
}

// NewProvider creates a token provider based on configuration
func NewProvider(logger *zap.Logger, cfg config.TokenConfig) (Provider, error) {
	logger.Info("Initializing token provider", zap.String("type", cfg.Type))
	switch cfg.Type {
	case cnst.TokenTypeHTTP:
		return NewHTTPProvider(logger, cfg)
	case cnst.TokenTypeJWT:
		return NewJWTProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnknownTokenType, cfg.Type)
	}
}
