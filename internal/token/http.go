package token

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/pkg/trace"
)

const maxTokenResponse = 64 << 10

// HTTPProvider fetches session tokens from a remote endpoint.
//
// The endpoint is called with GET ?user_id=<id>. When an access token is
// configured it is sent as a bearer credential. The session token is read from
// the JSON response at TokenPath.
type HTTPProvider struct {
	logger    *zap.Logger
	endpoint  string
	tokenPath string
	client    *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider backed by the configured token endpoint
func NewHTTPProvider(logger *zap.Logger, cfg config.TokenConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, cnst.ErrMissingTokenEndpoint
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid token endpoint: %w", err)
	}

	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	client := base
	if cfg.AccessToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		}))
		client.Timeout = cfg.Timeout
	}

	return &HTTPProvider{
		logger:    logger.Named("token.http"),
		endpoint:  cfg.Endpoint,
		tokenPath: cfg.TokenPath,
		client:    client,
	}, nil
}

// Token implements Provider.Token
func (p *HTTPProvider) Token(ctx context.Context, user transport.User) (string, error) {
	span := trace.Tracer(cnst.TraceToken).Start(ctx, cnst.SpanTokenFetch)
	span.WithAttrs(
		attribute.String(cnst.AttrTokenType, cnst.TokenTypeHTTP),
		attribute.String(cnst.AttrUserID, user.ID),
	)
	defer span.End()

	tok, err := p.fetch(span.Ctx, user)
	span.RecordError(err)
	return tok, err
}

func (p *HTTPProvider) fetch(ctx context.Context, user transport.User) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("user_id", user.ID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("failed to request token",
			zap.String("endpoint", p.endpoint),
			zap.String("user_id", user.ID),
			zap.Error(err))
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("token endpoint rejected request",
			zap.String("user_id", user.ID),
			zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: endpoint returned %d", ErrNoToken, resp.StatusCode)
	}

	result := gjson.GetBytes(body, p.tokenPath)
	tok := strings.TrimSpace(result.String())
	if !result.Exists() || tok == "" {
		return "", fmt.Errorf("%w: %q missing from response", ErrNoToken, p.tokenPath)
	}
	return tok, nil
}
