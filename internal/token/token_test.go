package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/transport"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewProvider(t *testing.T) {
	logger := zap.NewNop()

	p, err := NewProvider(logger, config.TokenConfig{Type: cnst.TokenTypeJWT, Secret: testSecret, TTL: time.Hour})
	require.NoError(t, err)
	assert.IsType(t, &JWTProvider{}, p)

	p, err = NewProvider(logger, config.TokenConfig{Type: cnst.TokenTypeHTTP, Endpoint: "http://localhost/token"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPProvider{}, p)

	_, err = NewProvider(logger, config.TokenConfig{Type: cnst.TokenTypeHTTP})
	assert.ErrorIs(t, err, cnst.ErrMissingTokenEndpoint)

	_, err = NewProvider(logger, config.TokenConfig{Type: "ldap"})
	assert.ErrorIs(t, err, cnst.ErrUnknownTokenType)
}

func TestHTTPProvider_Token(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer app-secret", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("user_id") {
		case "alice":
			_, _ = w.Write([]byte(`{"data":{"token":"tok-alice"}}`))
		case "empty":
			_, _ = w.Write([]byte(`{"data":{"token":""}}`))
		case "missing":
			_, _ = w.Write([]byte(`{"data":{}}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(zap.NewNop(), config.TokenConfig{
		Endpoint:    srv.URL + "/token",
		TokenPath:   "data.token",
		AccessToken: "app-secret",
		Timeout:     time.Second,
	})
	require.NoError(t, err)
	ctx := context.Background()

	tok, err := p.Token(ctx, transport.User{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", tok)

	for _, id := range []string{"empty", "missing", "mallory"} {
		_, err := p.Token(ctx, transport.User{ID: id})
		assert.ErrorIs(t, err, ErrNoToken, id)
	}
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	p, err := NewHTTPProvider(zap.NewNop(), config.TokenConfig{Endpoint: endpoint, TokenPath: "token", Timeout: time.Second})
	require.NoError(t, err)
	_, err = p.Token(context.Background(), transport.User{ID: "alice"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoToken))
}

func TestNewHTTPProvider_InvalidEndpoint(t *testing.T) {
	_, err := NewHTTPProvider(zap.NewNop(), config.TokenConfig{Endpoint: "not a url"})
	assert.Error(t, err)
}

func TestNewJWTProvider_Validation(t *testing.T) {
	_, err := NewJWTProvider(config.TokenConfig{TTL: time.Hour})
	assert.ErrorIs(t, err, ErrEmptySecretKey)
	_, err = NewJWTProvider(config.TokenConfig{Secret: "short", TTL: time.Hour})
	assert.ErrorIs(t, err, ErrWeakSecretKey)
	_, err = NewJWTProvider(config.TokenConfig{Secret: testSecret})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestJWTProvider_TokenAndVerify(t *testing.T) {
	p, err := NewJWTProvider(config.TokenConfig{Secret: testSecret, TTL: time.Hour, Issuer: "chatline"})
	require.NoError(t, err)

	tok, err := p.Token(context.Background(), transport.User{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(tok, "."))

	userID, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = p.Verify(tok + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewJWTProvider(config.TokenConfig{Secret: testSecret, TTL: time.Hour, Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = p.Token(context.Background(), transport.User{})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestJWTProvider_Expired(t *testing.T) {
	p, err := NewJWTProvider(config.TokenConfig{Secret: testSecret, TTL: time.Minute})
	require.NoError(t, err)
	p.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := p.Token(context.Background(), transport.User{ID: "bob"})
	require.NoError(t, err)

	p.now = time.Now
	_, err = p.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestProviderFunc(t *testing.T) {
	var p Provider = ProviderFunc(func(_ context.Context, u transport.User) (string, error) {
		return "t-" + u.ID, nil
	})
	tok, err := p.Token(context.Background(), transport.User{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "t-x", tok)
}
