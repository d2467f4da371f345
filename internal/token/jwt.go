package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/transport"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidAlgorithm = errors.New("invalid signing algorithm")
	ErrEmptySecretKey   = errors.New("secret key cannot be empty")
	ErrWeakSecretKey    = errors.New("secret key must be at least 32 characters")
	ErrInvalidDuration  = errors.New("duration must be positive")
)

// Claims are the claims of a locally minted session token
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider mints HS256 session tokens with a shared secret.
type JWTProvider struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

var _ Provider = (*JWTProvider)(nil)

// NewJWTProvider creates a provider from the secret, TTL and issuer in cfg
func NewJWTProvider(cfg config.TokenConfig) (*JWTProvider, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecretKey
	}
	if len(cfg.Secret) < 32 {
		return nil, ErrWeakSecretKey
	}
	if cfg.TTL <= 0 {
		return nil, ErrInvalidDuration
	}
	return &JWTProvider{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// Token implements Provider.Token
func (p *JWTProvider) Token(ctx context.Context, user transport.User) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrNoToken)
	}
	now := p.now()
	claims := &Claims{
		UserID: user.ID,
		Name:   user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    p.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Verify validates a token minted by this provider and returns its user id.
// It satisfies transport.TokenVerifier.
func (p *JWTProvider) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(p.now)}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAlgorithm
		}
		return p.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
