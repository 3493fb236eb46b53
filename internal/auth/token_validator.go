package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	// AccessTokenQueryParameter carries the token for clients that cannot set
	// headers, such as browser EventSource streams.
	AccessTokenQueryParameter = "access_token"
)

var (
	ErrMissingValidatorSigningKey = errors.New("token validator: signing key required")
	ErrMissingValidatorIssuer     = errors.New("token validator: issuer required")
	ErrMissingToken               = errors.New("token validator: token required")
	ErrInvalidToken               = errors.New("token validator: invalid token")
	ErrExpiredToken               = errors.New("token validator: token expired")
	ErrMissingSubject             = errors.New("token validator: subject required")
)

// TokenValidatorConfig describes how to validate API tokens.
type TokenValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// TokenValidator validates HS256 JWTs issued by TokenIssuer.
type TokenValidator struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewTokenValidator constructs a validator with the provided configuration.
func NewTokenValidator(cfg TokenValidatorConfig) (*TokenValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingValidatorSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingValidatorIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *TokenValidator) ValidateToken(tokenString string) (jwt.RegisteredClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return jwt.RegisteredClaims{}, ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return jwt.RegisteredClaims{}, ErrExpiredToken
		}
		return jwt.RegisteredClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return jwt.RegisteredClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return jwt.RegisteredClaims{}, ErrMissingSubject
	}
	return *claims, nil
}

// ValidateRequest extracts a bearer token from the Authorization header, or
// the access_token query parameter when the header is absent, and validates it.
func (v *TokenValidator) ValidateRequest(r *http.Request) (jwt.RegisteredClaims, error) {
	if r == nil {
		return jwt.RegisteredClaims{}, ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return jwt.RegisteredClaims{}, ErrInvalidToken
		}
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	return v.ValidateToken(r.URL.Query().Get(AccessTokenQueryParameter))
}
