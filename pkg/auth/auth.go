// Package auth validates bearer tokens against a JWKS endpoint and injects
// the resulting principal into the request context. With auth disabled every
// request runs as the anonymous principal; that mode is for development.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/climatepath/pendo/pkg/config"
)

// ErrUnauthorized is returned for missing or invalid credentials.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Principal is the authenticated caller.
type Principal struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email,omitempty"`
	UserType    string   `json:"user_type"`
	Permissions []string `json:"permissions,omitempty"`
}

// Anonymous is the principal used when auth is disabled.
var Anonymous = Principal{UserID: "anonymous", UserType: "anonymous"}

type contextKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal attached by the middleware.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}

// Validator validates bearer tokens against a key set.
type Validator struct {
	keys     jwk.Set
	issuer   string
	audience string
	disabled bool
}

// NewValidator builds a validator from config. The JWKS endpoint is fetched
// through an auto-refreshing cache.
func NewValidator(ctx context.Context, cfg *config.AuthConfig) (*Validator, error) {
	if cfg.Disabled {
		return &Validator{disabled: true}, nil
	}
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("auth: jwks_url is required unless auth is disabled")
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("auth: register jwks: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("auth: fetch jwks: %w", err)
	}

	return &Validator{
		keys:     jwk.NewCachedSet(cache, cfg.JWKSURL),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// NewStaticValidator builds a validator over a fixed key set. Used in tests
// and air-gapped deployments.
func NewStaticValidator(keys jwk.Set, issuer, audience string) *Validator {
	return &Validator{keys: keys, issuer: issuer, audience: audience}
}

// Disabled reports whether every request is treated as anonymous.
func (v *Validator) Disabled() bool { return v.disabled }

// Validate checks the token's signature, expiry, issuer, and audience, and
// extracts the principal. Issued-at is deliberately not checked; clock skew
// between the token issuer and this service is common.
func (v *Validator) Validate(ctx context.Context, token string) (*Principal, error) {
	if v.disabled {
		p := Anonymous
		return &p, nil
	}

	opts := []jwt.ParseOption{
		jwt.WithContext(ctx),
		jwt.WithKeySet(v.keys),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	p := &Principal{UserID: tok.Subject(), UserType: "authenticated"}
	if email, ok := tok.Get("email"); ok {
		if s, ok := email.(string); ok {
			p.Email = s
		}
	}
	if ut, ok := tok.Get("user_type"); ok {
		if s, ok := ut.(string); ok && s != "" {
			p.UserType = s
		}
	}
	if perms, ok := tok.Get("permissions"); ok {
		if list, ok := perms.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					p.Permissions = append(p.Permissions, s)
				}
			}
		}
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return p, nil
}

// Middleware authenticates requests and injects the principal. Responses
// for failed auth are plain 401s with no detail; the detail is logged by
// the server's request logger.
func Middleware(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v.disabled {
				p := Anonymous
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), &p)))
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			p, err := v.Validate(r.Context(), token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
