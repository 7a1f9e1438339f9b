package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/sandeepkv93/secure-session-core/internal/http/response"
	"github.com/sandeepkv93/secure-session-core/internal/observability"
	"github.com/sandeepkv93/secure-session-core/internal/security"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// Principal is the identity attached to a request by a verified access token.
type Principal struct {
	UserID    uint
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

type AccessVerifier interface {
	Verify(raw string) (*security.Claims, error)
}

type GateOptions struct {
	// PublicPaths are Ant-style patterns ("/health/**") that bypass the gate.
	PublicPaths []string
	// HardFail answers 401 when a presented token is unusable instead of
	// continuing anonymously.
	HardFail bool
}

// AuthenticationGate attaches a Principal for valid access tokens. Missing or
// unusable tokens leave the request anonymous; RequireAuthenticated decides
// whether the route needs an identity.
func AuthenticationGate(verifier AccessVerifier, opts GateOptions) func(http.Handler) http.Handler {
	public := compilePublicPaths(opts.PublicPaths)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if r.Method == http.MethodOptions {
				observability.RecordGateDecision(ctx, "skipped", "preflight")
				next.ServeHTTP(w, r)
				return
			}
			if public.match(r.URL.Path) {
				observability.RecordGateDecision(ctx, "skipped", "public")
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := PrincipalFromContext(ctx); ok {
				observability.RecordGateDecision(ctx, "authenticated", "upstream")
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				observability.RecordGateDecision(ctx, "anonymous", "none")
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(raw)
			if err == nil && claims.Type() != security.TokenTypeAccess {
				err = security.ErrInvalidToken
			}
			var principal Principal
			if err == nil {
				principal, err = principalFromClaims(claims)
			}
			if err != nil {
				outcome := "invalid"
				if errors.Is(err, security.ErrExpiredToken) {
					outcome = "expired"
				}
				observability.RecordGateDecision(ctx, outcome, "bearer")
				if opts.HardFail {
					w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			observability.RecordGateDecision(ctx, "authenticated", "bearer")
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// RequireAuthenticated rejects anonymous requests. It runs after the gate.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return "", false
	}
	tok := fields[1]
	if strings.EqualFold(tok, "null") || strings.EqualFold(tok, "undefined") {
		return "", false
	}
	return tok, true
}

func principalFromClaims(claims *security.Claims) (Principal, error) {
	id, err := claims.UserID()
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:    id,
		Subject:   claims.Subject,
		TokenID:   claims.TokenID(),
		ExpiresAt: claims.Expiry(),
	}, nil
}

type pathMatcher []glob.Glob

func compilePublicPaths(patterns []string) pathMatcher {
	var m pathMatcher
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if g, err := glob.Compile(p, '/'); err == nil {
			m = append(m, g)
		}
		if base, ok := strings.CutSuffix(p, "/**"); ok && base != "" {
			if g, err := glob.Compile(base, '/'); err == nil {
				m = append(m, g)
			}
		}
	}
	return m
}

func (m pathMatcher) match(path string) bool {
	for _, g := range m {
		if g.Match(path) {
			return true
		}
	}
	return false
}
