package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"servicemarket/crypto"
)

// DevPrincipalHeader carries the caller principal when bearer authentication
// is disabled. It is ignored whenever auth is enabled.
const DevPrincipalHeader = "X-Market-Principal"

type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	ScopeClaim     string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const (
	ContextKeyToken     contextKey = "market.token"
	ContextKeyScopes    contextKey = "market.scopes"
	ContextKeyPrincipal contextKey = "market.principal"
)

var (
	errSecretMissing  = errors.New("auth secret not configured")
	errSubjectMissing = errors.New("token subject missing")

	// ErrInsufficientScope is returned by Authenticate when a required scope is
	// absent from the token.
	ErrInsufficientScope = errors.New("insufficient scope")
)

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "auth")),
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware authenticates the bearer token and stores the caller principal,
// taken from the "sub" claim, in the request context.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				ctx := r.Context()
				if raw := strings.TrimSpace(r.Header.Get(DevPrincipalHeader)); raw != "" {
					principal, err := crypto.ParsePrincipal(raw)
					if err != nil {
						http.Error(w, "invalid principal header", http.StatusBadRequest)
						return
					}
					ctx = WithPrincipal(ctx, principal)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if a.isOptional(r.URL.Path) && a.cfg.AllowAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("token validation failed", slog.Any("error", err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
				a.logger.Warn("claim validation failed", slog.Any("error", err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			principal, err := principalFromClaims(claims)
			if err != nil {
				a.logger.Warn("principal rejected", slog.Any("error", err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if len(requiredScopes) > 0 && !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
			ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
			ctx = WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPrincipal attaches an authenticated principal to ctx.
func WithPrincipal(ctx context.Context, principal [20]byte) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// PrincipalFromContext returns the caller principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) ([20]byte, bool) {
	principal, ok := ctx.Value(ContextKeyPrincipal).([20]byte)
	return principal, ok
}

// ScopesFromContext returns the scopes granted to the caller.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

// Enabled reports whether bearer tokens are enforced.
func (a *Authenticator) Enabled() bool { return a.cfg.Enabled }

// Authenticate validates a raw bearer token outside of HTTP, for example on
// gRPC metadata, and returns the subject principal with its scopes.
func (a *Authenticator) Authenticate(tokenString string, requiredScopes ...string) ([20]byte, []string, error) {
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return [20]byte{}, nil, err
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
		return [20]byte{}, nil, err
	}
	principal, err := principalFromClaims(claims)
	if err != nil {
		return [20]byte{}, nil, err
	}
	scopes := extractScopes(claims, a.cfg.ScopeClaim)
	if len(requiredScopes) > 0 && !hasScopes(scopes, requiredScopes) {
		return [20]byte{}, nil, ErrInsufficientScope
	}
	return principal, scopes, nil
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errSecretMissing
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func principalFromClaims(claims jwt.MapClaims) ([20]byte, error) {
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return [20]byte{}, errSubjectMissing
	}
	return crypto.ParsePrincipal(sub)
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenRequest describes a bearer token minted for a principal.
type TokenRequest struct {
	Principal [20]byte
	Scopes    []string
	Issuer    string
	Audience  string
	TTL       time.Duration
	Now       time.Time
}

// IssueToken signs an HS256 token whose subject is the principal.
func IssueToken(secret string, req TokenRequest) (string, error) {
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		return "", errSecretMissing
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.MapClaims{
		"sub": crypto.FormatPrincipal(req.Principal),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if req.Issuer != "" {
		claims["iss"] = req.Issuer
	}
	if req.Audience != "" {
		claims["aud"] = req.Audience
	}
	if len(req.Scopes) > 0 {
		claims["scope"] = strings.Join(req.Scopes, " ")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
