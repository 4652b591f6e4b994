package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
	"github.com/platinummonkey/tenantrbac/pkg/httputil"
	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

// DefaultActorHeader is read when no bearer token is present and header
// trust is enabled.
const DefaultActorHeader = "X-Actor-ID"

// ErrNoActor is returned by ActorFromRequest when the request carries no
// identity at all.
var ErrNoActor = errors.New("no actor in request")

// ActorConfig configures the actor middleware
type ActorConfig struct {
	// JWTSecret verifies HS256 bearer tokens. Empty disables bearer auth.
	JWTSecret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// TrustedHeader names a header set by a trusted proxy. Empty disables it.
	TrustedHeader string
	// Required rejects requests without an actor with 401.
	Required bool
	Logger   *observability.Logger
}

// ActorMiddleware resolves the acting user for each request and stores it
// with contextkeys.WithActorID.
type ActorMiddleware struct {
	cfg    ActorConfig
	logger *observability.Logger
}

// NewActorMiddleware creates a new actor middleware
func NewActorMiddleware(cfg ActorConfig) *ActorMiddleware {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ActorMiddleware{cfg: cfg, logger: logger.WithField("component", "actor_middleware")}
}

// Handler wraps an HTTP handler with actor extraction
func (m *ActorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := m.ActorFromRequest(r)
		switch {
		case errors.Is(err, ErrNoActor):
			if m.cfg.Required {
				httputil.WriteUnauthorized(w, "missing credentials")
				return
			}
			next.ServeHTTP(w, r)
			return
		case err != nil:
			m.logger.WithContext(r.Context()).WithError(err).Debug("rejected credentials")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithActorID(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromRequest returns the actor named by the request's bearer token or,
// failing that, by the trusted header.
func (m *ActorMiddleware) ActorFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" && len(m.cfg.JWTSecret) > 0 {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", errors.New("invalid authorization header format")
		}
		return m.subject(strings.TrimSpace(token))
	}
	if m.cfg.TrustedHeader != "" {
		if actor := strings.TrimSpace(r.Header.Get(m.cfg.TrustedHeader)); actor != "" {
			return actor, nil
		}
	}
	return "", ErrNoActor
}

func (m *ActorMiddleware) subject(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return m.cfg.JWTSecret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// IssueToken signs an HS256 token for subject, valid for ttl.
func IssueToken(secret []byte, issuer, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
