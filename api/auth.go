package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserHeader carries the actor id in development mode.
const UserHeader = "X-User-ID"

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization required")
)

type contextKey string

const actorKey contextKey = "actor_id"

// Claims are the JWT claims identifying the actor.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator resolves the acting user of a request. With a secret it
// requires an HS256 bearer token; without one it trusts the X-User-ID
// header, which is only meant for local development.
type Authenticator struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator. An empty secret selects header
// authentication.
func NewAuthenticator(secret string, tokenTTL time.Duration) *Authenticator {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), tokenTTL: tokenTTL, now: time.Now}
}

// DevMode reports whether the header is trusted instead of tokens.
func (a *Authenticator) DevMode() bool {
	return len(a.secret) == 0
}

// Issue signs a token for userID.
func (a *Authenticator) Issue(userID string) (string, error) {
	if a.DevMode() {
		return "", errors.New("no signing secret configured")
	}
	now := a.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Validate parses a token and returns its claims.
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the actor
// id in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actor(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (a *Authenticator) actor(r *http.Request) (string, error) {
	if a.DevMode() {
		actor := strings.TrimSpace(r.Header.Get(UserHeader))
		if actor == "" {
			return "", ErrMissingToken
		}
		return actor, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		// EventSource cannot set headers.
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			header = "Bearer " + tok
		}
	}
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrInvalidToken
	}
	claims, err := a.Validate(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// WithActor returns a context carrying the actor id.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFrom returns the actor id stored by the middleware.
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}
