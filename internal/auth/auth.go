// Package auth provides bearer-token authentication and role gating for the
// HTTP API. Tokens are HS256 JWTs carrying the Growth OS user ID and role.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role mirrors the Growth OS user roles
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleGrowthLead   Role = "growth_lead"
	RoleAnalystOps   Role = "analyst_ops"
	RoleCreative     Role = "creative"
	RoleClientViewer Role = "client_viewer"
)

// DefinitionEditors are the roles allowed to mutate activation definitions
// and ingest events.
var DefinitionEditors = []Role{RoleAdmin, RoleGrowthLead, RoleAnalystOps}

// Claims is the authenticated identity attached to a request
type Claims struct {
	UserID string
	Role   Role
}

type contextKey struct{}

// FromContext returns the claims attached by Verify, if any
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

// Authenticator verifies bearer tokens. A nil *Authenticator disables auth:
// its middleware passes requests through untouched, which keeps local
// development usable without minting tokens.
type Authenticator struct {
	secret []byte
}

// New creates an authenticator from a shared HMAC secret. Returns nil for
// an empty secret (auth disabled).
func New(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Sign mints a token for a user. Used by tests and operator tooling.
func (a *Authenticator) Sign(userID string, role Role, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(a.secret)
}

// Verify authenticates the request and attaches claims to the context.
// Responds 401 on a missing or invalid token.
func (a *Authenticator) Verify(next http.Handler) http.Handler {
	if a == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := a.parse(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// Require gates a route to the given roles. Must run after Verify.
// Responds 403 when the authenticated role is not in the set.
func (a *Authenticator) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, "insufficient role", http.StatusForbidden)
		})
	}
}

func (a *Authenticator) parse(raw string) (*Claims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid claims")
	}

	sub, _ := mapClaims["sub"].(string)
	role, _ := mapClaims["role"].(string)
	if sub == "" || role == "" {
		return nil, fmt.Errorf("token missing sub or role")
	}

	return &Claims{UserID: sub, Role: Role(role)}, nil
}
