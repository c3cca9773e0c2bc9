package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const OrganizationIDContextKey = ContextKey("organizationID")

// OrganizationClaims is the token payload accepted by the admin API.
type OrganizationClaims struct {
	OrganizationID string `json:"org_id"`
	jwt.RegisteredClaims
}

// OrganizationIDFromContext returns the organization set by AuthMiddleware.
func OrganizationIDFromContext(ctx context.Context) (string, bool) {
	orgID, ok := ctx.Value(OrganizationIDContextKey).(string)
	return orgID, ok && orgID != ""
}

// IssueToken signs an HS256 token for orgID. Used by operators and tests.
func IssueToken(secret []byte, orgID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OrganizationClaims{
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   orgID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AuthMiddleware accepts "Authorization: Bearer <jwt>" signed with secret (HS256 only)
// and puts the org_id claim on the request context.
func AuthMiddleware(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With("middleware", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(ctx, "Authorization header missing")
				unauthorized(w, "Authorization header required")
				return
			}

			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				logger.WarnContext(ctx, "Invalid Authorization header format")
				unauthorized(w, "Invalid Authorization header format")
				return
			}

			claims := &OrganizationClaims{}
			_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					logger.InfoContext(ctx, "Expired token presented")
				} else {
					logger.WarnContext(ctx, "Token validation failed", "error", err)
				}
				unauthorized(w, "Invalid or expired token")
				return
			}
			if claims.OrganizationID == "" {
				logger.WarnContext(ctx, "Token has no org_id claim")
				unauthorized(w, "Token has no organization")
				return
			}

			ctx = context.WithValue(ctx, OrganizationIDContextKey, claims.OrganizationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
