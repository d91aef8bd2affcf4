package middleware

import (
	"context"
	"net/http"
	"strings"

	"notepad-sync/internal/domain"
	"notepad-sync/pkg/jwt"
	"notepad-sync/pkg/response"
)

type contextKey string

const (
	UserIDKey   contextKey = "userID"
	UsernameKey contextKey = "username"
)

func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			token := parts[1]
			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			RecordUser(r, claims.UserID)
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UsernameKey, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetIdentity returns the authenticated user. The username falls back to the user id
// for tokens issued without one.
func GetIdentity(r *http.Request) domain.Identity {
	identity := domain.Identity{UserID: GetUserID(r)}
	if username, ok := r.Context().Value(UsernameKey).(string); ok && username != "" {
		identity.Username = username
	} else {
		identity.Username = identity.UserID
	}
	return identity
}
