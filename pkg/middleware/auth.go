package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// UserIDHeader is the header the API gateway forwards after authenticating a
// staff user.
const UserIDHeader = "X-User-ID"

// Identity resolves the calling user and stores its ID in the request context.
//
// When secret is non-empty and the request carries a bearer token, the token
// must be a valid HMAC-signed JWT; its user_id (or sub) claim wins. Otherwise
// the gateway-forwarded X-User-ID header is used. Requests with neither pass
// through anonymously.
func Identity(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))

			if secret != "" {
				if authHeader := r.Header.Get("Authorization"); authHeader != "" {
					parts := strings.SplitN(authHeader, " ", 2)
					if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
						writeAuthError(w, "invalid authorization header format")
						return
					}
					subject, err := parseSubject(parts[1], secret)
					if err != nil {
						logger.Warn("invalid JWT token",
							slog.String("path", r.URL.Path),
							slog.String("error", err.Error()),
						)
						writeAuthError(w, "invalid or expired token")
						return
					}
					userID = subject
				}
			}

			if userID != "" {
				r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseSubject(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	if id, _ := claims["user_id"].(string); id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", jwt.ErrTokenInvalidClaims
}

// UserIDFromContext extracts the user ID resolved by Identity.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	writeErrorEnvelope(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}
