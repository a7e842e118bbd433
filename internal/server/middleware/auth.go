package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/golang-jwt/jwt/v4"
)

// AuthConfig controls bearer-token authentication for the API.
type AuthConfig struct {
	// Required rejects requests without a valid token.
	Required bool
	// Secret verifies HS256 tokens.
	Secret []byte
	// DefaultUser is used when no token is presented and auth is optional.
	DefaultUser string
}

type userIDContextKey string

const UserIDContextKey userIDContextKey = "user_id"

// Auth resolves the caller's user id from an HS256 bearer token. The id is
// read from the "sub" claim, falling back to "user_id".
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if cfg.Required || cfg.DefaultUser == "" {
					writeUnauthorized(w, r, "missing bearer token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), cfg.DefaultUser)))
				return
			}

			userID, err := ParseUserID(token, cfg.Secret)
			if err != nil {
				writeUnauthorized(w, r, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// ParseUserID verifies token and returns its user id claim.
func ParseUserID(token string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token verification is not configured")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token claims")
	}
	for _, key := range []string{"sub", "user_id"} {
		switch v := claims[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), nil
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return "", errors.New("token has no user id claim")
}

// WithUserID stores userID on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// GetUserID returns the authenticated user id, or "" when none is set.
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDContextKey).(string); ok {
		return userID
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	envelope := gferrors.NewErrorEnvelope("UNAUTHORIZED", "authentication required").
		WithCorrelationID(GetRequestID(r.Context()))
	envelope, _ = envelope.WithContext(map[string]interface{}{"reason": detail})
	writeErrorResponse(w, envelope, http.StatusUnauthorized)
}
