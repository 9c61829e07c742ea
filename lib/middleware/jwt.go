package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/onkernel/layerbuild/lib/logger"
)

type contextKey string

const subjectKey contextKey = "subject"

var errBadAuthHeader = errors.New("invalid authorization header format")

// VerifyJWT rejects requests without a valid HS256 bearer token signed with
// secret. The token subject is stored in the request context.
func VerifyJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := logger.FromContext(ctx)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.WarnContext(ctx, "missing authorization header")
				writeUnauthorized(w, "authorization header required")
				return
			}

			token, err := extractBearerToken(authHeader)
			if err != nil {
				log.WarnContext(ctx, "invalid authorization header", "error", err)
				writeUnauthorized(w, err.Error())
				return
			}

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !parsed.Valid {
				log.WarnContext(ctx, "rejected token", "error", err)
				writeUnauthorized(w, "invalid token")
				return
			}

			subject, _ := claims.GetSubject()
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, subjectKey, subject)))
		})
	}
}

func extractBearerToken(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || token == "" {
		return "", errBadAuthHeader
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("unsupported authorization scheme: %s", strings.ToLower(scheme))
	}
	return token, nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized", "message": message})
}

// SubjectFromContext returns the subject of the verified token, if any.
func SubjectFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey).(string); ok {
		return s
	}
	return ""
}
