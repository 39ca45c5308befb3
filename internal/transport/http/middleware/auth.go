package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const credentialKey contextKey = "credential"

// RequireCredential rejects requests without a bearer token and stores the
// token for the service layer, which does the actual verification.
func RequireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "Missing or invalid token")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			unauthorized(w, "Missing or invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), token)))
	})
}

func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey, token)
}

// GetCredential returns the bearer token stored by RequireCredential.
func GetCredential(ctx context.Context) string {
	token, _ := ctx.Value(credentialKey).(string)
	return token
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + message + `"}}`))
}
