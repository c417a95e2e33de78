// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const userIDKey contextKey = "auth.user_id"

// UserID returns the authenticated user ID from the request context,
// or "" when the request was anonymous.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithUserID returns a context carrying an authenticated user ID.
// Exposed for handler tests.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Middleware authenticates requests with the verifier. When required
// is false, requests without a token pass through anonymously; a token
// that is present is still validated either way.
type Middleware struct {
	verifier *Verifier
	required bool

	// onError renders the rejection; wired by the API layer so auth
	// failures share the standard error envelope.
	onError func(w http.ResponseWriter, r *http.Request, err error)
}

// NewMiddleware creates the auth middleware.
func NewMiddleware(verifier *Verifier, required bool, onError func(http.ResponseWriter, *http.Request, error)) *Middleware {
	return &Middleware{verifier: verifier, required: required, onError: onError}
}

// Handler wraps next with bearer token authentication.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r)
		if tokenString == "" {
			if m.required {
				m.onError(w, r, ErrNoCredentials)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		userID, err := m.verifier.Verify(tokenString)
		if err != nil {
			m.onError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// extractBearer pulls the bearer token from the Authorization header.
func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
