// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package auth verifies bearer tokens and binds the authenticated user
// identity to the request context.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zapsocial/zapfeed/internal/config"
)

var (
	// ErrNoCredentials is returned when a request carries no token.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrExpiredCredentials is returned for a token past its expiry.
	ErrExpiredCredentials = errors.New("credentials expired")

	// ErrInvalidCredentials is returned for a malformed or tampered token.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims are the token claims issued by the identity service. The user
// ID travels in the registered Subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier from the security configuration.
// The secret must be set; Config.Validate enforces a minimum length
// when auth is required.
func NewVerifier(cfg config.SecurityConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required but was empty")
	}
	return &Verifier{secret: []byte(cfg.JWTSecret)}, nil
}

// Verify parses and validates a token string and returns the subject
// user ID.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredentials
		}
		return "", ErrInvalidCredentials
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}

// Sign creates a token for a user ID, valid for the given lifetime.
// The server never issues tokens in production; this exists for tests
// and local development tooling.
func (v *Verifier) Sign(userID string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
