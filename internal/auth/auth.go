// Package auth implements the gateway's credential checks: a constant-time
// API key comparison by default, with an optional JWT bearer authorizer.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any rejected credential. Callers never see
// which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string
	Method  string
}

// Authorizer validates a caller credential.
type Authorizer interface {
	Authorize(ctx context.Context, credential string) (*Principal, error)
}

// APIKeyAuthorizer compares credentials against the configured API key in
// constant time. Comparing fixed-size digests keeps the comparison length-
// independent.
type APIKeyAuthorizer struct {
	keyDigest [sha256.Size]byte
}

// NewAPIKeyAuthorizer creates an authorizer for the configured key.
func NewAPIKeyAuthorizer(apiKey string) *APIKeyAuthorizer {
	return &APIKeyAuthorizer{keyDigest: sha256.Sum256([]byte(apiKey))}
}

// Authorize accepts the raw key, with or without a "Bearer " prefix.
func (a *APIKeyAuthorizer) Authorize(_ context.Context, credential string) (*Principal, error) {
	credential = strings.TrimPrefix(credential, "Bearer ")
	digest := sha256.Sum256([]byte(credential))
	if subtle.ConstantTimeCompare(a.keyDigest[:], digest[:]) != 1 {
		return nil, ErrUnauthorized
	}
	return &Principal{Subject: "api-key", Method: "api_key"}, nil
}

// JWTAuthorizer validates HS256 bearer tokens. Installed as the authorization
// hook when a JWT secret is configured.
type JWTAuthorizer struct {
	secret []byte
}

// NewJWTAuthorizer creates a bearer-token authorizer.
func NewJWTAuthorizer(secret string) *JWTAuthorizer {
	return &JWTAuthorizer{secret: []byte(secret)}
}

// Authorize parses and validates the bearer token and returns its subject.
func (a *JWTAuthorizer) Authorize(_ context.Context, credential string) (*Principal, error) {
	tokenStr := strings.TrimPrefix(credential, "Bearer ")
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &Principal{Subject: subject, Method: "jwt"}, nil
}
