// Package auth gates administrative endpoints by delegating identity
// verification to an external auth service. The check is composed in front of
// handlers and never lives inside routing logic.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing or invalid authorization header")
	ErrUnauthorized = errors.New("token verification failed")
	ErrForbidden    = errors.New("insufficient role")
	ErrUnavailable  = errors.New("auth server unavailable")
)

// Identity is the verified caller attached to the request context.
type Identity struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

// Verifier checks that a bearer token carries the required role and returns
// the caller's identity. The role decision may be made remotely.
type Verifier interface {
	VerifyRole(ctx context.Context, token, requiredRole string) (Identity, error)
}

// RemoteVerifier delegates the whole permission decision to the auth server:
// the required role travels in the request body and the server answers 401,
// 403 or 200 with the caller's identity.
type RemoteVerifier struct {
	baseURL string
	client  *http.Client
}

func NewRemoteVerifier(baseURL string) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *RemoteVerifier) VerifyRole(ctx context.Context, token, requiredRole string) (Identity, error) {
	body, err := json.Marshal(map[string]string{"required_role": requiredRole})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/rbac/verify-permission", bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Identity{}, fmt.Errorf("%w: auth server rejected token", ErrUnauthorized)
	case http.StatusForbidden:
		return Identity{}, fmt.Errorf("%w: required role %q", ErrForbidden, requiredRole)
	default:
		return Identity{}, fmt.Errorf("%w: auth server returned %d", ErrUnavailable, resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("%w: decode identity: %v", ErrUnauthorized, err)
	}
	return id, nil
}

// LocalVerifier validates HS256 tokens with a shared secret and decides the
// role locally. Intended for development and tests where no auth server is
// running.
type LocalVerifier struct {
	secret []byte
}

func NewLocalVerifier(secret string) *LocalVerifier {
	return &LocalVerifier{secret: []byte(secret)}
}

func (v *LocalVerifier) VerifyRole(_ context.Context, token, requiredRole string) (Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	id := Identity{}
	if sub, ok := claims["sub"].(string); ok {
		id.Subject = sub
	}
	if role, ok := claims["role"].(string); ok {
		id.Role = role
	}
	if requiredRole != "" && id.Role != requiredRole && id.Role != "super_admin" {
		return Identity{}, fmt.Errorf("%w: required role %q", ErrForbidden, requiredRole)
	}
	return id, nil
}

type ctxKey struct{}

// FromContext returns the verified identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// ReadBearer extracts the bearer token, or "" when absent.
func ReadBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireRole wraps a handler with a verification check. The verified
// identity is attached to the request context for the handler.
func RequireRole(v Verifier, role string, onError func(w http.ResponseWriter, status int, detail string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ReadBearer(r)
			if tok == "" {
				onError(w, http.StatusUnauthorized, ErrMissingToken.Error())
				return
			}
			id, err := v.VerifyRole(r.Context(), tok, role)
			switch {
			case err == nil:
			case errors.Is(err, ErrForbidden):
				onError(w, http.StatusForbidden, ErrForbidden.Error())
				return
			case errors.Is(err, ErrUnavailable):
				onError(w, http.StatusServiceUnavailable, ErrUnavailable.Error())
				return
			default:
				onError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		})
	}
}
