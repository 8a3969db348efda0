package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"arenaclash/server/internal/auth"
)

// Authenticator gates the websocket upgrade. The returned subject is attached
// to the connection's log context; it is advisory, not the player identity.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AllowAllAuthenticator admits every upgrade request. Used when no shared
// secret is configured, which is the development default.
type AllowAllAuthenticator struct{}

// Authenticate always succeeds with an empty subject.
func (AllowAllAuthenticator) Authenticate(*http.Request) (string, error) {
	return "", nil
}

type hmacAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

// NewHMACAuthenticator builds an authenticator that requires a signed token in
// either the auth_token query parameter or the X-Auth-Token header.
func NewHMACAuthenticator(secret string) (Authenticator, error) {
	verifier, err := auth.NewHMACTokenVerifier(secret, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &hmacAuthenticator{verifier: verifier}, nil
}

// Authenticate validates the presented token and returns its subject.
func (a *hmacAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errors.New("missing auth token")
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
