// Package identity binds the external identity/profile service at its boundary.
// The matchmaker resolves every join through a Resolver before admitting the
// player; a resolution failure is a join error, never a crash.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthenticated signals that the identity service could not vouch for the player.
var ErrUnauthenticated = errors.New("identity lookup failed")

// Profile is the stable identity record the profile service returns.
type Profile struct {
	PlayerID string `json:"id"`
	Username string `json:"username"`
}

// Resolver looks up the stable identity behind a claimed player id.
type Resolver interface {
	Resolve(ctx context.Context, playerID, claimedUsername string) (Profile, error)
}

// PassthroughResolver accepts any non-empty claimed identity without a remote call.
// It is the default when no identity service is configured.
type PassthroughResolver struct{}

// Resolve validates the claimed identity fields and echoes them back.
func (PassthroughResolver) Resolve(_ context.Context, playerID, claimedUsername string) (Profile, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Profile{}, fmt.Errorf("%w: player id missing", ErrUnauthenticated)
	}
	username := strings.TrimSpace(claimedUsername)
	if username == "" {
		username = playerID
	}
	return Profile{PlayerID: playerID, Username: username}, nil
}

// HTTPResolver queries the profile service over HTTP with a service token.
type HTTPResolver struct {
	baseURL      string
	serviceToken string
	client       *http.Client
}

// HTTPResolverOption configures optional HTTPResolver behaviour.
type HTTPResolverOption func(*HTTPResolver)

// WithHTTPClient replaces the default HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) HTTPResolverOption {
	return func(r *HTTPResolver) {
		if client != nil {
			r.client = client
		}
	}
}

// NewHTTPResolver constructs a resolver against the given profile service base URL.
func NewHTTPResolver(baseURL, serviceToken string, opts ...HTTPResolverOption) (*HTTPResolver, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("identity base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid identity base URL: %w", err)
	}
	resolver := &HTTPResolver{
		baseURL:      baseURL,
		serviceToken: strings.TrimSpace(serviceToken),
		client:       &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver, nil
}

// Resolve fetches the profile record for the claimed player id.
func (r *HTTPResolver) Resolve(ctx context.Context, playerID, claimedUsername string) (Profile, error) {
	if r == nil || r.client == nil {
		return Profile{}, fmt.Errorf("%w: resolver not configured", ErrUnauthenticated)
	}
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Profile{}, fmt.Errorf("%w: player id missing", ErrUnauthenticated)
	}

	//1.- Build the lookup request with the service token attached when configured.
	endpoint := fmt.Sprintf("%s/api/v1/profiles/%s", r.baseURL, url.PathEscape(playerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.serviceToken)
	}

	//2.- Any transport or non-200 outcome degrades to an authentication failure.
	resp, err := r.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: profile service returned %d", ErrUnauthenticated, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return Profile{}, fmt.Errorf("%w: malformed profile payload", ErrUnauthenticated)
	}
	if strings.TrimSpace(profile.PlayerID) == "" {
		return Profile{}, fmt.Errorf("%w: profile missing id", ErrUnauthenticated)
	}
	if strings.TrimSpace(profile.Username) == "" {
		profile.Username = strings.TrimSpace(claimedUsername)
	}
	return profile, nil
}
