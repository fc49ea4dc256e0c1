package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPAuthorizer resolves handshake tokens against the surrounding backend's
// introspection endpoint. This core never validates credentials itself.
type HTTPAuthorizer struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewHTTPAuthorizer returns nil when no endpoint is configured; a nil
// authorizer means every connection is rejected.
func NewHTTPAuthorizer(baseURL, resourceSecret string) *HTTPAuthorizer {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	return &HTTPAuthorizer{
		endpoint: strings.TrimRight(baseURL, "/"),
		secret:   strings.TrimSpace(resourceSecret),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type introspectResponse struct {
	Active bool   `json:"active"`
	UserID string `json:"userId"`
}

// Authenticate implements Authorizer.
func (a *HTTPAuthorizer) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("access token is required")
	}

	authCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(authCtx, http.MethodPost, a.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if a.secret != "" {
		req.Header.Set("X-Resource-Secret", a.secret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call auth introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth introspection status %d", resp.StatusCode)
	}

	var payload introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode introspection response: %w", err)
	}
	if !payload.Active {
		return "", errors.New("inactive access token")
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		return "", errors.New("introspection returned empty user id")
	}
	return userID, nil
}
