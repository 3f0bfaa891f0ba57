package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cimillas/ticket-engine/internal/domain"
)

const defaultRemoteTimeout = 3 * time.Second

// RemoteGate asks the identity provider's user endpoint who owns a token.
type RemoteGate struct {
	userURL string
	apiKey  string
	client  *http.Client
}

type RemoteOption func(*RemoteGate)

// WithHTTPClient overrides the client used to reach the provider.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(g *RemoteGate) {
		if c != nil {
			g.client = c
		}
	}
}

// WithAPIKey sends key in the apikey header, as hosted providers expect.
func WithAPIKey(key string) RemoteOption {
	return func(g *RemoteGate) {
		g.apiKey = key
	}
}

func NewRemoteGate(baseURL string, opts ...RemoteOption) *RemoteGate {
	g := &RemoteGate{
		userURL: strings.TrimRight(baseURL, "/") + "/user",
		client:  &http.Client{Timeout: defaultRemoteTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type userResponse struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	UserMetadata struct {
		Role string `json:"role"`
	} `json:"user_metadata"`
}

func (g *RemoteGate) Authorize(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.ErrAuthInvalid
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userURL, nil)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return domain.Identity{}, err
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.Identity{}, domain.ErrAuthInvalid
	case resp.StatusCode >= 500:
		return domain.Identity{}, fmt.Errorf("%w: provider status %d", domain.ErrAuthUnreachable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.Identity{}, domain.ErrAuthInvalid
	}

	var body userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return domain.Identity{}, domain.ErrAuthInvalid
	}

	role := domain.Role(body.UserMetadata.Role)
	if !role.Valid() {
		role = domain.Role(body.Role)
	}
	if body.ID == "" || !role.Valid() {
		return domain.Identity{}, domain.ErrAuthInvalid
	}
	return domain.Identity{UserID: body.ID, Role: role}, nil
}
