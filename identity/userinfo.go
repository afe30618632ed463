package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
	"github.com/goliatone/go-session-sync/transport"
)

const (
	defaultUserInfoTimeout       = 10 * time.Second
	maxUserInfoBytes       int64 = 1 << 20
)

var ErrNotConnected = errors.New("identity: not connected")

// TokenSource yields the bearer token used against the user-info endpoint.
type TokenSource func(ctx context.Context) (string, error)

// UserInfoSource is a ClaimsSource backed by an OIDC user-info endpoint.
// Connect obtains a token; UserInfo fetches the claims with it.
type UserInfoSource struct {
	endpoint string
	tokens   TokenSource
	adapter  *transport.RESTAdapter
	timeout  time.Duration

	mu    sync.Mutex
	token string
}

func NewUserInfoSource(endpoint string, tokens TokenSource, client transport.HTTPDoer) *UserInfoSource {
	adapter := transport.NewRESTAdapter(client)
	adapter.MaxResponseBodyBytes = maxUserInfoBytes
	adapter.DefaultHeaders["Accept"] = "application/json"
	return &UserInfoSource{
		endpoint: strings.TrimSpace(endpoint),
		tokens:   tokens,
		adapter:  adapter,
		timeout:  defaultUserInfoTimeout,
	}
}

func (s *UserInfoSource) Init(_ context.Context, _ core.ProviderConfig) error {
	if s.endpoint == "" || s.tokens == nil {
		return fmt.Errorf("%w: user-info endpoint and token source are required", core.ErrProviderMisconfigured)
	}
	return nil
}

func (s *UserInfoSource) Connect(ctx context.Context) error {
	token, err := s.tokens(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("identity: token source returned an empty token")
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *UserInfoSource) UserInfo(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil, ErrNotConnected
	}

	res, err := s.adapter.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     s.endpoint,
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Timeout: s.timeout,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("identity: user-info endpoint returned status %d", res.StatusCode)
	}
	var claims map[string]any
	if err := json.Unmarshal(res.Body, &claims); err != nil {
		return nil, fmt.Errorf("identity: decode user-info response: %w", err)
	}
	return claims, nil
}

func (s *UserInfoSource) Logout(context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}

func (s *UserInfoSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

var _ ClaimsSource = (*UserInfoSource)(nil)
