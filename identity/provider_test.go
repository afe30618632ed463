package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-session-sync/core"
)

type fakeSource struct {
	mu         sync.Mutex
	cfg        core.ProviderConfig
	connected  bool
	claims     map[string]any
	connectErr error
	inits      int
}

func (s *fakeSource) Init(_ context.Context, cfg core.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.inits++
	return nil
}

func (s *fakeSource) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *fakeSource) UserInfo(context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.claims), nil
}

func (s *fakeSource) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *fakeSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

var _ ClaimsSource = (*fakeSource)(nil)

func TestClaimsProvider_MissingClientIDIsTerminal(t *testing.T) {
	source := &fakeSource{}
	provider, err := NewClaimsProvider(source, core.ProviderConfig{Network: "sapphire_devnet"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	err = provider.Init(context.Background())
	if !core.IsMisconfigured(err) {
		t.Fatalf("expected misconfiguration, got %v", err)
	}
	if core.IsRecoverable(err) {
		t.Fatalf("expected misconfiguration to be terminal")
	}
	if source.inits != 0 {
		t.Fatalf("expected source init to be skipped")
	}
}

func TestClaimsProvider_ConnectBeforeInitFails(t *testing.T) {
	provider, err := NewClaimsProvider(&fakeSource{}, core.ProviderConfig{ClientID: "client"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.Connect(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if provider.Connected() {
		t.Fatalf("expected uninitialized provider to report disconnected")
	}
}

func TestClaimsProvider_ConnectNormalizesIdentity(t *testing.T) {
	source := &fakeSource{claims: map[string]any{
		"email":       "user@example.com",
		"name":        "User",
		"verifierId":  "user@example.com",
		"typeOfLogin": "email_passwordless",
	}}
	provider, err := NewClaimsProvider(source, core.ProviderConfig{ClientID: " client ", ChainID: "0xaa36a7"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	if err := provider.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if source.cfg.ClientID != "client" || source.cfg.ChainID != "0xaa36a7" {
		t.Fatalf("expected trimmed config passed to source, got %+v", source.cfg)
	}

	identity, err := provider.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if identity.Email != "user@example.com" || identity.ExternalID != "email_passwordless|user@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !provider.Connected() {
		t.Fatalf("expected connected")
	}

	if err := provider.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if provider.Connected() {
		t.Fatalf("expected disconnected after logout")
	}
}

func TestClaimsProvider_VerifiedIDTokenOverridesUserInfo(t *testing.T) {
	source := &fakeSource{connected: true, claims: map[string]any{
		"email":   "spoofed@example.com",
		"idToken": "token-1",
	}}
	provider, err := NewClaimsProvider(source, core.ProviderConfig{ClientID: "client"},
		WithIDTokenVerifier(func(_ context.Context, token string) (map[string]any, error) {
			if token != "token-1" {
				t.Fatalf("unexpected token %q", token)
			}
			return map[string]any{"email": "verified@example.com", "sub": "abc"}, nil
		}))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := provider.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	identity, err := provider.GetIdentity(context.Background())
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if identity.Email != "verified@example.com" || identity.ExternalID != "abc" {
		t.Fatalf("expected verified claims to win, got %+v", identity)
	}
}

func TestClaimsProvider_EmptyClaimsFail(t *testing.T) {
	provider, err := NewClaimsProvider(&fakeSource{connected: true}, core.ProviderConfig{ClientID: "client"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := provider.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := provider.GetIdentity(context.Background()); err == nil {
		t.Fatalf("expected empty claims to fail")
	}
}

func TestUserInfoSource_FetchesClaimsWithBearerToken(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = strings.TrimSpace(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"google_sub_1","email":"google@example.com","name":"Google User"}`))
	}))
	defer server.Close()

	source := NewUserInfoSource(server.URL, func(context.Context) (string, error) { return "access_1", nil }, server.Client())
	provider, err := NewClaimsProvider(source, core.ProviderConfig{ClientID: "client"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	if err := provider.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if provider.Connected() {
		t.Fatalf("expected disconnected before connect")
	}
	identity, err := provider.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if authorization != "Bearer access_1" {
		t.Fatalf("expected bearer token, got %q", authorization)
	}
	if identity.Email != "google@example.com" || identity.DisplayName != "Google User" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestUserInfoSource_RequiresEndpoint(t *testing.T) {
	source := NewUserInfoSource("", nil, nil)
	provider, err := NewClaimsProvider(source, core.ProviderConfig{ClientID: "client"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := provider.Init(context.Background()); !errors.Is(err, core.ErrProviderMisconfigured) {
		t.Fatalf("expected misconfiguration, got %v", err)
	}
	if _, err := source.UserInfo(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestUserInfoSource_NonSuccessStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	source := NewUserInfoSource(server.URL, func(context.Context) (string, error) { return "expired", nil }, server.Client())
	if err := source.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := source.UserInfo(context.Background()); err == nil {
		t.Fatalf("expected status error")
	}
}
