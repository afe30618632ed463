package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-session-sync/core"
)

var ErrNotInitialized = errors.New("identity: provider not initialized")

// ClaimsSource is the raw wallet or identity SDK. It reports user info as a
// loose claims map; ClaimsProvider turns it into a core.IdentityProvider.
type ClaimsSource interface {
	Init(ctx context.Context, cfg core.ProviderConfig) error
	Connect(ctx context.Context) error
	UserInfo(ctx context.Context) (map[string]any, error)
	Logout(ctx context.Context) error
	Connected() bool
}

type ClaimsProvider struct {
	source   ClaimsSource
	cfg      core.ProviderConfig
	verifier IDTokenVerifier

	mu          sync.Mutex
	initialized bool
}

type ProviderOption func(*ClaimsProvider)

// WithIDTokenVerifier verifies an idToken claim and lets its verified claims
// override the user-info payload.
func WithIDTokenVerifier(verifier IDTokenVerifier) ProviderOption {
	return func(p *ClaimsProvider) {
		p.verifier = verifier
	}
}

func NewClaimsProvider(source ClaimsSource, cfg core.ProviderConfig, opts ...ProviderOption) (*ClaimsProvider, error) {
	if source == nil {
		return nil, core.InternalError("identity: claims source is required")
	}
	p := &ClaimsProvider{
		source: source,
		cfg: core.ProviderConfig{
			ClientID: strings.TrimSpace(cfg.ClientID),
			Network:  strings.TrimSpace(cfg.Network),
			ChainID:  strings.TrimSpace(cfg.ChainID),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Init fails terminally when the client id is missing.
func (p *ClaimsProvider) Init(ctx context.Context) error {
	if p.cfg.ClientID == "" {
		return core.MisconfiguredError(
			fmt.Errorf("%w: client_id is required", core.ErrProviderMisconfigured),
			"init",
		)
	}
	if err := p.source.Init(ctx, p.cfg); err != nil {
		return err
	}
	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	return nil
}

func (p *ClaimsProvider) Connect(ctx context.Context) (core.Identity, error) {
	if !p.isInitialized() {
		return core.Identity{}, ErrNotInitialized
	}
	if err := p.source.Connect(ctx); err != nil {
		return core.Identity{}, err
	}
	return p.GetIdentity(ctx)
}

func (p *ClaimsProvider) Disconnect(ctx context.Context) error {
	if !p.isInitialized() {
		return ErrNotInitialized
	}
	return p.source.Logout(ctx)
}

func (p *ClaimsProvider) GetIdentity(ctx context.Context) (core.Identity, error) {
	if !p.isInitialized() {
		return core.Identity{}, ErrNotInitialized
	}
	claims, err := p.source.UserInfo(ctx)
	if err != nil {
		return core.Identity{}, err
	}
	if token := readString(claims[ClaimIDToken]); token != "" && p.verifier != nil {
		verified, err := ClaimsFromIDToken(ctx, token, p.verifier)
		if err != nil {
			return core.Identity{}, err
		}
		claims = mergeClaims(claims, verified)
	}
	identity := Normalize(claims)
	if identity.ExternalID == "" && identity.Email == "" {
		return core.Identity{}, fmt.Errorf("identity: provider returned no subject or email")
	}
	return identity, nil
}

func (p *ClaimsProvider) Connected() bool {
	return p.isInitialized() && p.source.Connected()
}

func (p *ClaimsProvider) isInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

var _ core.IdentityProvider = (*ClaimsProvider)(nil)
