package session

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-session-sync/core"
	"golang.org/x/sync/singleflight"
)

type provisionOutcome struct {
	result core.EnsureUserResult
	// cached is true when the email was already provisioned earlier in the
	// process and the remote call was not repeated.
	cached bool
}

// provisioner guarantees at most one outstanding EnsureUser call per email and
// at most one successful call per email for the process lifetime.
type provisioner struct {
	gateway core.UserProvisioner
	timeout time.Duration

	group singleflight.Group
	mu    sync.Mutex
	done  map[string]core.EnsureUserResult
}

func newProvisioner(gateway core.UserProvisioner, timeout time.Duration) *provisioner {
	return &provisioner{
		gateway: gateway,
		timeout: timeout,
		done:    map[string]core.EnsureUserResult{},
	}
}

func (p *provisioner) ensure(ctx context.Context, email string, displayName string) (provisionOutcome, error) {
	key := core.NormalizeEmail(email)
	if key == "" {
		return provisionOutcome{}, core.BadInputError("session: email is required for provisioning")
	}
	if p == nil || p.gateway == nil {
		return provisionOutcome{}, core.InternalError("session: user provisioner is not configured")
	}
	if result, ok := p.lookup(key); ok {
		return provisionOutcome{result: result, cached: true}, nil
	}

	value, err, _ := p.group.Do(key, func() (any, error) {
		if result, ok := p.lookup(key); ok {
			return provisionOutcome{result: result, cached: true}, nil
		}
		result, err := core.CallWithTimeout(core.Detach(ctx), p.timeout, func(ctx context.Context) (core.EnsureUserResult, error) {
			return p.gateway.EnsureUser(ctx, key, displayName)
		})
		if err != nil {
			return provisionOutcome{}, err
		}
		p.mu.Lock()
		p.done[key] = result
		p.mu.Unlock()
		return provisionOutcome{result: result}, nil
	})
	if err != nil {
		return provisionOutcome{}, core.ProvisioningError(err, key)
	}
	return value.(provisionOutcome), nil
}

func (p *provisioner) lookup(key string) (core.EnsureUserResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, ok := p.done[key]
	return result, ok
}
