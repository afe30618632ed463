package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-session-sync/core"
)

const (
	defaultJWKSRefreshInterval  = time.Hour
	defaultJWKSRefreshRateLimit = 5 * time.Minute
	defaultJWKSRefreshTimeout   = 10 * time.Second
)

// SigningKey is a statically configured verification key addressed by kid.
type SigningKey struct {
	Key       any
	Algorithm string
}

// JWTVerifierConfig selects the key source for id token verification. The
// first non-empty source wins: JWKSURL, JWKSJSON, SigningKeys.
type JWTVerifierConfig struct {
	JWKSURL     string
	JWKSJSON    json.RawMessage
	SigningKeys map[string]SigningKey

	// Issuer and Audience are enforced when set. Audience is usually the
	// provider client id.
	Issuer   string
	Audience string
	Leeway   time.Duration

	RefreshInterval time.Duration
	Logger          core.Logger
}

// JWTVerifier checks id token signatures against a JWK set and returns the
// token claims. Its Verify method satisfies IDTokenVerifier.
type JWTVerifier struct {
	jwks   *keyfunc.JWKS
	parser *jwt.Parser
}

func NewJWTVerifier(cfg JWTVerifierConfig) (*JWTVerifier, error) {
	jwks, err := buildJWKS(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &JWTVerifier{jwks: jwks, parser: jwt.NewParser(opts...)}, nil
}

func buildJWKS(cfg JWTVerifierConfig) (*keyfunc.JWKS, error) {
	given := make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
	for kid, key := range cfg.SigningKeys {
		given[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{Algorithm: key.Algorithm})
	}

	switch {
	case strings.TrimSpace(cfg.JWKSURL) != "":
		logger := cfg.Logger
		interval := cfg.RefreshInterval
		if interval <= 0 {
			interval = defaultJWKSRefreshInterval
		}
		jwks, err := keyfunc.Get(strings.TrimSpace(cfg.JWKSURL), keyfunc.Options{
			GivenKeys:         given,
			RefreshInterval:   interval,
			RefreshRateLimit:  defaultJWKSRefreshRateLimit,
			RefreshTimeout:    defaultJWKSRefreshTimeout,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				if logger != nil {
					logger.Warn("jwks background refresh failed", "error", err)
				}
			},
		})
		if err != nil {
			return nil, core.ProviderError(fmt.Errorf("identity: load jwks: %w", err), "load_jwks")
		}
		return jwks, nil
	case len(cfg.JWKSJSON) > 0:
		jwks, err := keyfunc.NewJSON(cfg.JWKSJSON)
		if err != nil {
			return nil, core.MisconfiguredError(fmt.Errorf("%w: invalid jwks: %v", core.ErrProviderMisconfigured, err), "load_jwks")
		}
		return jwks, nil
	case len(given) > 0:
		return keyfunc.NewGiven(given), nil
	default:
		return nil, core.MisconfiguredError(
			fmt.Errorf("%w: a jwks url, jwks document or signing key is required", core.ErrProviderMisconfigured),
			"load_jwks",
		)
	}
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (map[string]any, error) {
	if v == nil || v.jwks == nil {
		return nil, core.InternalError("identity: jwt verifier is not configured")
	}
	token, err := v.parser.Parse(strings.TrimSpace(raw), v.jwks.Keyfunc)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "expired"
		}
		return nil, core.ProviderError(fmt.Errorf("identity: verify id token: %w", err), "verify_id_token").
			WithMetadata(map[string]any{"reason": reason})
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, core.ProviderError(fmt.Errorf("identity: id token claims are malformed"), "verify_id_token").
			WithMetadata(map[string]any{"reason": "invalid"})
	}
	return copyMap(claims), nil
}

// Close stops the background JWKS refresh, if any.
func (v *JWTVerifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

var _ IDTokenVerifier = (*JWTVerifier)(nil).Verify
