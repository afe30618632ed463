package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-session-sync/core"
)

// Claim keys reported by wallet identity providers and OIDC user-info
// endpoints.
const (
	ClaimEmail       = "email"
	ClaimName        = "name"
	ClaimGivenName   = "given_name"
	ClaimFamilyName  = "family_name"
	ClaimVerifierID  = "verifierId"
	ClaimVerifier    = "verifier"
	ClaimSubject     = "sub"
	ClaimIssuer      = "iss"
	ClaimTypeOfLogin = "typeOfLogin"
	ClaimProfileImg  = "profileImage"
	ClaimPicture     = "picture"
	ClaimIDToken     = "idToken"
)

// IDTokenVerifier validates an identity token and returns its claims.
type IDTokenVerifier func(ctx context.Context, idToken string) (map[string]any, error)

// Normalize maps provider claims onto a core.Identity. The external id is the
// verifier id (or subject) qualified by the login type so ids from different
// login methods never collide. The display name is left blank when the
// provider reports none; callers apply their own default.
func Normalize(claims map[string]any) core.Identity {
	subject := readString(claims[ClaimVerifierID])
	if subject == "" {
		subject = readString(claims[ClaimSubject])
	}
	qualifier := readString(claims[ClaimTypeOfLogin])
	if qualifier == "" {
		qualifier = readString(claims[ClaimVerifier])
	}
	if qualifier == "" {
		qualifier = readString(claims[ClaimIssuer])
	}

	name := readString(claims[ClaimName])
	if name == "" {
		name = strings.TrimSpace(strings.Join([]string{
			readString(claims[ClaimGivenName]),
			readString(claims[ClaimFamilyName]),
		}, " "))
	}
	picture := readString(claims[ClaimProfileImg])
	if picture == "" {
		picture = readString(claims[ClaimPicture])
	}

	metadata := map[string]any{}
	setIfPresent(metadata, "type_of_login", readString(claims[ClaimTypeOfLogin]))
	setIfPresent(metadata, "verifier", readString(claims[ClaimVerifier]))
	setIfPresent(metadata, "issuer", readString(claims[ClaimIssuer]))
	setIfPresent(metadata, "profile_image", picture)
	if len(metadata) == 0 {
		metadata = nil
	}

	return core.Identity{
		ExternalID:  qualifiedID(qualifier, subject),
		Email:       readString(claims[ClaimEmail]),
		DisplayName: name,
		Metadata:    metadata,
	}
}

// ClaimsFromIDToken decodes the payload of token. When verify is set the
// verified claims are returned instead of the raw payload.
func ClaimsFromIDToken(ctx context.Context, token string, verify IDTokenVerifier) (map[string]any, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("identity: id token is required")
	}
	if verify != nil {
		claims, err := verify(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("identity: verify id token: %w", err)
		}
		return copyMap(claims), nil
	}
	return decodeJWTPayload(token)
}

func qualifiedID(qualifier string, subject string) string {
	if subject == "" {
		return ""
	}
	if qualifier == "" {
		return subject
	}
	return qualifier + "|" + subject
}

func decodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("identity: invalid id token format")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("identity: decode id token payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("identity: decode id token claims: %w", err)
	}
	return payload, nil
}

func mergeClaims(base map[string]any, override map[string]any) map[string]any {
	merged := map[string]any{}
	for key, value := range base {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			merged[trimmed] = value
		}
	}
	for key, value := range override {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			merged[trimmed] = value
		}
	}
	return merged
}

func setIfPresent(dst map[string]any, key string, value string) {
	if value != "" {
		dst[key] = value
	}
}

func copyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return map[string]any{}
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func readString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	case json.Number:
		return strings.TrimSpace(typed.String())
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}
