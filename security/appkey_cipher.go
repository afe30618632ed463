package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopePrefix = "sessionsync.sealed.v1:"
	algorithmGCM   = "aes-gcm"

	keyDerivationInfo = "sessionsync marker key v1"
)

// Cipher seals short string values for storage in plain key/value stores.
type Cipher interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

type Option func(*AppKeyCipher)

// AppKeyCipher is an AES-GCM Cipher keyed by application key material.
// Key material that is not 16, 24 or 32 bytes long is stretched with
// HKDF-SHA256.
type AppKeyCipher struct {
	key     []byte
	keyID   string
	version int
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ct"`
}

func WithKeyID(id string) Option {
	return func(c *AppKeyCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AppKeyCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

func NewAppKeyCipher(keyMaterial []byte, opts ...Option) (*AppKeyCipher, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	c := &AppKeyCipher{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func NewAppKeyCipherFromString(key string, opts ...Option) (*AppKeyCipher, error) {
	return NewAppKeyCipher([]byte(key), opts...)
}

// Seal returns a prefixed, URL-safe envelope. Sealing the same value twice
// yields different output.
func (c *AppKeyCipher) Seal(_ context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("security: plaintext is required")
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	data, err := json.Marshal(envelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  algorithmGCM,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, []byte(plaintext), c.additionalData()),
	})
	if err != nil {
		return "", fmt.Errorf("security: encode envelope: %w", err)
	}
	return envelopePrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Open reverses Seal. Envelopes sealed under another key id or version are
// rejected.
func (c *AppKeyCipher) Open(_ context.Context, sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(sealed), envelopePrefix)
	if !ok {
		return "", fmt.Errorf("security: value is not a sealed envelope")
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("security: decode envelope: %w", err)
	}
	var parsed envelope
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("security: decode envelope: %w", err)
	}
	if parsed.KeyID != c.keyID {
		return "", fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, c.keyID)
	}
	if parsed.Version != c.version {
		return "", fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, c.version)
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	if len(parsed.Nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("security: invalid nonce")
	}
	plaintext, err := gcm.Open(nil, parsed.Nonce, parsed.Ciphertext, c.additionalData())
	if err != nil {
		return "", fmt.Errorf("security: decrypt payload: %w", err)
	}
	return string(plaintext), nil
}

func (c *AppKeyCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AppKeyCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

func (c *AppKeyCipher) aead() (cipher.AEAD, error) {
	if c == nil {
		return nil, fmt.Errorf("security: cipher is nil")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// additionalData binds the ciphertext to the key id and version.
func (c *AppKeyCipher) additionalData() []byte {
	return []byte(fmt.Sprintf("%s:%d", c.keyID, c.version))
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	// passphrases of other lengths are stretched to an AES-256 key
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, value, nil, []byte(keyDerivationInfo)), key); err != nil {
		sum := sha256.Sum256(value)
		return sum[:]
	}
	return key
}

var _ Cipher = (*AppKeyCipher)(nil)
