// Package token implements the stateless configuration codec. A token is the
// only place a user's configuration lives: it is encrypted, authenticated, and
// carried inside the addon URL, so the service keeps no per-user state.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidToken marks tokens that are structurally malformed, truncated, or
// fail authentication. Decoding never falls back to a partial result.
var ErrInvalidToken = errors.New("token: invalid token")

// Binary layout inside the base64url string. The lengths are fixed so tokens
// stay portable across worker instances of the same deployment:
//
//	salt (16) | nonce (12) | ciphertext | GCM tag (16)
const (
	saltSize  = 16
	nonceSize = 12
	tagSize   = 16

	kdfIterations = 100_000
	keySize       = 32
)

var encoding = base64.RawURLEncoding

// Codec encrypts and decrypts user configurations. The secret is an explicit
// dependency: rotating it invalidates every previously issued token, which is
// the accepted cost of running stateless.
type Codec struct {
	secret []byte
}

// NewCodec builds a codec around the process-wide secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret required")
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Encode validates, serializes, and encrypts a configuration into a URL-safe
// token. Each call consumes a fresh salt and nonce.
func (c *Codec) Encode(cfg UserConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	plaintext, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("token: marshal config: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("token: generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token: generate nonce: %w", err)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+tagSize)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return encoding.EncodeToString(out), nil
}

// Decode reverses Encode. Any structural malformation or authentication
// failure yields ErrInvalidToken; a decrypted configuration that violates a
// field invariant yields a *FieldError wrapping ErrInvalidConfig.
func (c *Codec) Decode(tok string) (UserConfig, error) {
	raw, err := encoding.DecodeString(tok)
	if err != nil {
		return UserConfig{}, ErrInvalidToken
	}
	if len(raw) < saltSize+nonceSize+tagSize {
		return UserConfig{}, ErrInvalidToken
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	ciphertext := raw[saltSize+nonceSize:]

	aead, err := c.aead(salt)
	if err != nil {
		return UserConfig{}, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return UserConfig{}, ErrInvalidToken
	}

	var cfg UserConfig
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return UserConfig{}, ErrInvalidToken
	}
	if err := cfg.Validate(); err != nil {
		return UserConfig{}, err
	}
	return cfg, nil
}

// aead derives the per-token key from the secret and salt. PBKDF2 is
// deliberately expensive so a leaked token resists brute-force search of the
// secret.
func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("token: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("token: aead: %w", err)
	}
	return aead, nil
}
