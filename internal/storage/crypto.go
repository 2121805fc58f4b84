package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort indicates a stored value shorter than the nonce.
var ErrCiphertextTooShort = errors.New("storage: ciphertext shorter than nonce")

// ParamCipher encrypts rule condition parameters before they reach the
// database and decrypts them on load. The serialization boundary is
// JSON; the ciphertext is base64(nonce || sealed).
type ParamCipher struct {
	aead cipher.AEAD
}

// NewParamCipher derives a 256-bit key from the configured secret.
func NewParamCipher(secret string) (*ParamCipher, error) {
	if secret == "" {
		return nil, errors.New("storage: encryption key is empty")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &ParamCipher{aead: aead}, nil
}

// EncryptParams serialises and seals a parameter map.
func (c *ParamCipher) EncryptParams(params RuleParams) (string, error) {
	if params == nil {
		params = RuleParams{}
	}

	plain, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptParams opens and deserialises a stored parameter value.
func (c *ParamCipher) DecryptParams(encoded string) (RuleParams, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt params: %w", err)
	}

	var params RuleParams
	if err := json.Unmarshal(plain, &params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return params, nil
}
