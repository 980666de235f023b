// Package crypto is the at-rest message codec: AES-256-GCM with a hex
// {ciphertext, iv, authTag} envelope. Encryption here is at rest only,
// clients always see plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/domain"
)

const (
	keyLen = 32
	ivLen  = 16
	tagLen = 16
)

// DecryptPlaceholder replaces any body that fails to decrypt. A corrupt
// historical message must not block delivery of the rest of a channel.
const DecryptPlaceholder = "[Encrypted Message]"

// DefaultKeyHex is the development fallback key. Not for production.
const DefaultKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

var ErrBadKey = errors.New("encryption key must be 32 bytes hex")

type Codec struct {
	aead cipher.AEAD
}

func NewCodec(keyHex string) (*Codec, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != keyLen {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromConfig builds a codec from the configured key, falling
// back to the insecure development default when the key is absent or
// malformed.
func NewCodecFromConfig(keyHex string) *Codec {
	if keyHex != "" {
		if c, err := NewCodec(keyHex); err == nil {
			return c
		}
		log.Warn().Str("module", "crypto").Msg("encryption_key is not valid 32-byte hex, falling back to default")
	} else {
		log.Warn().Str("module", "crypto").Msg("encryption_key not set, using default key (NOT SECURE FOR PRODUCTION)")
	}
	c, err := NewCodec(DefaultKeyHex)
	if err != nil {
		// The constant is known-good; this cannot happen.
		panic(err)
	}
	return c
}

func (c *Codec) Encrypt(plaintext string) (domain.Envelope, error) {
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return domain.Envelope{}, fmt.Errorf("read iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - tagLen
	return domain.Envelope{
		Ciphertext: hex.EncodeToString(sealed[:split]),
		IV:         hex.EncodeToString(iv),
		AuthTag:    hex.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt fails closed: tag mismatch or a malformed envelope yields the
// placeholder, never an error.
func (c *Codec) Decrypt(env domain.Envelope) string {
	ct, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return DecryptPlaceholder
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != ivLen {
		return DecryptPlaceholder
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil || len(tag) != tagLen {
		return DecryptPlaceholder
	}
	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		log.Debug().Str("module", "crypto").Msg("decrypt failed, returning placeholder")
		return DecryptPlaceholder
	}
	return string(plain)
}

// GenerateKey returns a fresh random key as 64 hex characters, for setup.
func GenerateKey() (string, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
