// Package chat implements the room chat cipher: a symmetric room key
// distributed by the owner and authenticated encryption of every chat field.
package chat

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vovakirdan/wiremesh/internal/proto"
)

// KeySize is the raw room key length in bytes.
const KeySize = 32

// Suite names an AEAD construction.
type Suite string

const (
	SuiteAESGCM            Suite = "aes-gcm"
	SuiteXChaCha20Poly1305 Suite = "xchacha20-poly1305"
)

var (
	// ErrDecryption reports a payload that failed authentication.
	ErrDecryption = errors.New("chat payload failed authentication")
	// ErrNoKey is returned by Seal when no room key is installed.
	ErrNoKey = errors.New("no room key")
	// ErrUnknownSuite is returned for unsupported suite names.
	ErrUnknownSuite = errors.New("unknown cipher suite")
)

// ParseSuite validates a suite name.
func ParseSuite(name string) (Suite, error) {
	switch Suite(name) {
	case SuiteAESGCM, SuiteXChaCha20Poly1305:
		return Suite(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSuite, name)
}

// Envelope is the wire form of an encrypted chat field. Alg is omitted for
// AES-GCM so envelopes stay readable by browser participants.
type Envelope struct {
	IV        proto.ByteArray `json:"iv"`
	Data      proto.ByteArray `json:"data"`
	Encrypted bool            `json:"encrypted"`
	Alg       string          `json:"alg,omitempty"`
}

// Key is a raw room key usable with any suite.
type Key struct {
	raw []byte
}

// GenerateKey creates a random room key.
func GenerateKey() (*Key, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate room key: %w", err)
	}
	return &Key{raw: raw}, nil
}

// ImportKey wraps raw key material received from the owner.
func ImportKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("import room key: want %d bytes, got %d", KeySize, len(raw))
	}
	return &Key{raw: append([]byte(nil), raw...)}, nil
}

// Export returns a copy of the raw key bytes.
func (k *Key) Export() []byte {
	return append([]byte(nil), k.raw...)
}

func (k *Key) aead(suite Suite) (cipher.AEAD, error) {
	switch suite {
	case SuiteAESGCM:
		block, err := aes.NewCipher(k.raw)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case SuiteXChaCha20Poly1305:
		return chacha20poly1305.NewX(k.raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSuite, suite)
	}
}

// Seal encrypts plaintext into a JSON envelope.
func (k *Key) Seal(suite Suite, plaintext string) (string, error) {
	aead, err := k.aead(suite)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	env := Envelope{
		IV:        iv,
		Data:      aead.Seal(nil, iv, []byte(plaintext), nil),
		Encrypted: true,
	}
	if suite != SuiteAESGCM {
		env.Alg = string(suite)
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(out), nil
}

// Open decrypts an envelope produced by Seal with any suite.
func (k *Key) Open(env Envelope) (string, error) {
	suite := SuiteAESGCM
	if env.Alg != "" {
		suite = Suite(env.Alg)
	}
	aead, err := k.aead(suite)
	if err != nil {
		return "", err
	}
	if len(env.IV) != aead.NonceSize() {
		return "", fmt.Errorf("%w: bad iv length %d", ErrDecryption, len(env.IV))
	}
	plain, err := aead.Open(nil, env.IV, env.Data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plain), nil
}

// parseEnvelope reports whether payload looks like an encrypted envelope.
func parseEnvelope(payload string) (Envelope, bool) {
	if len(payload) == 0 || payload[0] != '{' {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || !env.Encrypted {
		return Envelope{}, false
	}
	return env, true
}

// Channel holds the room key of one session. Without a key text passes
// through unchanged in both directions.
type Channel struct {
	suite Suite
	log   *zerolog.Logger

	mu  sync.RWMutex
	key *Key
}

// NewChannel creates a channel that seals with suite.
func NewChannel(suite Suite, logger *zerolog.Logger) *Channel {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Channel{suite: suite, log: logger}
}

// Generate installs a fresh key and returns its raw bytes for distribution.
// An already installed key is kept and returned.
func (c *Channel) Generate() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key == nil {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		c.key = key
	}
	return c.key.Export(), nil
}

// Install replaces the room key with raw key material.
func (c *Channel) Install(raw []byte) error {
	key, err := ImportKey(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	return nil
}

// Key returns the raw key, if any.
func (c *Channel) Key() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key == nil {
		return nil, false
	}
	return c.key.Export(), true
}

// Encrypted reports whether outgoing text will be sealed.
func (c *Channel) Encrypted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key != nil
}

// Seal encrypts text with the room key, or returns it unchanged without one.
func (c *Channel) Seal(text string) (string, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()

	if key == nil {
		return text, nil
	}
	return key.Seal(c.suite, text)
}

// Open decrypts payload. It fails open: anything that is not an envelope, or
// cannot be authenticated, is returned as received.
func (c *Channel) Open(payload string) string {
	env, ok := parseEnvelope(payload)
	if !ok {
		return payload
	}

	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key == nil {
		c.log.Debug().Msg("encrypted chat payload received before the room key")
		return payload
	}

	plain, err := key.Open(env)
	if err != nil {
		c.log.Warn().Err(err).Msg("showing undecryptable chat payload as received")
		return payload
	}
	return plain
}
