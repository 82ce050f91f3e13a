// Package credguard encrypts ERP credentials with a key derived from the
// identity of the machine they are stored on. Ciphertext copied to another
// host cannot be decrypted there.
package credguard

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/erp/catalog-exchange/internal/domain/credential"
)

const (
	formatVersion byte = 0x01
	keyLen             = 32
	nonceLen           = 12
	hkdfInfo           = "catalog-exchange credential guard v1"
	aad                = "erp-credentials"

	// DefaultSalt is used when no salt is configured
	DefaultSalt = "catalog-exchange/credential-guard/v1"
)

// ErrEmptyPlaintext is returned by Encrypt for empty input
var ErrEmptyPlaintext = errors.New("credguard: plaintext is empty")

// Option configures a Guard
type Option func(*Guard)

// WithSalt sets the HKDF salt
func WithSalt(salt string) Option {
	return func(g *Guard) {
		if salt != "" {
			g.salt = []byte(salt)
		}
	}
}

// WithLogger sets the logger used to report failure categories
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRandom overrides the nonce source
func WithRandom(r io.Reader) Option {
	return func(g *Guard) {
		if r != nil {
			g.random = r
		}
	}
}

// Guard implements credential.Guard with AES-256-GCM under a machine-bound key.
// Ciphertext layout: version(1) || nonce(12) || sealed.
type Guard struct {
	source MachineKeySource
	salt   []byte
	logger *zap.Logger
	random io.Reader
}

var _ credential.Guard = (*Guard)(nil)

// New creates a Guard over source
func New(source MachineKeySource, opts ...Option) *Guard {
	g := &Guard{
		source: source,
		salt:   []byte(DefaultSalt),
		logger: zap.NewNop(),
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Encrypt seals plaintext for this machine
func (g *Guard) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	aead, err := g.aead()
	if err != nil {
		g.logger.Warn("credential encryption unavailable", zap.String("category", category(err)))
		return nil, credential.ErrCredentialUnavailable
	}

	out := make([]byte, 1+nonceLen, 1+nonceLen+len(plaintext)+aead.Overhead())
	out[0] = formatVersion
	if _, err := io.ReadFull(g.random, out[1:]); err != nil {
		return nil, fmt.Errorf("credguard: random nonce: %w", err)
	}
	return aead.Seal(out, out[1:], plaintext, []byte(aad)), nil
}

// Decrypt opens ciphertext sealed on this machine. Every failure yields
// credential.ErrCredentialUnavailable.
func (g *Guard) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 1+nonceLen+1 {
		g.reject("too_short")
		return nil, credential.ErrCredentialUnavailable
	}
	if ciphertext[0] != formatVersion {
		g.reject("version")
		return nil, credential.ErrCredentialUnavailable
	}
	aead, err := g.aead()
	if err != nil {
		g.reject(category(err))
		return nil, credential.ErrCredentialUnavailable
	}
	if len(ciphertext) < 1+nonceLen+aead.Overhead() {
		g.reject("too_short")
		return nil, credential.ErrCredentialUnavailable
	}
	nonce := ciphertext[1 : 1+nonceLen]
	plaintext, err := aead.Open(nil, nonce, ciphertext[1+nonceLen:], []byte(aad))
	if err != nil {
		g.reject("authentication")
		return nil, credential.ErrCredentialUnavailable
	}
	return plaintext, nil
}

// EncryptString seals s and returns it base64 encoded, the form stored in
// configuration files
func (g *Guard) EncryptString(s string) (string, error) {
	ct, err := g.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString
func (g *Guard) DecryptString(encoded string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		g.reject("encoding")
		return nil, credential.ErrCredentialUnavailable
	}
	return g.Decrypt(ct)
}

func (g *Guard) reject(reason string) {
	g.logger.Warn("credential decryption failed", zap.String("category", reason))
}

func (g *Guard) aead() (cipher.AEAD, error) {
	if g.source == nil {
		return nil, ErrMachineIDUnavailable
	}
	id, err := g.source.MachineID()
	if err != nil {
		return nil, err
	}
	key := make([]byte, keyLen)
	defer wipe(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, id, g.salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func category(err error) string {
	if errors.Is(err, ErrMachineIDUnavailable) {
		return "machine_id"
	}
	return "key_derivation"
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
