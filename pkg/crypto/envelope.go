// Package crypto provides the envelope encryption used to protect
// memory content at rest: an HKDF-derived per-tenant data key wraps
// the plaintext with AES-256-GCM, and a primary/secondary key pair
// lets keys rotate without a single cutover.
//
// There is no teacher precedent for this (the teacher repo stores
// plaintext content); the construction follows the standard
// crypto/hkdf + crypto/aes + crypto/cipher combination used across the
// Go ecosystem, with golang.org/x/crypto/hkdf supplying the key
// derivation the standard library lacks.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// version1Prefix tags every envelope produced by this package so a
// future format change can be detected and rejected instead of
// silently misparsed.
const version1Prefix = "v1:"

const keySize = 32 // AES-256

// ErrMalformedEnvelope is returned when Decrypt is given a string that
// is not a valid envelope of any known version.
var ErrMalformedEnvelope = errors.New("crypto: malformed envelope")

// ErrDecryptFailed is returned when neither the primary nor the
// secondary key can open the envelope (wrong key, or tampered data).
var ErrDecryptFailed = errors.New("crypto: decryption failed with all configured keys")

// Envelope derives per-tenant data keys from a small set of root
// secrets and uses them to seal/open content. Keeping both a primary
// and an optional secondary root key lets an operator rotate keys:
// new writes use the primary, but reads still succeed against content
// sealed under the still-configured secondary.
type Envelope struct {
	primary   []byte
	secondary []byte
}

// New builds an Envelope. primaryRoot must be non-empty; secondaryRoot
// may be empty to disable rotation support.
func New(primaryRoot, secondaryRoot string) (*Envelope, error) {
	if primaryRoot == "" {
		return nil, errors.New("crypto: primary root key is required")
	}
	e := &Envelope{primary: []byte(primaryRoot)}
	if secondaryRoot != "" {
		e.secondary = []byte(secondaryRoot)
	}
	return e, nil
}

// deriveKey runs HKDF-SHA256 over root, salted by tenant, to produce a
// key scoped to that tenant alone: compromising one tenant's derived
// key does not expose another tenant's data key.
func deriveKey(root []byte, tenant string) ([]byte, error) {
	r := hkdf.New(sha256.New, root, []byte(tenant), []byte("openmemory-envelope-v1"))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under a key derived for tenant, using the
// primary root key, and returns the "v1:<base64>" envelope string.
func (e *Envelope) Seal(tenant string, plaintext []byte) (string, error) {
	key, err := deriveKey(e.primary, tenant)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(tenant))
	return version1Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope string produced by Seal, trying the
// primary key first and falling back to the secondary key (if
// configured) so rotation does not break reads of older content.
func (e *Envelope) Open(tenant, envelope string) ([]byte, error) {
	if !strings.HasPrefix(envelope, version1Prefix) {
		return nil, ErrMalformedEnvelope
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, version1Prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	roots := [][]byte{e.primary}
	if e.secondary != nil {
		roots = append(roots, e.secondary)
	}

	for _, root := range roots {
		key, err := deriveKey(root, tenant)
		if err != nil {
			continue
		}
		plaintext, err := open(key, tenant, raw)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrDecryptFailed
}

func open(key []byte, tenant string, raw []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, ErrMalformedEnvelope
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, []byte(tenant))
}
