package secrets

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mpcnet/chainsig/model"
)

// LocalCustodian implements Custodian for development and tests: secrets
// are JSON files in a directory, and envelope encryption uses an in-memory
// ChaCha20-Poly1305 key.
type LocalCustodian struct {
	dir string
	key []byte

	mu       sync.RWMutex
	override map[string][]byte
}

var _ Custodian = (*LocalCustodian)(nil)

// NewLocalCustodian creates a custodian over the given secret directory
// with a fresh random encryption key.
func NewLocalCustodian(dir string) (*LocalCustodian, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating custodian key: %w", err)
	}
	return &LocalCustodian{
		dir:      dir,
		key:      key,
		override: make(map[string][]byte),
	}, nil
}

// PutSecret stores an in-memory secret, shadowing any file of the same
// name. Test seeding and caller-side persistence both use this.
func (c *LocalCustodian) PutSecret(name string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override[name] = value
}

// Encrypt implements Custodian.
func (c *LocalCustodian) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt implements Custodian.
func (c *LocalCustodian) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: %w", model.ErrParse)
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", model.ErrAccessDenied)
	}
	return plaintext, nil
}

// GetSecret implements Custodian. File names are the secret name with path
// separators rejected, plus a .json extension.
func (c *LocalCustodian) GetSecret(_ context.Context, name string) ([]byte, error) {
	c.mu.RLock()
	value, ok := c.override[name]
	c.mu.RUnlock()
	if ok {
		return value, nil
	}

	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("invalid secret name %q: %w", name, model.ErrParse)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret %s: %w", name, model.ErrNotFound)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("secret %s: %w", name, model.ErrAccessDenied)
		}
		return nil, fmt.Errorf("reading secret %s: %w", name, err)
	}
	return data, nil
}
