// Package secrets abstracts the key custodian: envelope encryption for the
// deployer key and retrieval of stored account credentials. The production
// implementation sits on Cloud KMS and Secret Manager; a local
// implementation backs development and tests.
package secrets

import (
	"context"
)

// Custodian is the external key-encryption and secret-storage surface. The
// rest of the system treats it as opaque: encrypt/decrypt for the deployer
// key, fetch for everything else.
type Custodian interface {
	// Encrypt wraps plaintext under the custodian's key-encryption key.
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt unwraps a ciphertext previously produced by Encrypt.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)

	// GetSecret fetches a named secret blob. Absent secrets return an
	// error wrapping model.ErrNotFound; permission failures wrap
	// model.ErrAccessDenied.
	GetSecret(ctx context.Context, name string) ([]byte, error)
}
