package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/mpcnet/chainsig/model"
)

// PublicKey is a chain public key: a scheme plus raw key bytes. Its string
// form is "<scheme>:<base58 bytes>".
type PublicKey struct {
	Scheme model.SignatureScheme
	Data   []byte
}

// String renders the key in the chain's "<scheme>:<base58>" form.
func (pk PublicKey) String() string {
	return fmt.Sprintf("%s:%s", pk.Scheme, base58.Encode(pk.Data))
}

// MarshalJSON encodes the key as its string form.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes the "<scheme>:<base58>" string form.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// ParsePublicKey parses "<scheme>:<base58-or-hex bytes>". A bare base58
// string with no scheme prefix is treated as ed25519, matching the chain's
// historical key files.
func ParsePublicKey(s string) (PublicKey, error) {
	scheme := model.SchemeEd25519
	body := s
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		parsed, err := model.ParseSignatureScheme(s[:idx])
		if err != nil {
			return PublicKey{}, err
		}
		scheme = parsed
		body = s[idx+1:]
	}
	data, err := base58.Decode(body)
	if err != nil {
		return PublicKey{}, fmt.Errorf("public key %q is not base58: %w", s, model.ErrParse)
	}
	return PublicKey{Scheme: scheme, Data: data}, nil
}

// KeyPair is an ed25519 account keypair used to sign transactions.
type KeyPair struct {
	PublicKey PublicKey
	secret    ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh ed25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating keypair: %w", err)
	}
	return KeyPair{
		PublicKey: PublicKey{Scheme: model.SchemeEd25519, Data: pub},
		secret:    priv,
	}, nil
}

// KeyPairFromString parses an "ed25519:<base58 64-byte secret>" private key
// string as found in the chain's credential files.
func KeyPairFromString(s string) (KeyPair, error) {
	pk, err := ParsePublicKey(s)
	if err != nil {
		return KeyPair{}, err
	}
	if pk.Scheme != model.SchemeEd25519 {
		return KeyPair{}, fmt.Errorf("account keys must be ed25519, got %s: %w", pk.Scheme, model.ErrParse)
	}
	if len(pk.Data) != ed25519.PrivateKeySize {
		return KeyPair{}, fmt.Errorf("private key has %d bytes, want %d: %w", len(pk.Data), ed25519.PrivateKeySize, model.ErrParse)
	}
	secret := ed25519.PrivateKey(pk.Data)
	pub := secret.Public().(ed25519.PublicKey)
	return KeyPair{
		PublicKey: PublicKey{Scheme: model.SchemeEd25519, Data: pub},
		secret:    secret,
	}, nil
}

// SecretString renders the private key in credential-file form.
func (kp KeyPair) SecretString() string {
	return fmt.Sprintf("ed25519:%s", base58.Encode(kp.secret))
}

// Sign signs the given message digest.
func (kp KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.secret, msg)
}

// Valid reports whether the keypair holds a usable secret.
func (kp KeyPair) Valid() bool {
	return len(kp.secret) == ed25519.PrivateKeySize
}

// Credentials is the JSON credential blob stored in the secret store for an
// account: the standard {account_id, public_key, private_key} file format.
type Credentials struct {
	AccountID  string `json:"account_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// KeyPair parses the credential blob's private key.
func (c Credentials) KeyPair() (KeyPair, error) {
	return KeyPairFromString(c.PrivateKey)
}

// NewCredentials renders a keypair as a credential blob for the account.
func NewCredentials(accountID string, kp KeyPair) Credentials {
	return Credentials{
		AccountID:  accountID,
		PublicKey:  kp.PublicKey.String(),
		PrivateKey: kp.SecretString(),
	}
}
