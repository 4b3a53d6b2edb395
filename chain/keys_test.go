package chain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcnet/chainsig/model"
)

func TestKeyPairRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.True(t, kp.Valid())

	restored, err := KeyPairFromString(kp.SecretString())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey.String(), restored.PublicKey.String())

	msg := []byte("digest")
	assert.Equal(t, kp.Sign(msg), restored.Sign(msg))
}

func TestParsePublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := ParsePublicKey(kp.PublicKey.String())
	require.NoError(t, err)
	assert.Equal(t, model.SchemeEd25519, parsed.Scheme)
	assert.Equal(t, kp.PublicKey.Data, parsed.Data)

	// bare base58 with no scheme prefix defaults to ed25519
	bare := strings.TrimPrefix(kp.PublicKey.String(), "ed25519:")
	parsed, err = ParsePublicKey(bare)
	require.NoError(t, err)
	assert.Equal(t, model.SchemeEd25519, parsed.Scheme)

	_, err = ParsePublicKey("rsa:abc")
	assert.ErrorIs(t, err, model.ErrParse)

	_, err = ParsePublicKey("ed25519:not-base58-0OIl")
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestCredentials(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	creds := NewCredentials("deployer.node0", kp)
	blob, err := json.Marshal(creds)
	require.NoError(t, err)

	var restored Credentials
	require.NoError(t, json.Unmarshal(blob, &restored))
	assert.Equal(t, "deployer.node0", restored.AccountID)

	key, err := restored.KeyPair()
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey.String(), key.PublicKey.String())
}

func TestPublicKeyJSON(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	blob, err := json.Marshal(kp.PublicKey)
	require.NoError(t, err)

	var restored PublicKey
	require.NoError(t, json.Unmarshal(blob, &restored))
	assert.Equal(t, kp.PublicKey, restored)
}
