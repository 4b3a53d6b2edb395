package provision

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/chain/emulator"
	"github.com/mpcnet/chainsig/model"
	"github.com/mpcnet/chainsig/secrets"
)

const rootAccount = "node0"

// newTestProvisioner seeds an emulator with a keyed root account and a
// custodian holding the root credentials.
func newTestProvisioner(t *testing.T) (*Provisioner, *emulator.Emulator, *secrets.LocalCustodian) {
	t.Helper()

	em := emulator.New()
	rootKey, err := chain.GenerateKeyPair()
	require.NoError(t, err)
	em.CreateAccount(rootAccount, FundingAmount(), rootKey.PublicKey)

	custodian, err := secrets.NewLocalCustodian(t.TempDir())
	require.NoError(t, err)
	creds, err := json.Marshal(chain.NewCredentials(rootAccount, rootKey))
	require.NoError(t, err)
	custodian.PutSecret("account-key-node0", creds)

	return New(zerolog.Nop(), em, custodian, rootAccount), em, custodian
}

func TestAccountExists(t *testing.T) {
	p, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	exists, err := p.AccountExists(ctx, rootAccount)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = p.AccountExists(ctx, "missing.node0")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInitializeMasterAccount(t *testing.T) {
	p, _, _ := newTestProvisioner(t)
	require.NoError(t, p.InitializeMasterAccount(context.Background()))
}

func TestInitializeMasterAccountMissing(t *testing.T) {
	em := emulator.New()
	custodian, err := secrets.NewLocalCustodian(t.TempDir())
	require.NoError(t, err)

	p := New(zerolog.Nop(), em, custodian, rootAccount)
	err = p.InitializeMasterAccount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateDeployerAccountIdempotent(t *testing.T) {
	p, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	encrypted, err := p.CreateDeployerAccount(ctx, "deployer.node0", nil)
	require.NoError(t, err)
	require.NotEmpty(t, encrypted)

	exists, err := p.AccountExists(ctx, "deployer.node0")
	require.NoError(t, err)
	assert.True(t, exists)

	// a second run with the prior encrypted key reuses the account
	again, err := p.CreateDeployerAccount(ctx, "deployer.node0", encrypted)
	require.NoError(t, err)
	assert.Equal(t, encrypted, again)
}

func TestCreateDeployerAccountExistingWithoutKey(t *testing.T) {
	p, em, _ := newTestProvisioner(t)
	somebody, err := chain.GenerateKeyPair()
	require.NoError(t, err)
	em.CreateAccount("deployer.node0", FundingAmount(), somebody.PublicKey)

	_, err = p.CreateDeployerAccount(context.Background(), "deployer.node0", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAccessDenied)
}

func TestDeploySignerContract(t *testing.T) {
	p, em, _ := newTestProvisioner(t)
	ctx := context.Background()
	code := []byte{0x00, 0x61, 0x73, 0x6d, 0x01}

	used, err := p.DeploySignerContract(ctx, "v1.signer.node0", "", code)
	require.NoError(t, err)
	assert.Equal(t, "v1.signer.node0", used)

	deployed, err := em.ViewCode(ctx, used)
	require.NoError(t, err)
	assert.Equal(t, code, deployed)

	// already-deployed contract is an idempotent no-op
	used, err = p.DeploySignerContract(ctx, "v1.signer.node0", "", code)
	require.NoError(t, err)
	assert.Equal(t, "v1.signer.node0", used)
}

func TestDeploySignerContractWasmRequired(t *testing.T) {
	p, _, _ := newTestProvisioner(t)

	_, err := p.DeploySignerContract(context.Background(), "v1.signer.node0", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrWasmNotFound)
}

// when the requested account exists in an opaque prior state with no
// locally available key, deployment falls back to a fresh sibling; callers
// must read back the account id actually used
func TestDeploySignerContractFallbackSibling(t *testing.T) {
	p, em, _ := newTestProvisioner(t)
	ctx := context.Background()

	stranger, err := chain.GenerateKeyPair()
	require.NoError(t, err)
	em.CreateAccount("v1.signer.node0", FundingAmount(), stranger.PublicKey)

	code := []byte{0x00, 0x61, 0x73, 0x6d, 0x01}
	used, err := p.DeploySignerContract(ctx, "v1.signer.node0", "", code)
	require.NoError(t, err)
	assert.NotEqual(t, "v1.signer.node0", used)
	assert.Contains(t, used, ".signer.node0")

	deployed, err := em.ViewCode(ctx, used)
	require.NoError(t, err)
	assert.Equal(t, code, deployed)

	// the original account remains codeless
	original, err := em.ViewCode(ctx, "v1.signer.node0")
	require.NoError(t, err)
	assert.Empty(t, original)
}

func TestLoadContractCode(t *testing.T) {
	_, err := LoadContractCode("does-not-exist.wasm")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrWasmNotFound)
}
