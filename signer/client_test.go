package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/chain/emulator"
	"github.com/mpcnet/chainsig/model"
)

const (
	testRootID     = "node0"
	testSignerID   = "alice.node0"
	testContractID = "v1.signer.node0"
)

// countingAPI wraps a chain.API and counts the calls that reach the chain.
type countingAPI struct {
	chain.API
	views int
	txs   int
}

func (c *countingAPI) CallView(ctx context.Context, contractID, method string, args interface{}) ([]byte, error) {
	c.views++
	return c.API.CallView(ctx, contractID, method, args)
}

func (c *countingAPI) SignAndSend(ctx context.Context, signerID string, key chain.KeyPair, receiverID string, actions []chain.Action) (*chain.ExecutionResult, error) {
	c.txs++
	return c.API.SignAndSend(ctx, signerID, key, receiverID, actions)
}

// newRunningContract builds an emulator with a deployed, initialized and
// Running signer contract plus one keyed requester account.
func newRunningContract(t *testing.T) (*emulator.Emulator, chain.KeyPair) {
	t.Helper()
	ctx := context.Background()

	em := emulator.New()
	rootKey, err := chain.GenerateKeyPair()
	require.NoError(t, err)
	signerKey, err := chain.GenerateKeyPair()
	require.NoError(t, err)

	em.CreateAccount(testRootID, big.NewInt(1000), rootKey.PublicKey)
	em.CreateAccount(testSignerID, big.NewInt(1000), signerKey.PublicKey)
	em.CreateAccount(testContractID, big.NewInt(1000))

	_, err = em.SignAndSend(ctx, testRootID, rootKey, testContractID, []chain.Action{
		chain.DeployContractAction([]byte{0x00, 0x61, 0x73, 0x6d}),
	})
	require.NoError(t, err)

	initArgs, err := json.Marshal(map[string]interface{}{
		"participants": []map[string]string{{"account_id": testSignerID}},
		"threshold":    1,
	})
	require.NoError(t, err)
	result, err := em.SignAndSend(ctx, testRootID, rootKey, testContractID, []chain.Action{
		chain.FunctionCallAction("init", initArgs, chain.MaxGas, nil),
	})
	require.NoError(t, err)
	require.False(t, result.Status.Failed(), result.Status.FailureMessage())

	voteArgs, err := json.Marshal(map[string]interface{}{"domains": model.DefaultDomains()})
	require.NoError(t, err)
	result, err = em.SignAndSend(ctx, testSignerID, signerKey, testContractID, []chain.Action{
		chain.FunctionCallAction("vote_add_domains", voteArgs, chain.MaxGas, nil),
	})
	require.NoError(t, err)
	require.False(t, result.Status.Failed(), result.Status.FailureMessage())
	require.Equal(t, model.StateRunning, em.StateTag())

	return em, signerKey
}

func TestDeriveAddressCached(t *testing.T) {
	em, signerKey := newRunningContract(t)
	counting := &countingAPI{API: em}
	client := NewClient(zerolog.Nop(), counting, testContractID, testSignerID, signerKey)
	ctx := context.Background()

	first, err := client.DeriveAddress(ctx, testSignerID, model.ChainEthereum, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPath(model.ChainEthereum, testSignerID), first.DerivationPath)
	assert.Equal(t, 1, counting.views)

	second, err := client.DeriveAddress(ctx, testSignerID, model.ChainEthereum, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counting.views, "repeat derivation must come from the cache")

	// a different path is a different key
	other, err := client.DeriveAddress(ctx, testSignerID, model.ChainEthereum, "custom-path")
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, other.Address)
	assert.Equal(t, 2, counting.views)
}

func TestDeriveAddressDeterministic(t *testing.T) {
	em, signerKey := newRunningContract(t)
	ctx := context.Background()

	a := NewClient(zerolog.Nop(), em, testContractID, testSignerID, signerKey)
	b := NewClient(zerolog.Nop(), em, testContractID, testSignerID, signerKey)

	fromA, err := a.DeriveAddress(ctx, testSignerID, model.ChainEthereum, "shared")
	require.NoError(t, err)
	fromB, err := b.DeriveAddress(ctx, testSignerID, model.ChainEthereum, "shared")
	require.NoError(t, err)
	assert.Equal(t, fromA.Address, fromB.Address)

	// a different predecessor account derives a different key even on the
	// same path
	fromOther, err := a.DeriveAddress(ctx, "bob.node0", model.ChainEthereum, "shared")
	require.NoError(t, err)
	assert.NotEqual(t, fromA.Address, fromOther.Address)
}

func TestRequestSignatureEndToEnd(t *testing.T) {
	em, signerKey := newRunningContract(t)
	client := NewClient(zerolog.Nop(), em, testContractID, testSignerID, signerKey)
	ctx := context.Background()

	request := model.SignatureRequest{
		AccountID: testSignerID,
		Chain:     model.ChainEthereum,
		Payload:   sha256.Sum256([]byte("transfer 1 wei")),
	}
	response, err := client.RequestSignature(ctx, request)
	require.NoError(t, err)
	require.NoError(t, client.VerifySignature(response))
	assert.Equal(t, 1, em.TxCount("sign"))

	// the signature must recover to the derived public key for the default
	// path
	derived, err := client.DeriveAddress(ctx, testSignerID, model.ChainEthereum, "")
	require.NoError(t, err)
	point, err := NormalizePublicKey(derived.PublicKey)
	require.NoError(t, err)

	bigR, err := hex.DecodeString(response.BigR)
	require.NoError(t, err)
	require.Len(t, bigR, 33)
	s, err := hex.DecodeString(response.S)
	require.NoError(t, err)
	require.Len(t, s, 32)

	sig := make([]byte, 65)
	copy(sig[:32], bigR[1:])
	copy(sig[32:64], s)
	sig[64] = response.RecoveryID

	recovered, err := ethcrypto.Ecrecover(request.Payload[:], sig)
	require.NoError(t, err)
	assert.Equal(t, point, recovered[1:])
}

func TestRequestSignatureLegacyResponseShape(t *testing.T) {
	em, signerKey := newRunningContract(t)
	em.LegacySignResponse = true
	client := NewClient(zerolog.Nop(), em, testContractID, testSignerID, signerKey)

	response, err := client.RequestSignature(context.Background(), model.SignatureRequest{
		AccountID: testSignerID,
		Chain:     model.ChainEthereum,
		Payload:   sha256.Sum256([]byte("legacy")),
	})
	require.NoError(t, err)
	assert.True(t, response.Complete())
}

func TestRequestSignatureByDomainID(t *testing.T) {
	em, signerKey := newRunningContract(t)
	client := NewClient(zerolog.Nop(), em, testContractID, testSignerID, signerKey)

	// no chain set: the request addresses domain 0 with an explicit path
	response, err := client.RequestSignature(context.Background(), model.SignatureRequest{
		AccountID: testSignerID,
		Path:      "raw-domain-path",
		Payload:   sha256.Sum256([]byte("raw")),
		DomainID:  0,
	})
	require.NoError(t, err)
	assert.True(t, response.Complete())
}

// a request naming a different account than the client's signer is refused
// before anything reaches the chain
func TestRequestSignatureIdentityMismatch(t *testing.T) {
	em, signerKey := newRunningContract(t)
	counting := &countingAPI{API: em}
	client := NewClient(zerolog.Nop(), counting, testContractID, testSignerID, signerKey)

	_, err := client.RequestSignature(context.Background(), model.SignatureRequest{
		AccountID: "bob.node0",
		Chain:     model.ChainEthereum,
		Payload:   sha256.Sum256([]byte("stolen")),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAccessDenied)
	assert.Zero(t, counting.views)
	assert.Zero(t, counting.txs)
}

func TestRequestSignatureInvalidAccount(t *testing.T) {
	em, signerKey := newRunningContract(t)
	client := NewClient(zerolog.Nop(), em, testContractID, "Not Valid!", signerKey)

	_, err := client.RequestSignature(context.Background(), model.SignatureRequest{
		AccountID: "Not Valid!",
		Chain:     model.ChainEthereum,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestRequestSignatureBeforeRunning(t *testing.T) {
	ctx := context.Background()
	em := emulator.New()
	rootKey, err := chain.GenerateKeyPair()
	require.NoError(t, err)
	signerKey, err := chain.GenerateKeyPair()
	require.NoError(t, err)
	em.CreateAccount(testRootID, big.NewInt(1000), rootKey.PublicKey)
	em.CreateAccount(testSignerID, big.NewInt(1000), signerKey.PublicKey)
	em.CreateAccount(testContractID, big.NewInt(1000))
	_, err = em.SignAndSend(ctx, testRootID, rootKey, testContractID, []chain.Action{
		chain.DeployContractAction([]byte{0x00, 0x61, 0x73, 0x6d}),
	})
	require.NoError(t, err)

	client := NewClient(zerolog.Nop(), em, testContractID, testSignerID, signerKey)
	_, err = client.RequestSignature(ctx, model.SignatureRequest{
		AccountID: testSignerID,
		Path:      "p",
		Payload:   sha256.Sum256([]byte("too early")),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProtocol)
}

func TestVerifySignatureIncomplete(t *testing.T) {
	client := NewClient(zerolog.Nop(), emulator.New(), testContractID, testSignerID, chain.KeyPair{})
	err := client.VerifySignature(model.SignatureResponse{BigR: "02ab"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)
}

func TestDecodeSignResponseShapes(t *testing.T) {
	nested := []byte(`{"scheme":"Secp256k1","signature":{"big_r":{"affine_point":"02ab"},"s":{"scalar":"cd"},"recovery_id":1}}`)
	response, err := decodeSignResponse(nested)
	require.NoError(t, err)
	assert.Equal(t, model.SignatureResponse{BigR: "02ab", S: "cd", RecoveryID: 1}, response)

	flat := []byte(`{"big_r":"02ab","s":"cd","recovery_id":1}`)
	response, err = decodeSignResponse(flat)
	require.NoError(t, err)
	assert.Equal(t, model.SignatureResponse{BigR: "02ab", S: "cd", RecoveryID: 1}, response)

	for name, payload := range map[string][]byte{
		"not json":      []byte("not json"),
		"empty object":  []byte(`{}`),
		"missing s":     []byte(`{"big_r":"02ab"}`),
		"empty nesting": []byte(`{"signature":{}}`),
	} {
		_, err := decodeSignResponse(payload)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, model.ErrParse, name)
	}
}

func TestExtractSignatureNoReceipt(t *testing.T) {
	empty := ""
	result := &chain.ExecutionResult{
		Status: chain.ExecutionStatus{SuccessValue: &empty},
	}
	_, err := extractSignature(result)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)
}
