package signer

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcnet/chainsig/model"
)

// the secp256k1 generator point, i.e. the public key of private key 1
const (
	generatorCompressed   = "0279BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798"
	generatorUncompressed = "0479BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798" +
		"483ADA7726A3C4655DA4FBFC0E1108A8FD17B448A68554199C47D08FFB10D4B8"

	// the well-known address of private key 1
	generatorEthAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

func TestNormalizePublicKeyForms(t *testing.T) {
	want, err := hex.DecodeString(generatorUncompressed[2:])
	require.NoError(t, err)

	rawBytes, err := hex.DecodeString(generatorCompressed)
	require.NoError(t, err)

	cases := []struct {
		name  string
		input string
	}{
		{"compressed hex", generatorCompressed},
		{"compressed hex 0x", "0x" + generatorCompressed},
		{"uncompressed hex", generatorUncompressed},
		{"raw 64-byte hex", generatorUncompressed[2:]},
		{"scheme prefix", "secp256k1:" + generatorCompressed},
		{"base58", base58.Encode(rawBytes)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePublicKey(tc.input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalizePublicKeyRejects(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"wrong scheme", "ed25519:" + generatorCompressed},
		{"unknown scheme", "p256:" + generatorCompressed},
		{"bad compressed prefix", "05" + generatorCompressed[2:]},
		{"bad uncompressed prefix", "02" + generatorUncompressed[2:]},
		{"wrong length", "0279BE66"},
		{"not a point", "02" + strings.Repeat("FF", 32)},
		{"garbage", "!!not-a-key!!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizePublicKey(tc.input)
			require.Error(t, err)
		})
	}
}

func TestAddressForEthereum(t *testing.T) {
	// all encodings of the same point land on the same checksummed address
	for _, input := range []string{
		generatorCompressed,
		generatorUncompressed,
		"secp256k1:" + generatorCompressed,
	} {
		address, err := AddressFor(model.ChainEthereum, input)
		require.NoError(t, err)
		assert.Equal(t, generatorEthAddress, address)
	}
}

func TestAddressForEVMFamilies(t *testing.T) {
	// every EVM family shares the derivation rule
	for _, chainName := range []model.Chain{
		model.ChainBSC, model.ChainPolygon, model.ChainArbitrum,
		model.ChainOptimism, model.ChainAvalanche,
	} {
		address, err := AddressFor(chainName, generatorCompressed)
		require.NoError(t, err)
		assert.Equal(t, generatorEthAddress, address, "chain %s", chainName)
	}
}

func TestAddressForNonEVM(t *testing.T) {
	btc, err := AddressFor(model.ChainBitcoin, generatorCompressed)
	require.NoError(t, err)
	assert.NotEmpty(t, btc)

	doge, err := AddressFor(model.ChainDogecoin, generatorCompressed)
	require.NoError(t, err)
	assert.NotEqual(t, btc, doge)

	xrp, err := AddressFor(model.ChainRipple, generatorCompressed)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(xrp, "r"))
}

func TestAddressForUnknownChain(t *testing.T) {
	_, err := AddressFor(model.Chain("solana"), generatorCompressed)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)
}
