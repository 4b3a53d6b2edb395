package signer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/mpcnet/chainsig/model"
)

// NormalizePublicKey accepts a secp256k1 public key in compressed (33
// bytes), uncompressed-with-prefix (65 bytes), or raw 64-byte (x,y) form,
// hex or base58 encoded, with or without a "<scheme>:" prefix, and returns
// the 64-byte (x,y) pair.
func NormalizePublicKey(raw string) ([]byte, error) {
	body := raw
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		scheme, err := model.ParseSignatureScheme(raw[:idx])
		if err != nil {
			return nil, err
		}
		if scheme != model.SchemeSecp256k1 {
			return nil, fmt.Errorf("address derivation needs a secp256k1 key, got %s: %w", scheme, model.ErrParse)
		}
		body = raw[idx+1:]
	}

	decoded, err := hex.DecodeString(strings.TrimPrefix(body, "0x"))
	if err != nil {
		decoded, err = base58.Decode(body)
		if err != nil {
			return nil, fmt.Errorf("public key %q is neither hex nor base58: %w", raw, model.ErrParse)
		}
	}

	switch len(decoded) {
	case 33:
		if decoded[0] != 0x02 && decoded[0] != 0x03 {
			return nil, fmt.Errorf("compressed key has prefix 0x%02x: %w", decoded[0], model.ErrParse)
		}
		point, err := btcec.ParsePubKey(decoded)
		if err != nil {
			return nil, fmt.Errorf("decompressing public key: %w", err)
		}
		return point.SerializeUncompressed()[1:], nil
	case 65:
		if decoded[0] != 0x04 {
			return nil, fmt.Errorf("uncompressed key has prefix 0x%02x: %w", decoded[0], model.ErrParse)
		}
		return decoded[1:], nil
	case 64:
		return decoded, nil
	default:
		return nil, fmt.Errorf("public key has %d bytes, want 33, 64 or 65: %w", len(decoded), model.ErrParse)
	}
}

// AddressFor converts a derived public key to the chain's address format.
//
// The EVM path is exact: Keccak-256 of the 64-byte (x,y) pair, low 20
// bytes, mixed-case checksum encoding. The Bitcoin, Dogecoin and Ripple
// paths are a simplified SHA-256 based placeholder, not real
// bech32/base58check encodings.
func AddressFor(chainName model.Chain, publicKey string) (string, error) {
	point, err := NormalizePublicKey(publicKey)
	if err != nil {
		return "", err
	}

	if chainName.IsEVM() {
		hash := crypto.Keccak256(point)
		return common.BytesToAddress(hash[12:]).Hex(), nil
	}

	digest := sha256.Sum256(point)
	switch chainName {
	case model.ChainBitcoin:
		return base58.Encode(append([]byte{0x00}, digest[:20]...)), nil
	case model.ChainDogecoin:
		return base58.Encode(append([]byte{0x1e}, digest[:20]...)), nil
	case model.ChainRipple:
		return "r" + base58.Encode(digest[:20]), nil
	default:
		return "", fmt.Errorf("no address conversion for chain %s: %w", chainName, model.ErrParse)
	}
}
