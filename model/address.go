package model

import (
	"fmt"
	"strings"
)

// Chain names a target chain for address derivation. EVM-family chains share
// one derivation rule; the remaining families each have their own.
type Chain string

const (
	ChainEthereum  Chain = "ethereum"
	ChainBSC       Chain = "bsc"
	ChainPolygon   Chain = "polygon"
	ChainArbitrum  Chain = "arbitrum"
	ChainOptimism  Chain = "optimism"
	ChainAvalanche Chain = "avalanche"
	ChainBitcoin   Chain = "bitcoin"
	ChainDogecoin  Chain = "dogecoin"
	ChainRipple    Chain = "ripple"
)

// ParseChain normalizes and validates a chain name.
func ParseChain(name string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(name)))
	switch c {
	case ChainEthereum, ChainBSC, ChainPolygon, ChainArbitrum,
		ChainOptimism, ChainAvalanche, ChainBitcoin, ChainDogecoin, ChainRipple:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported chain %q: %w", name, ErrParse)
	}
}

// IsEVM reports whether the chain uses EVM-style (Keccak-256, checksummed
// hex) addresses.
func (c Chain) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBSC, ChainPolygon, ChainArbitrum, ChainOptimism, ChainAvalanche:
		return true
	default:
		return false
	}
}

// DomainID returns the signing domain appropriate for the chain's key
// scheme. All currently supported chains sign with the secp256k1 domain.
func (c Chain) DomainID() uint32 {
	return 0
}

// DerivedAddress is a cached address derivation result, keyed by
// (account, chain, path). Derivation is a pure function of the contract's
// immutable root key plus deterministic inputs, so entries never go stale.
type DerivedAddress struct {
	Chain          Chain  `json:"chain"`
	Address        string `json:"address"`
	PublicKey      string `json:"public_key"`
	DerivationPath string `json:"derivation_path"`
}
