package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureScheme identifies the cryptographic scheme of a domain's key.
type SignatureScheme int

const (
	SchemeUnknown SignatureScheme = iota
	SchemeSecp256k1
	SchemeEd25519
)

// String returns the scheme name as it appears in on-chain key strings
// ("secp256k1:<bytes>", "ed25519:<bytes>").
func (s SignatureScheme) String() string {
	switch s {
	case SchemeSecp256k1:
		return "secp256k1"
	case SchemeEd25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

// contractName returns the scheme tag used by the signer contract's JSON API.
func (s SignatureScheme) contractName() string {
	switch s {
	case SchemeSecp256k1:
		return "Secp256k1"
	case SchemeEd25519:
		return "Ed25519"
	default:
		return "Unknown"
	}
}

// ParseSignatureScheme parses a scheme name in either the key-string form
// ("secp256k1") or the contract's tag form ("Secp256k1").
func ParseSignatureScheme(name string) (SignatureScheme, error) {
	switch strings.ToLower(name) {
	case "secp256k1":
		return SchemeSecp256k1, nil
	case "ed25519":
		return SchemeEd25519, nil
	default:
		return SchemeUnknown, fmt.Errorf("unknown signature scheme %q: %w", name, ErrParse)
	}
}

// MarshalJSON encodes the scheme using the contract's tag form.
func (s SignatureScheme) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.contractName())
}

// UnmarshalJSON accepts both the contract tag form and the key-string form.
func (s *SignatureScheme) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	scheme, err := ParseSignatureScheme(name)
	if err != nil {
		return err
	}
	*s = scheme
	return nil
}

// Domain is one independently keyed signature-scheme instance registered on
// the signer contract. Domains are created only by reaching participant
// quorum on a vote_add_domains vote; their ids are unique.
type Domain struct {
	ID     uint32          `json:"id"`
	Scheme SignatureScheme `json:"scheme"`
}

// DefaultDomains is the baseline domain set registered during setup: a
// single secp256k1 domain with id 0.
func DefaultDomains() []Domain {
	return []Domain{{ID: 0, Scheme: SchemeSecp256k1}}
}
