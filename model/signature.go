package model

import "fmt"

// PayloadSize is the exact digest length accepted by the signer contract.
const PayloadSize = 32

// SignatureRequest asks the signing quorum for a signature over a 32-byte
// digest under the key derived from (AccountID, Path) in the given domain.
type SignatureRequest struct {
	// AccountID is the account on whose behalf the signature is requested.
	// The derivation scheme ties a key to (predecessor account, path), so
	// the authenticated transaction signer must equal this account.
	AccountID string
	// Chain optionally selects the signing domain by chain family. When
	// set, it overrides DomainID.
	Chain Chain
	// Path is the derivation path; empty selects the client's default path
	// for (Chain, AccountID).
	Path string
	// Payload is the 32-byte digest to sign.
	Payload [PayloadSize]byte
	// DomainID selects the signing domain when Chain is unset.
	DomainID uint32
}

// Validate checks the request before any network call is issued.
func (r SignatureRequest) Validate() error {
	if !IsValidAccountID(r.AccountID) {
		return fmt.Errorf("invalid request account id %q: %w", r.AccountID, ErrParse)
	}
	return nil
}

// SignatureResponse is a completed threshold signature: the R point, the s
// scalar, and the recovery id.
type SignatureResponse struct {
	BigR       string `json:"big_r"`
	S          string `json:"s"`
	RecoveryID byte   `json:"recovery_id"`
}

// Complete reports whether both signature components are present. This is
// the structural check behind signature verification; cryptographic
// recovery-based verification is a known gap.
func (r SignatureResponse) Complete() bool {
	return r.BigR != "" && r.S != ""
}
