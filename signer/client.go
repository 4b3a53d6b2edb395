// Package signer is the chain-signatures client: deterministic cross-chain
// address derivation against the signer contract, signature requests
// through the contract's yield/resume entry point, and structural signature
// verification.
package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
)

// cacheKey identifies one derived address. Derivation is a pure function of
// the contract's root key and these inputs, so cached entries never go
// stale.
type cacheKey struct {
	account string
	chain   model.Chain
	path    string
}

// Client is a chain-signatures client bound to one (endpoint, contract)
// pair. Independent clients carry independent caches and may coexist.
type Client struct {
	chain      chain.API
	contractID string
	signerID   string
	signerKey  chain.KeyPair
	log        zerolog.Logger

	mu    sync.Mutex
	cache map[cacheKey]model.DerivedAddress
}

// NewClient returns a client that signs requests as signerID.
func NewClient(log zerolog.Logger, api chain.API, contractID, signerID string, signerKey chain.KeyPair) *Client {
	return &Client{
		chain:      api,
		contractID: contractID,
		signerID:   signerID,
		signerKey:  signerKey,
		log:        log.With().Str("component", "chainsig_client").Str("contract", contractID).Logger(),
		cache:      make(map[cacheKey]model.DerivedAddress),
	}
}

// DefaultPath builds the derivation path used when the caller supplies
// none: a function of the target chain and the requesting account.
func DefaultPath(chainName model.Chain, accountID string) string {
	return fmt.Sprintf("%s-%s", chainName, accountID)
}

// DeriveAddress derives the chain-specific address for (account, chain,
// path). The account is passed explicitly as the derivation predecessor so
// results are deterministic regardless of caller identity. Results are
// cached per (account, chain, path).
func (c *Client) DeriveAddress(ctx context.Context, accountID string, chainName model.Chain, path string) (model.DerivedAddress, error) {
	if path == "" {
		path = DefaultPath(chainName, accountID)
	}

	key := cacheKey{account: accountID, chain: chainName, path: path}
	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	raw, err := c.chain.CallView(ctx, c.contractID, "derived_public_key", map[string]interface{}{
		"path":        path,
		"predecessor": accountID,
		"domain_id":   chainName.DomainID(),
	})
	if err != nil {
		return model.DerivedAddress{}, fmt.Errorf("deriving key for %s on %s: %w", accountID, chainName, err)
	}
	var publicKey string
	if err := json.Unmarshal(raw, &publicKey); err != nil {
		return model.DerivedAddress{}, fmt.Errorf("decoding derived key: %w", model.ErrParse)
	}

	address, err := AddressFor(chainName, publicKey)
	if err != nil {
		return model.DerivedAddress{}, err
	}

	derived := model.DerivedAddress{
		Chain:          chainName,
		Address:        address,
		PublicKey:      publicKey,
		DerivationPath: path,
	}
	c.mu.Lock()
	c.cache[key] = derived
	c.mu.Unlock()

	c.log.Debug().
		Str("account", accountID).
		Str("chain", string(chainName)).
		Str("address", address).
		Msg("derived address")
	return derived, nil
}

// RequestSignature submits a signing request and blocks until the signing
// quorum supplies a result through the contract's yield/resume entry point.
//
// The derivation scheme ties a key to (predecessor account, path), so the
// authenticated transaction signer must equal the account the request names;
// mismatches are rejected before any network call is issued.
func (c *Client) RequestSignature(ctx context.Context, request model.SignatureRequest) (model.SignatureResponse, error) {
	if err := request.Validate(); err != nil {
		return model.SignatureResponse{}, err
	}
	if request.AccountID != c.signerID {
		return model.SignatureResponse{}, fmt.Errorf(
			"request names account %s but client signs as %s: %w",
			request.AccountID, c.signerID, model.ErrAccessDenied)
	}

	domainID := request.DomainID
	if request.Chain != "" {
		domainID = request.Chain.DomainID()
	}
	path := request.Path
	if path == "" && request.Chain != "" {
		path = DefaultPath(request.Chain, request.AccountID)
	}

	// resolve the target address first to surface the public key the
	// signature will verify under
	if request.Chain != "" {
		if _, err := c.DeriveAddress(ctx, request.AccountID, request.Chain, path); err != nil {
			return model.SignatureResponse{}, err
		}
	}

	args, err := json.Marshal(map[string]interface{}{
		"request": map[string]interface{}{
			"path":      path,
			"payload":   hex.EncodeToString(request.Payload[:]),
			"domain_id": domainID,
		},
	})
	if err != nil {
		return model.SignatureResponse{}, err
	}

	c.log.Info().
		Str("account", request.AccountID).
		Str("path", path).
		Uint32("domain", domainID).
		Msg("requesting signature")

	result, err := c.chain.SignAndSend(ctx, c.signerID, c.signerKey, c.contractID, []chain.Action{
		chain.FunctionCallAction("sign", args, chain.MaxGas, chain.OneYocto),
	})
	if err != nil {
		return model.SignatureResponse{}, fmt.Errorf("submitting sign request: %w", err)
	}
	if result.Status.Failed() {
		return model.SignatureResponse{}, fmt.Errorf("sign rejected: %s: %w", result.Status.FailureMessage(), model.ErrProtocol)
	}

	return extractSignature(result)
}

// VerifySignature performs structural validation: both signature components
// must be present. Cryptographic recovery-based verification is a known
// gap.
func (c *Client) VerifySignature(response model.SignatureResponse) error {
	if !response.Complete() {
		return fmt.Errorf("signature is missing components: %w", model.ErrParse)
	}
	return nil
}
