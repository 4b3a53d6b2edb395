package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
)

// ContractClient drives one signer contract: state reads, the init call,
// and per-participant domain votes.
type ContractClient struct {
	chain      chain.API
	contractID string
	log        zerolog.Logger
}

// NewContractClient returns a client bound to the given contract account.
func NewContractClient(log zerolog.Logger, api chain.API, contractID string) *ContractClient {
	return &ContractClient{
		chain:      api,
		contractID: contractID,
		log:        log.With().Str("component", "contract_client").Str("contract", contractID).Logger(),
	}
}

// ContractID returns the contract account the client drives.
func (c *ContractClient) ContractID() string {
	return c.contractID
}

// State reads the contract's current protocol state. The state is never
// cached: orchestration re-reads it before every mutating action.
func (c *ContractClient) State(ctx context.Context) (*model.ProtocolState, error) {
	raw, err := c.chain.CallView(ctx, c.contractID, "state", nil)
	if err != nil {
		return nil, fmt.Errorf("reading state of %s: %w", c.contractID, err)
	}
	var state model.ProtocolState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decoding state of %s: %w", c.contractID, err)
	}
	return &state, nil
}

// initParticipant is the participant entry shape the init call takes.
type initParticipant struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url,omitempty"`
	SignPK    string `json:"sign_pk,omitempty"`
}

// Init submits init(participants, threshold) signed by the master account.
func (c *ContractClient) Init(ctx context.Context, signerID string, key chain.KeyPair, participants model.ParticipantList, threshold int) error {
	if threshold <= 0 || threshold > len(participants) {
		return fmt.Errorf("threshold %d with %d participants: %w", threshold, len(participants), model.ErrProtocol)
	}

	entries := make([]initParticipant, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, initParticipant{
			AccountID: p.AccountID,
			URL:       p.EndpointURL,
			SignPK:    p.SignPublicKey,
		})
	}
	args, err := json.Marshal(map[string]interface{}{
		"participants": entries,
		"threshold":    threshold,
	})
	if err != nil {
		return err
	}

	result, err := c.chain.SignAndSend(ctx, signerID, key, c.contractID, []chain.Action{
		chain.FunctionCallAction("init", args, chain.MaxGas, nil),
	})
	if err != nil {
		return fmt.Errorf("submitting init to %s: %w", c.contractID, err)
	}
	if result.Status.Failed() {
		return fmt.Errorf("init on %s rejected: %s: %w", c.contractID, result.Status.FailureMessage(), model.ErrProtocol)
	}

	c.log.Info().Int("participants", len(participants)).Int("threshold", threshold).Msg("submitted init")
	return nil
}

// VoteAddDomains submits one participant's vote_add_domains transaction,
// signed with the participant's own account key. A vote rejected because
// quorum was already reached is swallowed as a success; any other rejection
// propagates.
func (c *ContractClient) VoteAddDomains(ctx context.Context, signerID string, key chain.KeyPair, domains []model.Domain) error {
	args, err := json.Marshal(map[string]interface{}{"domains": domains})
	if err != nil {
		return err
	}

	result, err := c.chain.SignAndSend(ctx, signerID, key, c.contractID, []chain.Action{
		chain.FunctionCallAction("vote_add_domains", args, chain.MaxGas, nil),
	})
	if err != nil {
		return fmt.Errorf("submitting domain vote from %s: %w", signerID, err)
	}
	if result.Status.Failed() {
		msg := result.Status.FailureMessage()
		if isQuorumClosed(msg) {
			c.log.Info().Str("voter", signerID).Msg("domain vote arrived after quorum, treating as success")
			return nil
		}
		return fmt.Errorf("domain vote from %s rejected: %s: %w", signerID, msg, model.ErrProtocol)
	}

	c.log.Debug().Str("voter", signerID).Msg("submitted domain vote")
	return nil
}

// isQuorumClosed matches the contract's rejection of a vote submitted after
// quorum was already reached. Retrying a vote is idempotent because of
// this.
func isQuorumClosed(msg string) bool {
	lowered := strings.ToLower(msg)
	return strings.Contains(lowered, "already exists") ||
		strings.Contains(lowered, "voting is closed") ||
		strings.Contains(lowered, "quorum already reached")
}

// PublicKey reads a domain's root public key in "<scheme>:<bytes>" form.
func (c *ContractClient) PublicKey(ctx context.Context, domainID uint32) (string, error) {
	raw, err := c.chain.CallView(ctx, c.contractID, "public_key", map[string]uint32{"domain_id": domainID})
	if err != nil {
		return "", fmt.Errorf("reading public key of domain %d: %w", domainID, err)
	}
	var pk string
	if err := json.Unmarshal(raw, &pk); err != nil {
		return "", fmt.Errorf("decoding public key of domain %d: %w", domainID, err)
	}
	return pk, nil
}
