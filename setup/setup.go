// Package setup drives the signer contract through its initialization state
// machine: ensure the contract account and code, init with the resolved
// participant set, reach domain quorum through per-participant votes, and
// poll until the contract reports Running.
package setup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
	"github.com/mpcnet/chainsig/provision"
)

// Default polling behavior. Key generation for a fresh domain legitimately
// takes a while, so the total timeout is generous.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultTimeout      = 600 * time.Second
)

// Config parameterizes one setup run.
type Config struct {
	// ContractID is the requested contract account. The account actually
	// used may differ; read it back from Result.ContractID.
	ContractID string
	// DeployerID is the deployer account under the root.
	DeployerID string
	// Code is the signer contract wasm.
	Code []byte
	// PriorDeployerKey is the custodian-encrypted deployer credential blob
	// from a previous run, if any.
	PriorDeployerKey []byte
	// Threshold is the signing quorum size. Fixed once the contract
	// leaves Uninitialized.
	Threshold int
	// Domains to register; defaults to the single secp256k1 domain 0.
	Domains []model.Domain

	PollInterval time.Duration
	Timeout      time.Duration

	// Force re-runs initialization steps even when the contract already
	// reports Running.
	Force bool
}

func (c *Config) withDefaults() {
	if len(c.Domains) == 0 {
		c.Domains = model.DefaultDomains()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Result is what a completed (or legitimately still-progressing) setup run
// hands back to the caller.
type Result struct {
	ContractID   string                `json:"contract_id"`
	Participants model.ParticipantList `json:"participants"`
	RPCURL       string                `json:"rpc_url"`
	// Running is false when setup returned on timeout with key generation
	// plausibly still in progress; re-invoking resumes from on-chain
	// state.
	Running bool `json:"running"`
	// EncryptedDeployerKey is the custodian-encrypted deployer credential
	// blob for caller-side persistence. Nil when no deployer was created.
	EncryptedDeployerKey []byte `json:"-"`
}

// Network orchestrates the MPC network setup state machine against one
// deployed topology.
type Network struct {
	log         zerolog.Logger
	chain       chain.API
	provisioner *provision.Provisioner
	config      model.NetworkConfig
}

// NewNetwork returns a setup orchestrator for the resolved topology.
func NewNetwork(log zerolog.Logger, api chain.API, provisioner *provision.Provisioner, config model.NetworkConfig) *Network {
	return &Network{
		log:         log.With().Str("component", "mpc_setup").Logger(),
		chain:       api,
		provisioner: provisioner,
		config:      config,
	}
}

// Setup runs the full state machine. Every step re-checks actual on-chain
// state before acting, so the call is safe to interrupt and re-run; a prior
// partial run resumes from wherever the chain actually is.
//
// On poll timeout the run returns a Result with Running=false and no error:
// key generation may legitimately still be in progress, and the caller is
// expected to re-invoke later.
func (n *Network) Setup(ctx context.Context, config Config) (*Result, error) {
	config.withDefaults()

	if err := n.provisioner.InitializeMasterAccount(ctx); err != nil {
		return nil, err
	}

	var encryptedDeployerKey []byte
	if config.DeployerID != "" {
		var err error
		encryptedDeployerKey, err = n.provisioner.CreateDeployerAccount(ctx, config.DeployerID, config.PriorDeployerKey)
		if err != nil {
			return nil, err
		}
	}

	contractID, err := n.provisioner.DeploySignerContract(ctx, config.ContractID, config.DeployerID, config.Code)
	if err != nil {
		return nil, err
	}
	if contractID != config.ContractID {
		n.log.Warn().
			Str("requested", config.ContractID).
			Str("used", contractID).
			Msg("contract deployed under a different account than requested")
	}

	contract := NewContractClient(n.log, n.chain, contractID)
	result := &Result{
		ContractID:           contractID,
		Participants:         n.config.Participants,
		RPCURL:               n.config.RPCURL,
		EncryptedDeployerKey: encryptedDeployerKey,
	}

	state, err := contract.State(ctx)
	if err != nil {
		return nil, err
	}
	n.log.Info().Str("state", state.Tag.String()).Msg("read initial contract state")

	if state.Running() && !config.Force {
		n.log.Info().Msg("contract already running, nothing to do")
		result.Running = true
		return result, nil
	}

	if state.Tag == model.StateUninitialized {
		refreshSigningKeys(ctx, n.log, n.config.Participants)
		rootKey, err := n.provisioner.KeyFor(ctx, n.provisioner.RootID())
		if err != nil {
			return nil, fmt.Errorf("init requires the master key: %w", err)
		}
		if err := contract.Init(ctx, n.provisioner.RootID(), rootKey, n.config.Participants, config.Threshold); err != nil {
			return nil, err
		}
		state, err = contract.State(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := n.voteDomains(ctx, contract, state, config.Domains); err != nil {
		return nil, err
	}

	running, err := n.awaitRunning(ctx, contract, config.PollInterval, config.Timeout)
	if err != nil {
		return nil, err
	}
	result.Running = running
	return result, nil
}

// voteDomains has every participant independently vote for each domain not
// yet active on the contract. Votes have distinct signers and no shared
// mutable local state, so they are issued concurrently; polling must not
// begin unless enough votes succeeded to plausibly reach quorum.
func (n *Network) voteDomains(ctx context.Context, contract *ContractClient, state *model.ProtocolState, domains []model.Domain) error {
	var missing []model.Domain
	for _, d := range domains {
		if !state.HasDomain(d.ID) {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		n.log.Info().Msg("all requested domains already active")
		return nil
	}

	threshold := state.Threshold
	participants := state.Participants
	if len(participants) == 0 {
		participants = n.config.Participants
	}

	var (
		group, groupCtx = errgroup.WithContext(ctx)
		votes           = make([]error, len(participants))
	)
	for i, p := range participants {
		i, p := i, p
		group.Go(func() error {
			key, err := n.provisioner.KeyFor(groupCtx, p.AccountID)
			if err != nil {
				votes[i] = err
				return nil
			}
			votes[i] = contract.VoteAddDomains(groupCtx, p.AccountID, key, missing)
			return nil
		})
	}
	_ = group.Wait()

	succeeded := 0
	var failures error
	for i, err := range votes {
		if err == nil {
			succeeded++
			continue
		}
		failures = multierror.Append(failures, fmt.Errorf("participant %s: %w", participants[i].AccountID, err))
	}

	if succeeded < threshold {
		return fmt.Errorf("only %d of %d domain votes succeeded, quorum %d not plausible: %w",
			succeeded, len(participants), threshold, failures)
	}
	if failures != nil {
		n.log.Warn().Err(failures).Int("succeeded", succeeded).Msg("some domain votes failed, quorum still plausible")
	}
	return nil
}

// awaitRunning polls the contract state on a fixed interval until it
// reports Running, bounded by the total timeout. Timeout is not an error:
// the caller re-invokes setup later and resumes from on-chain state.
func (n *Network) awaitRunning(ctx context.Context, contract *ContractClient, interval, timeout time.Duration) (bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	backoff := retry.NewConstant(interval)

	err := retry.Do(pollCtx, backoff, func(ctx context.Context) error {
		state, err := contract.State(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}

		n.log.Info().
			Str("state", state.Tag.String()).
			Dur("waiting", time.Since(start)).
			Msg("polling contract state")

		if state.Running() {
			return nil
		}
		return retry.RetryableError(fmt.Errorf("contract state is %s: %w", state.Tag, model.ErrTimeout))
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrTimeout) {
			n.log.Warn().
				Dur("waited", time.Since(start)).
				Msg("contract did not reach Running before timeout; key generation may still be in progress, re-invoke setup later")
			return false, nil
		}
		return false, fmt.Errorf("awaiting Running state: %w", err)
	}
	return true, nil
}
