// Package provision creates the hierarchical account tree the signing
// network runs on: root -> deployer -> contract, plus the participant
// accounts. Every operation is idempotent; re-runs against a chain that
// already carries the accounts are no-ops.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
	"github.com/mpcnet/chainsig/secrets"
)

// Default funding amounts, yocto-denominated (10 NEAR for new accounts, as
// in the localnet genesis).
var (
	DefaultAccountBalance  = chain.MustYocto("10000000000000000000000000")
	DefaultContractBalance = chain.MustYocto("20000000000000000000000000")
)

// accountKeySecret names the secret store entry holding an account's
// credentials. Dots are not valid in secret names.
func accountKeySecret(accountID string) string {
	return "account-key-" + strings.ReplaceAll(accountID, ".", "-")
}

// Provisioner performs idempotent account creation and contract deployment.
type Provisioner struct {
	chain     chain.API
	custodian secrets.Custodian
	rootID    string
	log       zerolog.Logger

	mu   sync.Mutex
	keys map[string]chain.KeyPair // locally known signing keys by account id
}

// New returns a provisioner rooted at the given master account.
func New(log zerolog.Logger, api chain.API, custodian secrets.Custodian, rootID string) *Provisioner {
	return &Provisioner{
		chain:     api,
		custodian: custodian,
		rootID:    rootID,
		log:       log.With().Str("component", "provisioner").Str("root", rootID).Logger(),
		keys:      make(map[string]chain.KeyPair),
	}
}

// RootID returns the master account id.
func (p *Provisioner) RootID() string {
	return p.rootID
}

// AccountExists performs a single read-style existence check. Only the
// chain's not-found condition classifies as absence; all other errors are
// fatal and not retried.
func (p *Provisioner) AccountExists(ctx context.Context, accountID string) (bool, error) {
	_, err := p.chain.ViewAccount(ctx, accountID)
	if err != nil {
		if chain.IsUnknownAccount(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking account %s: %w", accountID, err)
	}
	return true, nil
}

// KeyFor returns the signing key for an account, consulting the local cache
// first and then the secret store.
func (p *Provisioner) KeyFor(ctx context.Context, accountID string) (chain.KeyPair, error) {
	p.mu.Lock()
	if key, ok := p.keys[accountID]; ok {
		p.mu.Unlock()
		return key, nil
	}
	p.mu.Unlock()

	blob, err := p.custodian.GetSecret(ctx, accountKeySecret(accountID))
	if err != nil {
		return chain.KeyPair{}, fmt.Errorf("signing key for %s: %w", accountID, err)
	}
	var creds chain.Credentials
	if err := json.Unmarshal(blob, &creds); err != nil {
		return chain.KeyPair{}, fmt.Errorf("decoding credentials for %s: %w", accountID, err)
	}
	key, err := creds.KeyPair()
	if err != nil {
		return chain.KeyPair{}, err
	}

	p.cacheKey(accountID, key)
	return key, nil
}

func (p *Provisioner) cacheKey(accountID string, key chain.KeyPair) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[accountID] = key
}

// hasKey reports whether a signing key for the account is locally
// available, without surfacing retrieval errors.
func (p *Provisioner) hasKey(ctx context.Context, accountID string) bool {
	_, err := p.KeyFor(ctx, accountID)
	return err == nil
}

// InitializeMasterAccount verifies the root account exists. An unavailable
// root signing key is logged but not fatal here: the failure is deferred to
// whichever later step actually needs to sign with it.
func (p *Provisioner) InitializeMasterAccount(ctx context.Context) error {
	exists, err := p.AccountExists(ctx, p.rootID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("master account %s: %w", p.rootID, model.ErrNotFound)
	}

	if _, err := p.KeyFor(ctx, p.rootID); err != nil {
		p.log.Warn().Err(err).Msg("master account signing key unavailable locally")
	}
	return nil
}

// CreateDeployerAccount creates the deployer account under the root, funds
// it, and returns the custodian-encrypted credentials for caller-side
// persistence. If the account already exists it is reused: the supplied
// prior encrypted key is decrypted rather than a new one generated.
func (p *Provisioner) CreateDeployerAccount(ctx context.Context, deployerID string, priorEncrypted []byte) ([]byte, error) {
	exists, err := p.AccountExists(ctx, deployerID)
	if err != nil {
		return nil, err
	}

	if exists {
		if len(priorEncrypted) > 0 {
			plaintext, err := p.custodian.Decrypt(ctx, priorEncrypted)
			if err != nil {
				return nil, fmt.Errorf("decrypting prior deployer key for %s: %w", deployerID, err)
			}
			var creds chain.Credentials
			if err := json.Unmarshal(plaintext, &creds); err != nil {
				return nil, fmt.Errorf("decoding prior deployer credentials: %w", err)
			}
			key, err := creds.KeyPair()
			if err != nil {
				return nil, err
			}
			p.cacheKey(deployerID, key)
			p.log.Info().Str("deployer", deployerID).Msg("reusing existing deployer account")
			return priorEncrypted, nil
		}
		if !p.hasKey(ctx, deployerID) {
			return nil, fmt.Errorf("deployer %s exists but no key was supplied or stored: %w", deployerID, model.ErrAccessDenied)
		}
		p.log.Info().Str("deployer", deployerID).Msg("reusing existing deployer account with stored key")
		return nil, nil
	}

	rootKey, err := p.KeyFor(ctx, p.rootID)
	if err != nil {
		return nil, fmt.Errorf("creating %s requires the master key: %w", deployerID, err)
	}

	key, err := chain.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	creds, err := json.Marshal(chain.NewCredentials(deployerID, key))
	if err != nil {
		return nil, err
	}
	encrypted, err := p.custodian.Encrypt(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("encrypting deployer key: %w", err)
	}

	addKey, err := chain.AddKeyAction(key.PublicKey)
	if err != nil {
		return nil, err
	}
	result, err := p.chain.SignAndSend(ctx, p.rootID, rootKey, deployerID, []chain.Action{
		chain.CreateAccountAction(),
		chain.TransferAction(DefaultAccountBalance),
		addKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating deployer %s: %w", deployerID, err)
	}
	if result.Status.Failed() {
		return nil, fmt.Errorf("creating deployer %s: %s: %w", deployerID, result.Status.FailureMessage(), model.ErrProtocol)
	}

	p.cacheKey(deployerID, key)
	p.log.Info().Str("deployer", deployerID).Msg("created deployer account")
	return encrypted, nil
}

// DeploySignerContract ensures the contract account exists and carries the
// given code, and returns the account id actually used. Callers must read
// that id back: when the requested account exists in an opaque prior state
// whose key is unavailable, deployment falls back to a fresh
// uniqueness-suffixed sibling account.
func (p *Provisioner) DeploySignerContract(ctx context.Context, contractID, deployerID string, code []byte) (string, error) {
	if len(code) == 0 {
		return "", fmt.Errorf("contract code for %s: %w", contractID, model.ErrWasmNotFound)
	}

	existing, err := p.chain.ViewCode(ctx, contractID)
	switch {
	case err == nil && len(existing) > 0:
		p.log.Info().Str("contract", contractID).Msg("contract already deployed")
		return contractID, nil
	case err == nil:
		// account exists with no code: only the account itself can deploy
		if key, keyErr := p.KeyFor(ctx, contractID); keyErr == nil {
			return p.selfDeploy(ctx, contractID, key, code)
		}
		fallbackID := uniqueSibling(contractID)
		p.log.Warn().
			Str("contract", contractID).
			Str("fallback", fallbackID).
			Msg("contract account exists without a locally available key, deploying to fresh sibling")
		return p.createAndDeploy(ctx, fallbackID, deployerID, code)
	case chain.IsUnknownAccount(err):
		return p.createAndDeploy(ctx, contractID, deployerID, code)
	default:
		return "", fmt.Errorf("checking contract %s: %w", contractID, err)
	}
}

// selfDeploy deploys code on an existing keyed account.
func (p *Provisioner) selfDeploy(ctx context.Context, contractID string, key chain.KeyPair, code []byte) (string, error) {
	result, err := p.chain.SignAndSend(ctx, contractID, key, contractID, []chain.Action{
		chain.DeployContractAction(code),
	})
	if err != nil {
		return "", fmt.Errorf("deploying to %s: %w", contractID, err)
	}
	if result.Status.Failed() {
		return "", fmt.Errorf("deploying to %s: %s: %w", contractID, result.Status.FailureMessage(), model.ErrProtocol)
	}
	p.log.Info().Str("contract", contractID).Int("code_bytes", len(code)).Msg("deployed contract")
	return contractID, nil
}

// createAndDeploy creates a fresh contract account and deploys code in one
// batched transaction from a funding account chosen by the name-hierarchy
// rule: an account may only directly create a child whose name is suffixed
// by its own.
func (p *Provisioner) createAndDeploy(ctx context.Context, contractID, deployerID string, code []byte) (string, error) {
	funderID := p.chooseFunder(contractID, deployerID)
	funderKey, err := p.KeyFor(ctx, funderID)
	if err != nil {
		return "", fmt.Errorf("creating %s requires the %s key: %w", contractID, funderID, err)
	}

	contractKey, err := chain.GenerateKeyPair()
	if err != nil {
		return "", err
	}
	addKey, err := chain.AddKeyAction(contractKey.PublicKey)
	if err != nil {
		return "", err
	}

	result, err := p.chain.SignAndSend(ctx, funderID, funderKey, contractID, []chain.Action{
		chain.CreateAccountAction(),
		chain.TransferAction(DefaultContractBalance),
		addKey,
		chain.DeployContractAction(code),
	})
	if err != nil {
		return "", fmt.Errorf("creating contract %s from %s: %w", contractID, funderID, err)
	}
	if result.Status.Failed() {
		return "", fmt.Errorf("creating contract %s: %s: %w", contractID, result.Status.FailureMessage(), model.ErrProtocol)
	}

	p.cacheKey(contractID, contractKey)
	p.log.Info().
		Str("contract", contractID).
		Str("funder", funderID).
		Int("code_bytes", len(code)).
		Msg("created and deployed contract account")
	return contractID, nil
}

// chooseFunder prefers the deployer when it is a valid ancestor of the
// requested name, then the root, and falls back to the root with a warning
// when the name is a child of neither.
func (p *Provisioner) chooseFunder(contractID, deployerID string) string {
	if deployerID != "" && model.IsChildAccount(contractID, deployerID) {
		return deployerID
	}
	if model.IsChildAccount(contractID, p.rootID) {
		return p.rootID
	}
	p.log.Warn().
		Str("contract", contractID).
		Str("deployer", deployerID).
		Msg("requested contract name is not a child of the deployer or root, funding from root")
	return p.rootID
}

// uniqueSibling inserts a random uniqueness suffix into the leftmost label,
// keeping the account under the same parent.
func uniqueSibling(accountID string) string {
	suffix := make([]byte, 3)
	_, _ = rand.Read(suffix)
	first, rest, found := strings.Cut(accountID, ".")
	if !found {
		return fmt.Sprintf("%s-%s", first, hex.EncodeToString(suffix))
	}
	return fmt.Sprintf("%s-%s.%s", first, hex.EncodeToString(suffix), rest)
}

// LoadContractCode reads the signer contract wasm from disk.
func LoadContractCode(path string) ([]byte, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("wasm at %s: %w", path, model.ErrWasmNotFound)
		}
		return nil, fmt.Errorf("reading wasm at %s: %w", path, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("wasm at %s is empty: %w", path, model.ErrWasmNotFound)
	}
	return code, nil
}

// FundingAmount exposes the default account balance for callers seeding
// participant accounts.
func FundingAmount() *big.Int {
	return new(big.Int).Set(DefaultAccountBalance)
}
