// Package emulator provides an in-memory chain plus signer-contract state
// machine implementing chain.API. It exists for tests: accounts, code
// deployment, the init/vote quorum protocol, deterministic key derivation,
// and the sign yield/resume call are all modeled without a node.
package emulator

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/mr-tron/base58"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
)

type account struct {
	amount *big.Int
	code   []byte
	keys   map[string]uint64 // public key string -> nonce
}

// Emulator is an in-memory chain.API implementation with one signer
// contract.
type Emulator struct {
	mu sync.Mutex

	accounts map[string]*account

	// signer contract state
	contractID string
	tag        model.ProtocolStateTag
	params     model.ParticipantList
	threshold  int
	domains    []model.Domain
	votes      map[uint32]map[string]bool // domain id -> distinct voters
	rootKey    *btcec.PrivateKey

	// PollsUntilRunning delays the Initializing -> Running transition by
	// the given number of state() views after quorum, modeling key
	// generation time. Zero flips immediately.
	PollsUntilRunning int
	pendingPolls      int
	quorumReached     bool

	// LegacySignResponse selects the flat historical signature response
	// shape instead of the nested success wrapper.
	LegacySignResponse bool

	// transaction counters by method name (init, vote_add_domains, sign);
	// batched account actions count under "batch".
	txCount map[string]int
}

var _ chain.API = (*Emulator)(nil)

// New returns an empty emulator with a fixed contract root key so derived
// keys are reproducible across runs.
func New() *Emulator {
	seed := sha256.Sum256([]byte("chainsig-emulator-root"))
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return &Emulator{
		accounts: make(map[string]*account),
		votes:    make(map[uint32]map[string]bool),
		rootKey:  priv,
		txCount:  make(map[string]int),
	}
}

// CreateAccount seeds an account with a balance and access keys, bypassing
// transaction processing. Test setup only.
func (e *Emulator) CreateAccount(id string, amount *big.Int, keys ...chain.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := &account{amount: new(big.Int).Set(amount), keys: make(map[string]uint64)}
	for _, k := range keys {
		acct.keys[k.String()] = 0
	}
	e.accounts[id] = acct
}

// TxCount returns how many transactions invoked the given contract method.
func (e *Emulator) TxCount(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txCount[method]
}

// StateTag returns the contract's current lifecycle tag.
func (e *Emulator) StateTag() model.ProtocolStateTag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tag
}

// ViewAccount implements chain.API.
func (e *Emulator) ViewAccount(_ context.Context, accountID string) (*chain.AccountView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct, ok := e.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s does not exist: %w", accountID, model.ErrNotFound)
	}
	return &chain.AccountView{AccountID: accountID, Amount: acct.amount.String()}, nil
}

// ViewCode implements chain.API.
func (e *Emulator) ViewCode(_ context.Context, accountID string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct, ok := e.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s does not exist: %w", accountID, model.ErrNotFound)
	}
	return acct.code, nil
}

// CallView implements chain.API.
func (e *Emulator) CallView(_ context.Context, contractID, method string, args interface{}) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[contractID]
	if !ok {
		return nil, fmt.Errorf("account %s does not exist: %w", contractID, model.ErrNotFound)
	}
	if len(acct.code) == 0 {
		return nil, fmt.Errorf("no contract code on %s: %w", contractID, model.ErrNotFound)
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	switch method {
	case "state":
		return e.stateJSON()
	case "public_key":
		var req struct {
			DomainID *uint32 `json:"domain_id"`
		}
		_ = json.Unmarshal(argBytes, &req)
		var id uint32
		if req.DomainID != nil {
			id = *req.DomainID
		}
		pk, err := e.domainPublicKey(id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(pk)
	case "derived_public_key":
		var req struct {
			Path        string  `json:"path"`
			Predecessor string  `json:"predecessor"`
			DomainID    *uint32 `json:"domain_id"`
		}
		if err := json.Unmarshal(argBytes, &req); err != nil {
			return nil, err
		}
		var id uint32
		if req.DomainID != nil {
			id = *req.DomainID
		}
		pk, err := e.derivedPublicKey(req.Predecessor, req.Path, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(pk)
	default:
		return nil, fmt.Errorf("method %s not found: %w", method, model.ErrNotFound)
	}
}

// SignAndSend implements chain.API. Contract panics surface in the returned
// execution result, as with a real node; authentication and missing-account
// conditions are Go errors.
func (e *Emulator) SignAndSend(_ context.Context, signerID string, key chain.KeyPair, receiverID string, actions []chain.Action) (*chain.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	signer, ok := e.accounts[signerID]
	if !ok {
		return nil, fmt.Errorf("signer account %s does not exist: %w", signerID, model.ErrNotFound)
	}
	if !key.Valid() {
		return nil, fmt.Errorf("no signing key for %s: %w", signerID, model.ErrAccessDenied)
	}
	pkStr := key.PublicKey.String()
	if _, ok := signer.keys[pkStr]; !ok {
		return nil, fmt.Errorf("key %s not registered on %s: %w", pkStr, signerID, model.ErrAccessDenied)
	}
	signer.keys[pkStr]++

	if len(actions) > 1 || (len(actions) == 1 && actions[0].Enum != 2) {
		e.txCount["batch"]++
	}

	for _, action := range actions {
		switch action.Enum {
		case 0: // CreateAccount
			if _, exists := e.accounts[receiverID]; exists {
				return failure(fmt.Sprintf("account %s already exists", receiverID)), nil
			}
			e.accounts[receiverID] = &account{amount: big.NewInt(0), keys: make(map[string]uint64)}
		case 1: // DeployContract
			target, exists := e.accounts[receiverID]
			if !exists {
				return nil, fmt.Errorf("account %s does not exist: %w", receiverID, model.ErrNotFound)
			}
			target.code = action.DeployContract.Code
			if e.contractID == "" {
				e.contractID = receiverID
			}
		case 2: // FunctionCall
			result, err := e.functionCall(signerID, receiverID, action)
			if err != nil || result != nil {
				return result, err
			}
		case 3: // Transfer
			target, exists := e.accounts[receiverID]
			if !exists {
				return nil, fmt.Errorf("account %s does not exist: %w", receiverID, model.ErrNotFound)
			}
			target.amount.Add(target.amount, &action.Transfer.Deposit)
		case 5: // AddKey
			target, exists := e.accounts[receiverID]
			if !exists {
				return nil, fmt.Errorf("account %s does not exist: %w", receiverID, model.ErrNotFound)
			}
			pk := chain.PublicKey{Scheme: model.SchemeEd25519, Data: action.AddKey.PublicKey.Data[:]}
			target.keys[pk.String()] = 0
		default:
			return nil, fmt.Errorf("unsupported action %d", action.Enum)
		}
	}

	return success(""), nil
}

// functionCall dispatches one contract call. A nil result with nil error
// means the call succeeded with no payload and processing continues.
func (e *Emulator) functionCall(signerID, receiverID string, action chain.Action) (*chain.ExecutionResult, error) {
	acct, ok := e.accounts[receiverID]
	if !ok {
		return nil, fmt.Errorf("account %s does not exist: %w", receiverID, model.ErrNotFound)
	}
	if len(acct.code) == 0 {
		return failure(fmt.Sprintf("no contract code on %s", receiverID)), nil
	}

	method := action.FunctionCall.MethodName
	e.txCount[method]++
	args := action.FunctionCall.Args

	switch method {
	case "init":
		return e.handleInit(args)
	case "vote_add_domains":
		return e.handleVote(signerID, args)
	case "sign":
		return e.handleSign(signerID, action)
	default:
		return failure(fmt.Sprintf("method %s not found", method)), nil
	}
}

func (e *Emulator) handleInit(args []byte) (*chain.ExecutionResult, error) {
	if e.tag != model.StateUninitialized {
		return failure("contract already initialized"), nil
	}
	var req struct {
		Participants []struct {
			AccountID string `json:"account_id"`
			URL       string `json:"url"`
			SignPK    string `json:"sign_pk"`
		} `json:"participants"`
		Threshold int `json:"threshold"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("malformed init args"), nil
	}
	if req.Threshold <= 0 || req.Threshold > len(req.Participants) {
		return failure(fmt.Sprintf("invalid threshold %d for %d participants", req.Threshold, len(req.Participants))), nil
	}
	e.params = nil
	for i, p := range req.Participants {
		e.params = append(e.params, model.Participant{
			AccountID:     p.AccountID,
			Index:         i,
			SignPublicKey: p.SignPK,
			EndpointURL:   p.URL,
		})
	}
	e.threshold = req.Threshold
	e.tag = model.StateInitializing
	return success(""), nil
}

func (e *Emulator) handleVote(signerID string, args []byte) (*chain.ExecutionResult, error) {
	if e.tag == model.StateUninitialized {
		return failure("contract not initialized"), nil
	}
	if _, ok := e.params.ByAccountID(signerID); !ok {
		return failure(fmt.Sprintf("voter %s is not a participant", signerID)), nil
	}
	var req struct {
		Domains []model.Domain `json:"domains"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return failure("malformed vote args"), nil
	}
	for _, d := range req.Domains {
		if e.hasDomain(d.ID) {
			return failure(fmt.Sprintf("domain %d already exists; voting is closed", d.ID)), nil
		}
		voters, ok := e.votes[d.ID]
		if !ok {
			voters = make(map[string]bool)
			e.votes[d.ID] = voters
		}
		voters[signerID] = true
		if len(voters) >= e.threshold {
			e.domains = append(e.domains, d)
			e.quorumReached = true
			e.pendingPolls = e.PollsUntilRunning
			if e.pendingPolls == 0 {
				e.tag = model.StateRunning
			}
		}
	}
	return success(""), nil
}

func (e *Emulator) handleSign(signerID string, action chain.Action) (*chain.ExecutionResult, error) {
	if e.tag != model.StateRunning {
		return failure(fmt.Sprintf("signing unavailable: protocol state is %s", e.tag)), nil
	}
	if action.FunctionCall.Deposit.Sign() <= 0 {
		return failure("sign requires an attached deposit"), nil
	}

	var req struct {
		Request struct {
			Path     string  `json:"path"`
			Payload  string  `json:"payload"`
			DomainID *uint32 `json:"domain_id"`
		} `json:"request"`
	}
	if err := json.Unmarshal(action.FunctionCall.Args, &req); err != nil {
		return failure("malformed sign args"), nil
	}
	var domainID uint32
	if req.Request.DomainID != nil {
		domainID = *req.Request.DomainID
	}
	if !e.hasDomain(domainID) {
		return failure(fmt.Sprintf("unknown domain %d", domainID)), nil
	}

	digest, err := hex.DecodeString(req.Request.Payload)
	if err != nil || len(digest) != model.PayloadSize {
		return failure("payload must be a 32-byte hex digest"), nil
	}

	child := e.childKey(signerID, req.Request.Path, domainID)
	compact, err := btcecdsa.SignCompact(child, digest, false)
	if err != nil {
		return failure(fmt.Sprintf("signing failed: %v", err)), nil
	}
	recID := (compact[0] - 27) & 3
	bigR := append([]byte{0x02 + (recID & 1)}, compact[1:33]...)

	payload := e.signResponseJSON(hex.EncodeToString(bigR), hex.EncodeToString(compact[33:65]), recID)
	encoded := base64.StdEncoding.EncodeToString(payload)
	receiptID := "yield-resume-0"

	// the sign entry point yields: the top-level status points at the
	// receipt that eventually carries the signature
	return &chain.ExecutionResult{
		Status: chain.ExecutionStatus{SuccessReceiptID: &receiptID},
		ReceiptsOutcome: []chain.ReceiptOutcome{
			newReceipt("gas-refund-0", nil),
			newReceipt(receiptID, &encoded),
		},
	}, nil
}

func (e *Emulator) signResponseJSON(bigR, s string, recID byte) []byte {
	if e.LegacySignResponse {
		payload, _ := json.Marshal(map[string]interface{}{
			"big_r":       bigR,
			"s":           s,
			"recovery_id": recID,
		})
		return payload
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"scheme": "Secp256k1",
		"signature": map[string]interface{}{
			"big_r":       map[string]string{"affine_point": bigR},
			"s":           map[string]string{"scalar": s},
			"recovery_id": recID,
		},
	})
	return payload
}

func (e *Emulator) hasDomain(id uint32) bool {
	for _, d := range e.domains {
		if d.ID == id {
			return true
		}
	}
	return false
}

// stateJSON renders the contract state in its tagged-variant encoding.
func (e *Emulator) stateJSON() ([]byte, error) {
	if e.quorumReached && e.tag == model.StateInitializing {
		if e.pendingPolls > 0 {
			e.pendingPolls--
		}
		if e.pendingPolls == 0 {
			e.tag = model.StateRunning
		}
	}

	switch e.tag {
	case model.StateUninitialized:
		return json.Marshal("Uninitialized")
	case model.StateInitializing, model.StateRunning:
		participants := make([]map[string]string, 0, len(e.params))
		for _, p := range e.params {
			participants = append(participants, map[string]string{
				"account_id": p.AccountID,
				"url":        p.EndpointURL,
				"sign_pk":    p.SignPublicKey,
			})
		}
		payload := map[string]interface{}{
			"parameters": map[string]interface{}{"participants": participants},
			"threshold":  e.threshold,
			"domains":    e.domains,
		}
		return json.Marshal(map[string]interface{}{e.tag.String(): payload})
	default:
		return json.Marshal(map[string]interface{}{"Resharing": map[string]interface{}{}})
	}
}

// domainPublicKey returns the root public key of a domain in
// "secp256k1:<base58 x||y>" form.
func (e *Emulator) domainPublicKey(id uint32) (string, error) {
	if !e.hasDomain(id) {
		return "", fmt.Errorf("unknown domain %d: %w", id, model.ErrNotFound)
	}
	return encodePoint(e.rootKey.PubKey()), nil
}

// derivedPublicKey derives the child key for (predecessor, path, domain)
// deterministically from the contract root key.
func (e *Emulator) derivedPublicKey(predecessor, path string, domainID uint32) (string, error) {
	if predecessor == "" {
		return "", fmt.Errorf("predecessor is required: %w", model.ErrParse)
	}
	return encodePoint(e.childKey(predecessor, path, domainID).PubKey()), nil
}

func (e *Emulator) childKey(predecessor, path string, domainID uint32) *btcec.PrivateKey {
	tweakInput := fmt.Sprintf("chainsig v1 epsilon derivation:%d:%s:%s", domainID, predecessor, path)
	tweak := sha256.Sum256([]byte(tweakInput))

	n := btcec.S256().N
	child := new(big.Int).SetBytes(e.rootKey.Serialize())
	child.Add(child, new(big.Int).SetBytes(tweak[:]))
	child.Mod(child, n)

	buf := make([]byte, 32)
	child.FillBytes(buf)
	priv, _ := btcec.PrivKeyFromBytes(buf)
	return priv
}

// encodePoint renders an uncompressed point as the contract's 64-byte
// base58 key string.
func encodePoint(pub *btcec.PublicKey) string {
	raw := pub.SerializeUncompressed()
	return "secp256k1:" + base58.Encode(raw[1:])
}

func newReceipt(id string, successValue *string) chain.ReceiptOutcome {
	r := chain.ReceiptOutcome{ID: id}
	r.Outcome.Status.SuccessValue = successValue
	if successValue == nil {
		empty := ""
		r.Outcome.Status.SuccessValue = &empty
	}
	return r
}

func success(value string) *chain.ExecutionResult {
	encoded := base64.StdEncoding.EncodeToString([]byte(value))
	return &chain.ExecutionResult{
		Status: chain.ExecutionStatus{SuccessValue: &encoded},
	}
}

func failure(msg string) *chain.ExecutionResult {
	raw, _ := json.Marshal(map[string]interface{}{
		"ActionError": map[string]interface{}{
			"kind": map[string]interface{}{
				"FunctionCallError": map[string]string{
					"ExecutionError": "Smart contract panicked: " + msg,
				},
			},
		},
	})
	return &chain.ExecutionResult{
		Status: chain.ExecutionStatus{Failure: raw},
	}
}
