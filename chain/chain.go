// Package chain provides read and write access to a NEAR-style chain node:
// account and code views, generic contract view calls, and signed function
// calls submitted over JSON-RPC.
package chain

import (
	"context"
	"encoding/json"
)

// API is the chain surface the orchestration layers depend on. *Client
// implements it against a real node; the emulator package implements it
// in-memory for tests.
type API interface {
	// ViewAccount returns the account's current view, or an error wrapping
	// model.ErrNotFound if the account does not exist.
	ViewAccount(ctx context.Context, accountID string) (*AccountView, error)

	// ViewCode returns the contract code deployed on the account. A nil
	// slice with no error means the account exists but has no code.
	ViewCode(ctx context.Context, accountID string) ([]byte, error)

	// CallView invokes a read-only contract method. args is JSON-marshaled
	// and the raw result bytes are returned.
	CallView(ctx context.Context, contractID, method string, args interface{}) ([]byte, error)

	// SignAndSend signs a transaction with the given key and submits it,
	// blocking until the chain reports a final execution outcome. The
	// outcome may still carry a Failure status; callers inspect it.
	SignAndSend(ctx context.Context, signerID string, key KeyPair, receiverID string, actions []Action) (*ExecutionResult, error)
}

// AccountView is the subset of the account query result the orchestration
// layers read.
type AccountView struct {
	AccountID string `json:"-"`
	Amount    string `json:"amount"`
	CodeHash  string `json:"code_hash"`
}

// ExecutionStatus is one execution outcome status: exactly one of
// SuccessValue (base64), SuccessReceiptID, or Failure is set.
type ExecutionStatus struct {
	SuccessValue     *string         `json:"SuccessValue,omitempty"`
	SuccessReceiptID *string         `json:"SuccessReceiptId,omitempty"`
	Failure          json.RawMessage `json:"Failure,omitempty"`
}

// Failed reports whether the outcome carries a failure.
func (s ExecutionStatus) Failed() bool {
	return len(s.Failure) > 0
}

// FailureMessage extracts the contract's panic or execution error message
// from the nested failure payload, best effort. Returns the raw payload when
// no message field is recognized.
func (s ExecutionStatus) FailureMessage() string {
	if !s.Failed() {
		return ""
	}
	if msg := findStringField(s.Failure, "ExecutionError"); msg != "" {
		return msg
	}
	if msg := findStringField(s.Failure, "error_message"); msg != "" {
		return msg
	}
	return string(s.Failure)
}

// findStringField walks an arbitrary JSON document for the first string
// value under the given key.
func findStringField(raw json.RawMessage, key string) string {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		if v, ok := asMap[key]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				return s
			}
		}
		for _, v := range asMap {
			if s := findStringField(v, key); s != "" {
				return s
			}
		}
		return ""
	}
	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil {
		for _, v := range asList {
			if s := findStringField(v, key); s != "" {
				return s
			}
		}
	}
	return ""
}

// ReceiptOutcome is the execution outcome of one receipt spawned by a
// transaction.
type ReceiptOutcome struct {
	ID      string          `json:"id"`
	Outcome outcomeEnvelope `json:"outcome"`
}

type outcomeEnvelope struct {
	Logs   []string        `json:"logs"`
	Status ExecutionStatus `json:"status"`
}

// Status returns the receipt's execution status.
func (r ReceiptOutcome) Status() ExecutionStatus {
	return r.Outcome.Status
}

// ExecutionResult is the final outcome of a submitted transaction, including
// all nested receipt outcomes. Long-running yield/resume calls surface their
// result in one of the receipts rather than the top-level status.
type ExecutionResult struct {
	TransactionHash string           `json:"-"`
	Status          ExecutionStatus  `json:"status"`
	ReceiptsOutcome []ReceiptOutcome `json:"receipts_outcome"`
}
