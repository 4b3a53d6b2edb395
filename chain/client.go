package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/mpcnet/chainsig/model"
)

const (
	// defaultCallTimeout bounds ordinary queries. Transaction submission
	// uses submitTimeout instead: the sign() entry point yields until the
	// signing quorum responds, so the commit call can legitimately take
	// minutes.
	defaultCallTimeout = 30 * time.Second
	submitTimeout      = 5 * time.Minute
)

// Client talks to one chain node over JSON-RPC 2.0.
type Client struct {
	rpcURL string
	http   *http.Client
	log    zerolog.Logger
}

var _ API = (*Client)(nil)

// NewClient returns a client bound to the given node RPC endpoint.
func NewClient(log zerolog.Logger, rpcURL string) *Client {
	return &Client{
		rpcURL: rpcURL,
		http:   &http.Client{Timeout: submitTimeout},
		log:    log.With().Str("component", "chain_client").Str("rpc", rpcURL).Logger(),
	}
}

// RPCURL returns the endpoint the client is bound to.
func (c *Client) RPCURL() string {
	return c.rpcURL
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is the node's structured error envelope.
type RPCError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Cause   struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info"`
	} `json:"cause"`
	Data json.RawMessage `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Cause.Name != "" {
		return fmt.Sprintf("rpc error %s (%s): %s", e.Name, e.Cause.Name, e.Message)
	}
	return fmt.Sprintf("rpc error %s: %s", e.Name, e.Message)
}

// IsUnknownAccount classifies the node's "account does not exist" condition.
// All other errors are treated as fatal by existence checks, not retried.
func IsUnknownAccount(err error) bool {
	if model.IsNotFound(err) {
		return true
	}
	var rpcErr *RPCError
	if !asRPCError(err, &rpcErr) {
		return false
	}
	if rpcErr.Cause.Name == "UNKNOWN_ACCOUNT" {
		return true
	}
	msg := strings.ToLower(rpcErr.Message + string(rpcErr.Data))
	return strings.Contains(msg, "does not exist")
}

func asRPCError(err error, target **RPCError) bool {
	for err != nil {
		if e, ok := err.(*RPCError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// call performs one JSON-RPC round trip.
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "chainsig",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s to %s: %w", method, c.rpcURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// queryParams is the node's generic query request.
type queryParams struct {
	RequestType string  `json:"request_type"`
	Finality    string  `json:"finality,omitempty"`
	AccountID   string  `json:"account_id"`
	MethodName  string  `json:"method_name,omitempty"`
	ArgsBase64  *string `json:"args_base64,omitempty"`
	PublicKey   string  `json:"public_key,omitempty"`
}

// resultBytes accepts both encodings nodes have used for view results: a
// base64 string and a plain JSON array of byte values.
type resultBytes []byte

func (b *resultBytes) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var decoded []byte
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		*b = decoded
		return nil
	}
	var values []uint16
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	decoded := make([]byte, len(values))
	for i, v := range values {
		if v > 0xff {
			return fmt.Errorf("byte value %d out of range: %w", v, model.ErrParse)
		}
		decoded[i] = byte(v)
	}
	*b = decoded
	return nil
}

// queryResult is the common shell of query responses; per-request fields are
// merged in at the same level.
type queryResult struct {
	BlockHash string `json:"block_hash"`
	// error reported inside an otherwise successful response, used by
	// older nodes for missing accounts
	Error string `json:"error"`

	Amount     string      `json:"amount"`
	CodeHash   string      `json:"code_hash"`
	CodeBase64 string      `json:"code_base64"`
	Result     resultBytes `json:"result"`
	Logs       []string    `json:"logs"`
	Nonce      uint64      `json:"nonce"`
}

func (c *Client) query(ctx context.Context, params queryParams) (*queryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	var result queryResult
	if err := c.call(ctx, "query", params, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		if strings.Contains(strings.ToLower(result.Error), "does not exist") {
			return nil, fmt.Errorf("account %s: %s: %w", params.AccountID, result.Error, model.ErrNotFound)
		}
		return nil, fmt.Errorf("query %s on %s: %s", params.RequestType, params.AccountID, result.Error)
	}
	return &result, nil
}

// ViewAccount implements API.
func (c *Client) ViewAccount(ctx context.Context, accountID string) (*AccountView, error) {
	result, err := c.query(ctx, queryParams{
		RequestType: "view_account",
		Finality:    "final",
		AccountID:   accountID,
	})
	if err != nil {
		if IsUnknownAccount(err) {
			return nil, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
		}
		return nil, err
	}
	return &AccountView{
		AccountID: accountID,
		Amount:    result.Amount,
		CodeHash:  result.CodeHash,
	}, nil
}

// ViewCode implements API.
func (c *Client) ViewCode(ctx context.Context, accountID string) ([]byte, error) {
	result, err := c.query(ctx, queryParams{
		RequestType: "view_code",
		Finality:    "final",
		AccountID:   accountID,
	})
	if err != nil {
		if IsUnknownAccount(err) {
			return nil, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
		}
		return nil, err
	}
	if result.CodeBase64 == "" {
		return nil, nil
	}
	code, err := base64.StdEncoding.DecodeString(result.CodeBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding code of %s: %w", accountID, err)
	}
	return code, nil
}

// CallView implements API.
func (c *Client) CallView(ctx context.Context, contractID, method string, args interface{}) ([]byte, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s args: %w", method, err)
	}
	encoded := base64.StdEncoding.EncodeToString(argBytes)

	result, err := c.query(ctx, queryParams{
		RequestType: "call_function",
		Finality:    "final",
		AccountID:   contractID,
		MethodName:  method,
		ArgsBase64:  &encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("view %s on %s: %w", method, contractID, err)
	}
	return []byte(result.Result), nil
}

// accessKeyView fetches the signer key's nonce and a recent block hash in a
// single query; the returned block hash anchors the transaction.
func (c *Client) accessKeyView(ctx context.Context, accountID string, pk PublicKey) (nonce uint64, blockHash [32]byte, err error) {
	result, err := c.query(ctx, queryParams{
		RequestType: "view_access_key",
		Finality:    "final",
		AccountID:   accountID,
		PublicKey:   pk.String(),
	})
	if err != nil {
		return 0, blockHash, fmt.Errorf("access key %s of %s: %w", pk, accountID, err)
	}
	decoded, err := base58.Decode(result.BlockHash)
	if err != nil || len(decoded) != 32 {
		return 0, blockHash, fmt.Errorf("malformed block hash %q: %w", result.BlockHash, model.ErrParse)
	}
	copy(blockHash[:], decoded)
	return result.Nonce, blockHash, nil
}

// SignAndSend implements API. It blocks until the node reports the final
// execution outcome of the transaction.
func (c *Client) SignAndSend(ctx context.Context, signerID string, key KeyPair, receiverID string, actions []Action) (*ExecutionResult, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("no signing key available for %s: %w", signerID, model.ErrAccessDenied)
	}

	nonce, blockHash, err := c.accessKeyView(ctx, signerID, key.PublicKey)
	if err != nil {
		return nil, err
	}

	wirePK, err := toWirePublicKey(key.PublicKey)
	if err != nil {
		return nil, err
	}
	signed, err := signTransaction(transaction{
		SignerID:   signerID,
		PublicKey:  wirePK,
		Nonce:      nonce + 1,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    actions,
	}, key)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.Describe())
	}
	c.log.Debug().
		Str("signer", signerID).
		Str("receiver", receiverID).
		Strs("actions", names).
		Msg("submitting transaction")

	var result ExecutionResult
	err = c.call(ctx, "broadcast_tx_commit",
		[]string{base64.StdEncoding.EncodeToString(signed)}, &result)
	if err != nil {
		return nil, fmt.Errorf("submitting transaction %s -> %s: %w", signerID, receiverID, err)
	}
	return &result, nil
}
