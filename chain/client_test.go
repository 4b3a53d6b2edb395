package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcnet/chainsig/model"
)

// rpcHandler fakes the node's JSON-RPC responses per request type.
func rpcHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		write := func(result interface{}) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": "chainsig", "result": result,
			})
		}

		switch req.Method {
		case "query":
			var params struct {
				RequestType string `json:"request_type"`
				AccountID   string `json:"account_id"`
				MethodName  string `json:"method_name"`
			}
			require.NoError(t, json.Unmarshal(req.Params, &params))

			if params.AccountID == "missing.node0" {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"jsonrpc": "2.0", "id": "chainsig",
					"error": map[string]interface{}{
						"name":    "HANDLER_ERROR",
						"message": "account missing.node0 does not exist while viewing",
						"cause":   map[string]string{"name": "UNKNOWN_ACCOUNT"},
					},
				})
				return
			}

			switch params.RequestType {
			case "view_account":
				write(map[string]string{"amount": "100", "code_hash": "11111111111111111111111111111111"})
			case "view_code":
				write(map[string]string{"code_base64": base64.StdEncoding.EncodeToString([]byte{0x00, 0x61, 0x73, 0x6d})})
			case "call_function":
				write(map[string]interface{}{"result": []byte(`"secp256k1:abc"`)})
			case "view_access_key":
				write(map[string]interface{}{
					"nonce":      7,
					"block_hash": base58.Encode(make([]byte, 32)),
				})
			default:
				t.Fatalf("unexpected request type %s", params.RequestType)
			}
		case "broadcast_tx_commit":
			encoded := base64.StdEncoding.EncodeToString([]byte("ok"))
			write(map[string]interface{}{
				"status":           map[string]string{"SuccessValue": encoded},
				"receipts_outcome": []interface{}{},
			})
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}
	}
}

func TestClientViewAccount(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t))
	defer server.Close()
	client := NewClient(zerolog.Nop(), server.URL)

	account, err := client.ViewAccount(context.Background(), "node0")
	require.NoError(t, err)
	assert.Equal(t, "100", account.Amount)

	_, err = client.ViewAccount(context.Background(), "missing.node0")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.True(t, IsUnknownAccount(err))
}

func TestClientViewCode(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t))
	defer server.Close()
	client := NewClient(zerolog.Nop(), server.URL)

	code, err := client.ViewCode(context.Background(), "v1.signer.node0")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, code)
}

func TestClientCallView(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t))
	defer server.Close()
	client := NewClient(zerolog.Nop(), server.URL)

	raw, err := client.CallView(context.Background(), "v1.signer.node0", "public_key", map[string]uint32{"domain_id": 0})
	require.NoError(t, err)

	var pk string
	require.NoError(t, json.Unmarshal(raw, &pk))
	assert.Equal(t, "secp256k1:abc", pk)
}

func TestClientSignAndSend(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t))
	defer server.Close()
	client := NewClient(zerolog.Nop(), server.URL)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	result, err := client.SignAndSend(context.Background(), "node0", kp, "deployer.node0", []Action{
		CreateAccountAction(),
		TransferAction(MustYocto("10000000000000000000000000")),
	})
	require.NoError(t, err)
	assert.False(t, result.Status.Failed())
}

func TestSignAndSendRejectsMissingKey(t *testing.T) {
	client := NewClient(zerolog.Nop(), "http://127.0.0.1:0")

	_, err := client.SignAndSend(context.Background(), "node0", KeyPair{}, "deployer.node0", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAccessDenied)
}

// nodes have returned view results both as base64 strings and as raw byte
// arrays
func TestResultBytesDecode(t *testing.T) {
	var fromArray resultBytes
	require.NoError(t, json.Unmarshal([]byte(`[34, 97, 34]`), &fromArray))
	assert.Equal(t, []byte(`"a"`), []byte(fromArray))

	var fromString resultBytes
	require.NoError(t, json.Unmarshal([]byte(`"ImEi"`), &fromString))
	assert.Equal(t, []byte(`"a"`), []byte(fromString))

	var invalid resultBytes
	assert.Error(t, json.Unmarshal([]byte(`[300]`), &invalid))
}

func TestExecutionStatusFailureMessage(t *testing.T) {
	var status ExecutionStatus
	require.NoError(t, json.Unmarshal([]byte(`{
		"Failure": {
			"ActionError": {
				"kind": {"FunctionCallError": {"ExecutionError": "Smart contract panicked: boom"}}
			}
		}
	}`), &status))

	assert.True(t, status.Failed())
	assert.Equal(t, "Smart contract panicked: boom", status.FailureMessage())
}
