package chain

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/near/borsh-go"

	"github.com/mpcnet/chainsig/model"
)

// Gas and balance constants for submitted transactions.
const (
	// TGas is 10^12 gas units.
	TGas = uint64(1_000_000_000_000)

	// MaxGas is the per-transaction compute budget attached to contract
	// calls (300 Tgas, the chain's maximum).
	MaxGas = 300 * TGas
)

// OneYocto is the minimum attached value required by contract entry points
// that demand a deposit.
var OneYocto = big.NewInt(1)

// Yocto parses a yocto-denominated decimal balance string.
func Yocto(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q: %w", s, model.ErrParse)
	}
	return v, nil
}

// MustYocto is Yocto for compile-time constants.
func MustYocto(s string) *big.Int {
	v, err := Yocto(s)
	if err != nil {
		panic(err)
	}
	return v
}

// wirePublicKey is the borsh encoding of an ed25519 account key.
type wirePublicKey struct {
	KeyType uint8
	Data    [32]byte
}

func toWirePublicKey(pk PublicKey) (wirePublicKey, error) {
	if pk.Scheme != model.SchemeEd25519 || len(pk.Data) != 32 {
		return wirePublicKey{}, fmt.Errorf("cannot encode %s key with %d bytes as account key: %w", pk.Scheme, len(pk.Data), model.ErrParse)
	}
	var out wirePublicKey
	copy(out.Data[:], pk.Data)
	return out, nil
}

// accessKey grants an account key its permission. Only full-access keys are
// issued by the provisioner.
type accessKey struct {
	Nonce      uint64
	Permission accessKeyPermission
}

type accessKeyPermission struct {
	Enum         borsh.Enum `borsh_enum:"true"`
	FunctionCall functionCallPermission
	FullAccess   struct{}
}

type functionCallPermission struct {
	Allowance   *big.Int
	ReceiverID  string
	MethodNames []string
}

func fullAccess() accessKeyPermission {
	return accessKeyPermission{Enum: 1}
}

// Action is one transaction action in the chain's wire order.
type Action struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  struct{}
	DeployContract deployContract
	FunctionCall   functionCall
	Transfer       transfer
	Stake          stake
	AddKey         addKey
	DeleteKey      deleteKey
	DeleteAccount  deleteAccount
}

type deployContract struct {
	Code []byte
}

type functionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    big.Int
}

type transfer struct {
	Deposit big.Int
}

type stake struct {
	Stake     big.Int
	PublicKey wirePublicKey
}

type addKey struct {
	PublicKey wirePublicKey
	AccessKey accessKey
}

type deleteKey struct {
	PublicKey wirePublicKey
}

type deleteAccount struct {
	BeneficiaryID string
}

// CreateAccountAction creates the receiver account.
func CreateAccountAction() Action {
	return Action{Enum: 0}
}

// DeployContractAction deploys the given code on the receiver account.
func DeployContractAction(code []byte) Action {
	return Action{Enum: 1, DeployContract: deployContract{Code: code}}
}

// FunctionCallAction invokes a contract method with the given JSON args,
// gas budget, and attached deposit.
func FunctionCallAction(method string, args []byte, gas uint64, deposit *big.Int) Action {
	if deposit == nil {
		deposit = big.NewInt(0)
	}
	return Action{Enum: 2, FunctionCall: functionCall{
		MethodName: method,
		Args:       args,
		Gas:        gas,
		Deposit:    *deposit,
	}}
}

// TransferAction moves the given yocto amount to the receiver.
func TransferAction(amount *big.Int) Action {
	return Action{Enum: 3, Transfer: transfer{Deposit: *amount}}
}

// AddKeyAction grants the given key full access on the receiver account.
func AddKeyAction(pk PublicKey) (Action, error) {
	wire, err := toWirePublicKey(pk)
	if err != nil {
		return Action{}, err
	}
	return Action{Enum: 5, AddKey: addKey{
		PublicKey: wire,
		AccessKey: accessKey{Permission: fullAccess()},
	}}, nil
}

// Describe names the action for logging.
func (a Action) Describe() string {
	switch a.Enum {
	case 0:
		return "CreateAccount"
	case 1:
		return fmt.Sprintf("DeployContract(%d bytes)", len(a.DeployContract.Code))
	case 2:
		return fmt.Sprintf("FunctionCall(%s)", a.FunctionCall.MethodName)
	case 3:
		return "Transfer"
	case 5:
		return "AddKey"
	default:
		return fmt.Sprintf("Action(%d)", a.Enum)
	}
}

// transaction is the chain's borsh transaction layout.
type transaction struct {
	SignerID   string
	PublicKey  wirePublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

type wireSignature struct {
	KeyType uint8
	Data    [64]byte
}

type signedTransaction struct {
	Transaction transaction
	Signature   wireSignature
}

// signTransaction borsh-encodes the transaction, signs its sha256 digest,
// and returns the serialized signed transaction.
func signTransaction(tx transaction, key KeyPair) ([]byte, error) {
	msg, err := borsh.Serialize(tx)
	if err != nil {
		return nil, fmt.Errorf("serializing transaction: %w", err)
	}
	digest := sha256.Sum256(msg)

	var sig wireSignature
	copy(sig.Data[:], key.Sign(digest[:]))

	signed, err := borsh.Serialize(signedTransaction{Transaction: tx, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("serializing signed transaction: %w", err)
	}
	return signed, nil
}
