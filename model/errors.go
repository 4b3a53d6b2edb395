package model

import "errors"

// Error taxonomy shared across packages. Callers classify failures with
// errors.Is against these sentinels; wrapping sites attach the context
// (stack name, account id) needed to retry safely.
var (
	// ErrConfigNotFound indicates a missing required infrastructure stack
	// or key source. No sensible default exists for the caller.
	ErrConfigNotFound = errors.New("infrastructure configuration not found")

	// ErrNotFound indicates an absent secret, account, or contract.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates a permission failure on a secret or
	// signing operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrTimeout indicates the protocol never reached Running within the
	// configured window, or a health check exhausted its attempts.
	ErrTimeout = errors.New("timed out")

	// ErrProtocol indicates the contract rejected an init or vote for a
	// reason other than the idempotent already-voted case.
	ErrProtocol = errors.New("protocol rejection")

	// ErrParse indicates a signature or public-key response matched no
	// recognized shape.
	ErrParse = errors.New("unrecognized shape")

	// ErrWasmNotFound indicates the contract code bytes could not be
	// loaded.
	ErrWasmNotFound = errors.New("contract wasm not found")
)

// IsNotFound reports whether err is any of the absence conditions.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConfigNotFound) || errors.Is(err, ErrWasmNotFound)
}
