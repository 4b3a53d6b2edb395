package signer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
)

// signResponse is the tagged union of the signature response shapes the
// contract has produced historically. Decoding happens once, here at the
// system boundary.
type signResponse struct {
	// current shape: nested success wrapper
	Scheme    string `json:"scheme"`
	Signature *struct {
		BigR struct {
			AffinePoint string `json:"affine_point"`
		} `json:"big_r"`
		S struct {
			Scalar string `json:"scalar"`
		} `json:"s"`
		RecoveryID byte `json:"recovery_id"`
	} `json:"signature"`

	// legacy shape: flat fields
	BigR       string `json:"big_r"`
	S          string `json:"s"`
	RecoveryID byte   `json:"recovery_id"`
}

// decodeSignResponse decodes one candidate payload against both shapes.
func decodeSignResponse(payload []byte) (model.SignatureResponse, error) {
	var decoded signResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return model.SignatureResponse{}, fmt.Errorf("signature payload is not JSON: %w", model.ErrParse)
	}

	if decoded.Signature != nil {
		response := model.SignatureResponse{
			BigR:       decoded.Signature.BigR.AffinePoint,
			S:          decoded.Signature.S.Scalar,
			RecoveryID: decoded.Signature.RecoveryID,
		}
		if response.Complete() {
			return response, nil
		}
	}

	response := model.SignatureResponse{
		BigR:       decoded.BigR,
		S:          decoded.S,
		RecoveryID: decoded.RecoveryID,
	}
	if response.Complete() {
		return response, nil
	}
	return model.SignatureResponse{}, fmt.Errorf("signature payload matched no recognized shape: %w", model.ErrParse)
}

// extractSignature scans all execution receipts of a sign transaction for a
// successful base64-encoded signature payload. The yield/resume entry point
// surfaces its result in a nested receipt, not the top-level status.
func extractSignature(result *chain.ExecutionResult) (model.SignatureResponse, error) {
	candidates := make([]chain.ExecutionStatus, 0, len(result.ReceiptsOutcome)+1)
	candidates = append(candidates, result.Status)
	for _, receipt := range result.ReceiptsOutcome {
		candidates = append(candidates, receipt.Status())
	}

	for _, status := range candidates {
		if status.SuccessValue == nil || *status.SuccessValue == "" {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(*status.SuccessValue)
		if err != nil {
			continue
		}
		response, err := decodeSignResponse(payload)
		if err != nil {
			continue
		}
		return response, nil
	}
	return model.SignatureResponse{}, fmt.Errorf("no receipt carried a signature: %w", model.ErrParse)
}
