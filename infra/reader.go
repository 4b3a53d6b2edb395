// Package infra resolves the deployed topology (chain endpoint, signer
// contract id, participant set) from exported stack-output documents. The
// core only reads the infrastructure description; provisioning it is out of
// scope.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mpcnet/chainsig/model"
	"github.com/mpcnet/chainsig/secrets"
)

// Defaults used when the chain-node stack is absent. A reasonable local
// default exists for the chain endpoint, so its absence is tolerated; no
// such default exists for the participant stack.
const (
	DefaultRPCURL     = "http://127.0.0.1:3030"
	DefaultNetworkID  = "localnet"
	DefaultContractID = "v1.signer.node0"
)

// participantKeySecret names the secret store entry caching a participant's
// signing public key. Dots are not valid in secret names.
func participantKeySecret(accountID string) string {
	return "mpc-sign-key-" + strings.ReplaceAll(accountID, ".", "-")
}

// Reader resolves named outputs from exported stack documents, one JSON
// object per stack under Dir.
type Reader struct {
	dir       string
	custodian secrets.Custodian
	log       zerolog.Logger
}

// NewReader returns a reader over the given stack-output directory. The
// custodian is used for best-effort participant key enrichment and may be
// nil to skip it.
func NewReader(log zerolog.Logger, dir string, custodian secrets.Custodian) *Reader {
	return &Reader{
		dir:       dir,
		custodian: custodian,
		log:       log.With().Str("component", "infra_reader").Logger(),
	}
}

// stackOutputs is one stack's named outputs.
type stackOutputs map[string]json.RawMessage

// loadStack reads `<dir>/<name>.json`. Absence is reported distinctly so
// callers can apply per-stack fallback policy.
func (r *Reader) loadStack(name string) (stackOutputs, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stack %s: %w", name, model.ErrConfigNotFound)
		}
		return nil, fmt.Errorf("reading stack %s: %w", name, err)
	}
	var outputs stackOutputs
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("decoding stack %s outputs: %w", name, err)
	}
	return outputs, nil
}

// resolveKey finds an output by exact key match first, then by unique
// case-insensitive substring match. Substring matching tolerates
// naming-scheme drift across deployments ("rpc_url" vs "near_rpc_url").
func resolveKey(outputs stackOutputs, key string) (json.RawMessage, string, bool) {
	if raw, ok := outputs[key]; ok {
		return raw, key, true
	}
	var matches []string
	lowered := strings.ToLower(key)
	for candidate := range outputs {
		if strings.Contains(strings.ToLower(candidate), lowered) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 0 {
		return nil, "", false
	}
	sort.Strings(matches)
	return outputs[matches[0]], matches[0], true
}

func resolveString(outputs stackOutputs, key string) (string, bool) {
	raw, _, ok := resolveKey(outputs, key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// participantEntry is the object form of a participant output.
type participantEntry struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
	Address   string `json:"address"`
}

// Resolve reads the chain-node and compute-participant stacks and returns
// the deployed topology. The participant stack is required; the chain stack
// falls back to local defaults when absent.
func (r *Reader) Resolve(ctx context.Context, chainStack, participantStack string) (*model.NetworkConfig, error) {
	config := &model.NetworkConfig{
		RPCURL:     DefaultRPCURL,
		NetworkID:  DefaultNetworkID,
		ContractID: DefaultContractID,
	}

	chainOutputs, err := r.loadStack(chainStack)
	switch {
	case err == nil:
		if url, ok := resolveString(chainOutputs, "rpc_url"); ok {
			config.RPCURL = url
		}
		if id, ok := resolveString(chainOutputs, "network_id"); ok {
			config.NetworkID = id
		}
		if id, ok := resolveString(chainOutputs, "contract_account"); ok {
			config.ContractID = id
		}
	case model.IsNotFound(err):
		r.log.Warn().
			Str("stack", chainStack).
			Str("rpc_url", config.RPCURL).
			Msg("chain-node stack not found, using local defaults")
	default:
		return nil, err
	}

	participantOutputs, err := r.loadStack(participantStack)
	if err != nil {
		// no sensible default exists for the participant set
		return nil, err
	}

	participants, err := r.resolveParticipants(participantOutputs, participantStack)
	if err != nil {
		return nil, err
	}
	if id, ok := resolveString(participantOutputs, "contract_account"); ok {
		config.ContractID = id
	}

	if r.custodian != nil {
		if err := r.enrichSigningKeys(ctx, participants); err != nil {
			return nil, err
		}
	}

	participants.Sort()
	config.Participants = participants
	return config, nil
}

// resolveParticipants accepts both output shapes: a single list of
// participant objects, or parallel account-id / url / address arrays.
func (r *Reader) resolveParticipants(outputs stackOutputs, stackName string) (model.ParticipantList, error) {
	if raw, key, ok := resolveKey(outputs, "participants"); ok {
		var entries []participantEntry
		if err := json.Unmarshal(raw, &entries); err == nil && len(entries) > 0 {
			list := make(model.ParticipantList, 0, len(entries))
			for i, e := range entries {
				list = append(list, model.Participant{
					AccountID:      e.AccountID,
					Index:          i,
					EndpointURL:    e.URL,
					NetworkAddress: e.Address,
				})
			}
			r.log.Debug().Str("output", key).Int("count", len(list)).Msg("resolved participant list")
			return list, nil
		}
	}

	var accountIDs []string
	raw, key, ok := resolveKey(outputs, "account_ids")
	if !ok {
		return nil, fmt.Errorf("stack %s has no participant outputs: %w", stackName, model.ErrConfigNotFound)
	}
	if err := json.Unmarshal(raw, &accountIDs); err != nil {
		return nil, fmt.Errorf("decoding %s.%s: %w", stackName, key, err)
	}

	urls := resolveStringList(outputs, "urls")
	addresses := resolveStringList(outputs, "addresses")

	list := make(model.ParticipantList, 0, len(accountIDs))
	for i, id := range accountIDs {
		p := model.Participant{AccountID: id, Index: i}
		if i < len(urls) {
			p.EndpointURL = urls[i]
		}
		if i < len(addresses) {
			p.NetworkAddress = addresses[i]
		}
		list = append(list, p)
	}
	return list, nil
}

func resolveStringList(outputs stackOutputs, key string) []string {
	raw, _, ok := resolveKey(outputs, key)
	if !ok {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

// enrichSigningKeys fills in cached signing public keys from the secret
// store, best effort: a participant whose secret is absent is skipped
// silently, any other retrieval error propagates.
func (r *Reader) enrichSigningKeys(ctx context.Context, participants model.ParticipantList) error {
	for i := range participants {
		p := &participants[i]
		blob, err := r.custodian.GetSecret(ctx, participantKeySecret(p.AccountID))
		if err != nil {
			if model.IsNotFound(err) {
				r.log.Debug().Str("participant", p.AccountID).Msg("no cached signing key secret")
				continue
			}
			return fmt.Errorf("fetching signing key for %s: %w", p.AccountID, err)
		}

		var cached struct {
			SignPublicKey string `json:"sign_public_key"`
			PublicKey     string `json:"public_key"`
		}
		if err := json.Unmarshal(blob, &cached); err != nil {
			return fmt.Errorf("decoding signing key secret for %s: %w", p.AccountID, err)
		}
		if cached.SignPublicKey != "" {
			p.SignPublicKey = cached.SignPublicKey
		} else if cached.PublicKey != "" {
			p.SignPublicKey = cached.PublicKey
		}
	}
	return nil
}
