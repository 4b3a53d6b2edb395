package model

import (
	"encoding/json"
	"fmt"
)

// ProtocolStateTag identifies the signer contract's lifecycle state.
type ProtocolStateTag int

const (
	StateUninitialized ProtocolStateTag = iota
	StateInitializing
	StateRunning
	StateResharing
)

func (t ProtocolStateTag) String() string {
	switch t {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateRunning:
		return "Running"
	case StateResharing:
		return "Resharing"
	default:
		return fmt.Sprintf("ProtocolStateTag(%d)", int(t))
	}
}

// ProtocolState is the signer contract's state as read from the chain. It is
// never held as authoritative local state: orchestration always re-reads it
// before any mutating action, which is what makes every setup step safe to
// interrupt and re-run.
type ProtocolState struct {
	Tag ProtocolStateTag

	// Participants and Threshold are set for Initializing and Running.
	// Threshold is fixed once the contract leaves Uninitialized and never
	// exceeds the participant count.
	Participants ParticipantList
	Threshold    int

	// DomainsInProgress holds domains still being voted on or keyed
	// (Initializing); Domains holds the active domain set (Running).
	DomainsInProgress []Domain
	Domains           []Domain
}

// Running reports whether the contract has reached its terminal happy-path
// state. No sign() call can succeed unless this is true.
func (s *ProtocolState) Running() bool {
	return s.Tag == StateRunning
}

// HasDomain reports whether the given domain id is active.
func (s *ProtocolState) HasDomain(id uint32) bool {
	for _, d := range s.Domains {
		if d.ID == id {
			return true
		}
	}
	return false
}

// stateEnvelope mirrors the contract's serde enum encoding: either the bare
// string "Uninitialized" or a single-key object tagging the variant payload.
type statePayload struct {
	Participants struct {
		Participants []struct {
			AccountID string `json:"account_id"`
			URL       string `json:"url,omitempty"`
			SignPK    string `json:"sign_pk,omitempty"`
		} `json:"participants"`
	} `json:"parameters,omitempty"`
	FlatParticipants []struct {
		AccountID string `json:"account_id"`
		URL       string `json:"url,omitempty"`
		SignPK    string `json:"sign_pk,omitempty"`
	} `json:"participants,omitempty"`
	Threshold int      `json:"threshold"`
	Domains   []Domain `json:"domains,omitempty"`
}

// UnmarshalJSON decodes the tagged protocol-state variant returned by the
// contract's state() view. Both the bare-string form ("Uninitialized") and
// the object form ({"Running": {...}}) are accepted.
func (s *ProtocolState) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		tag, err := parseStateTag(bare)
		if err != nil {
			return err
		}
		*s = ProtocolState{Tag: tag}
		return nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("protocol state matched no recognized shape: %w", ErrParse)
	}
	if len(envelope) != 1 {
		return fmt.Errorf("protocol state has %d variant tags, want 1: %w", len(envelope), ErrParse)
	}

	for name, raw := range envelope {
		tag, err := parseStateTag(name)
		if err != nil {
			return err
		}

		var payload statePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decoding %s payload: %w", name, err)
		}

		decoded := ProtocolState{
			Tag:       tag,
			Threshold: payload.Threshold,
		}
		entries := payload.Participants.Participants
		if len(entries) == 0 {
			entries = payload.FlatParticipants
		}
		for i, e := range entries {
			decoded.Participants = append(decoded.Participants, Participant{
				AccountID:     e.AccountID,
				Index:         i,
				SignPublicKey: e.SignPK,
				EndpointURL:   e.URL,
			})
		}
		switch tag {
		case StateInitializing:
			decoded.DomainsInProgress = payload.Domains
		case StateRunning:
			decoded.Domains = payload.Domains
		}
		*s = decoded
	}
	return nil
}

func parseStateTag(name string) (ProtocolStateTag, error) {
	switch name {
	case "Uninitialized", "NotInitialized":
		return StateUninitialized, nil
	case "Initializing":
		return StateInitializing, nil
	case "Running":
		return StateRunning, nil
	case "Resharing":
		return StateResharing, nil
	default:
		return 0, fmt.Errorf("unknown protocol state tag %q: %w", name, ErrParse)
	}
}
