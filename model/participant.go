package model

import (
	"fmt"
	"regexp"
	"sort"
)

// accountIDRegex matches valid hierarchical account ids: dot-separated
// lowercase labels, as enforced by the chain's account naming rules.
var accountIDRegex = regexp.MustCompile(`^([a-z\d]+[-_])*[a-z\d]+(\.([a-z\d]+[-_])*[a-z\d]+)*$`)

// Participant is one node in the threshold-signing quorum. It is created
// during provisioning and is immutable afterwards, except for EndpointURL and
// NetworkAddress which may be refreshed from the infrastructure description.
type Participant struct {
	// AccountID is the participant's chain account (e.g. "mpc-node-0.node0").
	AccountID string `json:"account_id"`
	// Index is the participant's position in the signing set.
	Index int `json:"index"`
	// SignPublicKey is the participant's signing public key in
	// "<scheme>:<base58>" form. May be empty until enriched from the secret
	// store or refreshed from the participant's discovery endpoint.
	SignPublicKey string `json:"sign_pk,omitempty"`
	// EndpointURL is the participant's externally reachable HTTP endpoint.
	EndpointURL string `json:"url,omitempty"`
	// NetworkAddress is the participant's resolved network address.
	NetworkAddress string `json:"address,omitempty"`
}

// Validate checks structural well-formedness of the participant entry.
func (p Participant) Validate() error {
	if !IsValidAccountID(p.AccountID) {
		return fmt.Errorf("invalid participant account id %q: %w", p.AccountID, ErrParse)
	}
	if p.Index < 0 {
		return fmt.Errorf("invalid participant index %d for %s: %w", p.Index, p.AccountID, ErrParse)
	}
	return nil
}

// ParticipantList is a set of participants ordered by index.
type ParticipantList []Participant

// Sort orders the list by participant index, ties broken by account id.
func (pl ParticipantList) Sort() {
	sort.Slice(pl, func(i, j int) bool {
		if pl[i].Index != pl[j].Index {
			return pl[i].Index < pl[j].Index
		}
		return pl[i].AccountID < pl[j].AccountID
	})
}

// ByAccountID returns the participant with the given account id, if present.
func (pl ParticipantList) ByAccountID(accountID string) (Participant, bool) {
	for _, p := range pl {
		if p.AccountID == accountID {
			return p, true
		}
	}
	return Participant{}, false
}

// AccountIDs returns the account ids of all participants, in list order.
func (pl ParticipantList) AccountIDs() []string {
	ids := make([]string, 0, len(pl))
	for _, p := range pl {
		ids = append(ids, p.AccountID)
	}
	return ids
}

// IsValidAccountID reports whether id is a well-formed account id.
func IsValidAccountID(id string) bool {
	return len(id) >= 2 && len(id) <= 64 && accountIDRegex.MatchString(id)
}

// IsChildAccount reports whether child is directly or transitively below
// parent in the account hierarchy. An account may only directly create a
// child whose name is itself suffixed by the creator's name.
func IsChildAccount(child, parent string) bool {
	return len(child) > len(parent)+1 && child[len(child)-len(parent):] == parent &&
		child[len(child)-len(parent)-1] == '.'
}
