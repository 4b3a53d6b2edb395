package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mpcnet/chainsig/model"
)

// discoveryTimeout bounds one participant discovery request. Participants
// may only be reachable from inside a private network, so failures here are
// soft.
const discoveryTimeout = 5 * time.Second

// refreshSigningKeys refreshes each participant's signing public key live
// from its discovery endpoint when reachable, falling back to the cached
// value otherwise.
func refreshSigningKeys(ctx context.Context, log zerolog.Logger, participants model.ParticipantList) {
	client := &http.Client{Timeout: discoveryTimeout}
	for i := range participants {
		p := &participants[i]
		if p.EndpointURL == "" {
			continue
		}
		key, err := fetchSigningKey(ctx, client, p.EndpointURL)
		if err != nil {
			log.Debug().
				Err(err).
				Str("participant", p.AccountID).
				Msg("discovery endpoint unreachable, keeping cached signing key")
			continue
		}
		if key != "" && key != p.SignPublicKey {
			log.Info().
				Str("participant", p.AccountID).
				Msg("refreshed signing key from discovery endpoint")
			p.SignPublicKey = key
		}
	}
}

// fetchSigningKey reads the participant's public data document.
func fetchSigningKey(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/public_data", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery returned %d", resp.StatusCode)
	}

	var doc struct {
		SignPK        string `json:"sign_pk"`
		SignPublicKey string `json:"sign_public_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decoding discovery document: %w", model.ErrParse)
	}
	if doc.SignPK != "" {
		return doc.SignPK, nil
	}
	return doc.SignPublicKey, nil
}
