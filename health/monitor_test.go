package health

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/chain/emulator"
	"github.com/mpcnet/chainsig/model"
)

const contractID = "v1.signer.node0"

func deployedEmulator(t *testing.T) *emulator.Emulator {
	t.Helper()
	em := emulator.New()
	key, err := chain.GenerateKeyPair()
	require.NoError(t, err)
	em.CreateAccount("node0", big.NewInt(1000), key.PublicKey)
	em.CreateAccount(contractID, big.NewInt(1000))
	_, err = em.SignAndSend(context.Background(), "node0", key, contractID, []chain.Action{
		chain.DeployContractAction([]byte{0x00, 0x61, 0x73, 0x6d}),
	})
	require.NoError(t, err)
	return em
}

func liveParticipant(t *testing.T, id string, status int) model.Participant {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return model.Participant{AccountID: id, EndpointURL: server.URL}
}

func TestCheckHealthy(t *testing.T) {
	participants := model.ParticipantList{
		liveParticipant(t, "mpc-node-0.node0", http.StatusOK),
		liveParticipant(t, "mpc-node-1.node0", http.StatusOK),
	}
	monitor := NewMonitor(zerolog.Nop(), deployedEmulator(t), contractID, participants, ModeStrict).
		WithRetry(1, time.Millisecond)
	require.NoError(t, monitor.Check(context.Background()))
}

func TestCheckContractMissingCode(t *testing.T) {
	em := emulator.New()
	em.CreateAccount(contractID, big.NewInt(1000))

	monitor := NewMonitor(zerolog.Nop(), em, contractID, nil, ModeStrict).
		WithRetry(2, time.Millisecond)
	err := monitor.Check(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestCheckStrictFailsOnDeadParticipant(t *testing.T) {
	participants := model.ParticipantList{
		liveParticipant(t, "mpc-node-0.node0", http.StatusOK),
		liveParticipant(t, "mpc-node-1.node0", http.StatusServiceUnavailable),
		{AccountID: "mpc-node-2.node0"}, // no endpoint at all
	}
	monitor := NewMonitor(zerolog.Nop(), deployedEmulator(t), contractID, participants, ModeStrict).
		WithRetry(1, time.Millisecond)
	err := monitor.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mpc-node-1.node0")
	assert.Contains(t, err.Error(), "mpc-node-2.node0")
	assert.NotContains(t, err.Error(), "mpc-node-0.node0")
}

func TestCheckBestEffortTolerates(t *testing.T) {
	participants := model.ParticipantList{
		liveParticipant(t, "mpc-node-0.node0", http.StatusServiceUnavailable),
		{AccountID: "mpc-node-1.node0"},
	}
	monitor := NewMonitor(zerolog.Nop(), deployedEmulator(t), contractID, participants, ModeBestEffort).
		WithRetry(1, time.Millisecond)
	require.NoError(t, monitor.Check(context.Background()))
}

func TestCheckSkipDoesNothing(t *testing.T) {
	// no contract, no participants: skip must not touch either
	monitor := NewMonitor(zerolog.Nop(), emulator.New(), contractID, nil, ModeSkip)
	require.NoError(t, monitor.Check(context.Background()))
}

func TestParseMode(t *testing.T) {
	for input, want := range map[string]Mode{
		"strict":      ModeStrict,
		"BEST_EFFORT": ModeBestEffort,
		"Skip":        ModeSkip,
	} {
		mode, err := ParseMode(input)
		require.NoError(t, err)
		assert.Equal(t, want, mode)
	}

	_, err := ParseMode("lenient")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)
}
