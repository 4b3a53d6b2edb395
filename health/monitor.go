// Package health gates client usability on polling-based readiness checks:
// contract code presence on chain and each participant's liveness endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
)

// Mode sets how participant check failures are treated.
type Mode string

const (
	// ModeStrict makes any unreachable participant fatal.
	ModeStrict Mode = "strict"
	// ModeBestEffort logs unreachable participants and continues. This is
	// the right mode when participants are only reachable from inside a
	// private network.
	ModeBestEffort Mode = "best_effort"
	// ModeSkip skips all health checking.
	ModeSkip Mode = "skip"
)

// ParseMode validates a mode name.
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(name)) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeBestEffort:
		return ModeBestEffort, nil
	case ModeSkip:
		return ModeSkip, nil
	default:
		return "", fmt.Errorf("unknown health mode %q: %w", name, model.ErrParse)
	}
}

const (
	// DefaultAttempts bounds the contract code check.
	DefaultAttempts = 5
	// DefaultInterval is the fine-grained polling interval for health
	// checks.
	DefaultInterval = 2 * time.Second

	probeTimeout = 5 * time.Second
)

// Monitor checks one contract and its participant set.
type Monitor struct {
	chain        chain.API
	contractID   string
	participants model.ParticipantList
	mode         Mode
	attempts     uint64
	interval     time.Duration
	http         *http.Client
	log          zerolog.Logger
}

// NewMonitor returns a monitor with default retry behavior.
func NewMonitor(log zerolog.Logger, api chain.API, contractID string, participants model.ParticipantList, mode Mode) *Monitor {
	return &Monitor{
		chain:        api,
		contractID:   contractID,
		participants: participants,
		mode:         mode,
		attempts:     DefaultAttempts,
		interval:     DefaultInterval,
		http:         &http.Client{Timeout: probeTimeout},
		log:          log.With().Str("component", "health_monitor").Str("contract", contractID).Logger(),
	}
}

// WithRetry overrides the attempt count and polling interval.
func (m *Monitor) WithRetry(attempts uint64, interval time.Duration) *Monitor {
	m.attempts = attempts
	m.interval = interval
	return m
}

// Check runs both resource checks according to the configured mode.
func (m *Monitor) Check(ctx context.Context) error {
	if m.mode == ModeSkip {
		m.log.Info().Msg("health checks skipped")
		return nil
	}

	if err := m.checkContract(ctx); err != nil {
		return err
	}
	return m.checkParticipants(ctx)
}

// checkContract verifies contract code presence with a raw state query,
// retried up to the attempt count over the polling interval.
func (m *Monitor) checkContract(ctx context.Context) error {
	backoff := retry.WithMaxRetries(m.attempts, retry.NewConstant(m.interval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		code, err := m.chain.ViewCode(ctx, m.contractID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(code) == 0 {
			return retry.RetryableError(fmt.Errorf("no code on %s", m.contractID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("contract %s health check exhausted: %v: %w", m.contractID, err, model.ErrTimeout)
	}

	m.log.Info().Msg("contract code present")
	return nil
}

// checkParticipants probes each participant's liveness endpoint once.
func (m *Monitor) checkParticipants(ctx context.Context) error {
	var unhealthy error
	for _, p := range m.participants {
		if err := m.probe(ctx, p); err != nil {
			if m.mode == ModeBestEffort {
				m.log.Warn().
					Err(err).
					Str("participant", p.AccountID).
					Msg("participant unreachable, continuing")
				continue
			}
			unhealthy = multierror.Append(unhealthy, fmt.Errorf("participant %s: %w", p.AccountID, err))
		}
	}
	if unhealthy != nil {
		return fmt.Errorf("participant health check failed: %w", unhealthy)
	}
	return nil
}

func (m *Monitor) probe(ctx context.Context, p model.Participant) error {
	if p.EndpointURL == "" {
		return fmt.Errorf("no endpoint url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.EndpointURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liveness endpoint returned %d", resp.StatusCode)
	}
	return nil
}
