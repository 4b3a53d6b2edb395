package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mpcnet/chainsig/health"
)

var flagMode string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check contract and participant readiness",
	Run:   runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().StringVar(&flagMode, "mode", string(health.ModeStrict),
		"health mode: strict, best_effort or skip")
}

func runHealth(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	mode, err := health.ParseMode(flagMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid health mode")
	}

	custodian, err := buildCustodian(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build key custodian")
	}
	topology, err := resolveTopology(ctx, custodian)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot resolve infrastructure topology")
	}

	monitor := health.NewMonitor(log, chainClient(topology), topology.ContractID, topology.Participants, mode)
	if err := monitor.Check(ctx); err != nil {
		log.Fatal().Err(err).Msg("health check failed")
	}
	log.Info().Msg("network healthy")
}
