package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/model"
	"github.com/mpcnet/chainsig/signer"
)

var (
	flagDeriveAccount string
	flagDeriveChain   string
	flagDerivePath    string
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive a cross-chain address for an account",
	Run:   runDerive,
}

func init() {
	rootCmd.AddCommand(deriveCmd)

	deriveCmd.Flags().StringVar(&flagDeriveAccount, "account", "",
		"account the address is derived for (derivation predecessor)")
	deriveCmd.Flags().StringVar(&flagDeriveChain, "chain", string(model.ChainEthereum),
		"target chain")
	deriveCmd.Flags().StringVar(&flagDerivePath, "path", "",
		"derivation path; empty selects the default for (chain, account)")
	_ = deriveCmd.MarkFlagRequired("account")
}

func runDerive(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	chainName, err := model.ParseChain(flagDeriveChain)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid chain")
	}

	custodian, err := buildCustodian(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build key custodian")
	}
	topology, err := resolveTopology(ctx, custodian)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot resolve infrastructure topology")
	}

	// derivation is read-only, no signing key is needed
	client := signer.NewClient(log, chainClient(topology), topology.ContractID, flagDeriveAccount, chain.KeyPair{})

	derived, err := client.DeriveAddress(ctx, flagDeriveAccount, chainName, flagDerivePath)
	if err != nil {
		log.Fatal().Err(err).Msg("derivation failed")
	}
	writeJSON("derived-address.json", derived)
	log.Info().
		Str("chain", string(derived.Chain)).
		Str("address", derived.Address).
		Msg("derived address")
}
