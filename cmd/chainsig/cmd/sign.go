package cmd

import (
	"context"
	"encoding/hex"

	"github.com/spf13/cobra"

	"github.com/mpcnet/chainsig/model"
	"github.com/mpcnet/chainsig/provision"
	"github.com/mpcnet/chainsig/signer"
)

var (
	flagSignAccount string
	flagSignChain   string
	flagSignPath    string
	flagSignPayload string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Request a threshold signature over a 32-byte digest",
	Run:   runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVar(&flagSignAccount, "account", "",
		"account requesting the signature; must match the transaction signer")
	signCmd.Flags().StringVar(&flagSignChain, "chain", string(model.ChainEthereum),
		"target chain, selects the signing domain")
	signCmd.Flags().StringVar(&flagSignPath, "path", "",
		"derivation path; empty selects the default for (chain, account)")
	signCmd.Flags().StringVar(&flagSignPayload, "payload", "",
		"hex-encoded 32-byte digest to sign")
	_ = signCmd.MarkFlagRequired("account")
	_ = signCmd.MarkFlagRequired("payload")
}

func runSign(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	chainName, err := model.ParseChain(flagSignChain)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid chain")
	}

	digest, err := hex.DecodeString(flagSignPayload)
	if err != nil || len(digest) != model.PayloadSize {
		log.Fatal().Msgf("payload must be %d hex-encoded bytes", model.PayloadSize)
	}
	var payload [model.PayloadSize]byte
	copy(payload[:], digest)

	custodian, err := buildCustodian(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build key custodian")
	}
	topology, err := resolveTopology(ctx, custodian)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot resolve infrastructure topology")
	}

	api := chainClient(topology)
	provisioner := provision.New(log, api, custodian, flagRootAccount)
	signerKey, err := provisioner.KeyFor(ctx, flagSignAccount)
	if err != nil {
		log.Fatal().Err(err).Msgf("no signing key for %s", flagSignAccount)
	}

	client := signer.NewClient(log, api, topology.ContractID, flagSignAccount, signerKey)
	response, err := client.RequestSignature(ctx, model.SignatureRequest{
		AccountID: flagSignAccount,
		Chain:     chainName,
		Path:      flagSignPath,
		Payload:   payload,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("signature request failed")
	}
	if err := client.VerifySignature(response); err != nil {
		log.Fatal().Err(err).Msg("signature failed verification")
	}

	writeJSON("signature.json", response)
	log.Info().Str("big_r", response.BigR).Msg("signature complete")
}
