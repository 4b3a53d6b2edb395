package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpcnet/chainsig/health"
	"github.com/mpcnet/chainsig/provision"
	"github.com/mpcnet/chainsig/setup"
)

// deployerKeyFile holds the custodian-encrypted deployer credentials
// between runs.
const deployerKeyFile = "deployer-key.enc"

var (
	flagDeployer     string
	flagWasm         string
	flagThreshold    int
	flagTimeout      time.Duration
	flagPollInterval time.Duration
	flagForce        bool
	flagHealthMode   string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Drive the signer contract to its Running state",
	Long: "Provisions the deployer and contract accounts, initializes the " +
		"signer contract with the resolved participant set, reaches domain " +
		"quorum through per-participant votes, and polls until the contract " +
		"reports Running. Safe to re-run: every step resumes from on-chain state.",
	Run: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().StringVar(&flagDeployer, "deployer-account", "",
		"deployer account to create under the root (optional)")
	setupCmd.Flags().StringVar(&flagWasm, "wasm", "signer.wasm",
		"path to the signer contract wasm")
	setupCmd.Flags().IntVar(&flagThreshold, "threshold", 2,
		"signing quorum size")
	setupCmd.Flags().DurationVar(&flagTimeout, "timeout", setup.DefaultTimeout,
		"total time to wait for the Running state")
	setupCmd.Flags().DurationVar(&flagPollInterval, "poll-interval", setup.DefaultPollInterval,
		"contract state polling interval")
	setupCmd.Flags().BoolVar(&flagForce, "force", false,
		"re-run initialization even when the contract already reports Running")
	setupCmd.Flags().StringVar(&flagHealthMode, "health-mode", string(health.ModeBestEffort),
		"participant health mode: strict, best_effort or skip")
}

func runSetup(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	mode, err := health.ParseMode(flagHealthMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid health mode")
	}

	code, err := provision.LoadContractCode(flagWasm)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load signer contract code")
	}

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
	network := setup.NewNetwork(log, api, provisioner, *topology)

	result, err := network.Setup(ctx, setup.Config{
		ContractID:       topology.ContractID,
		DeployerID:       flagDeployer,
		Code:             code,
		PriorDeployerKey: readFileIfExists(deployerKeyFile),
		Threshold:        flagThreshold,
		PollInterval:     flagPollInterval,
		Timeout:          flagTimeout,
		Force:            flagForce,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}

	monitor := health.NewMonitor(log, api, result.ContractID, result.Participants, mode)
	if err := monitor.Check(ctx); err != nil {
		log.Fatal().Err(err).Msg("health check failed")
	}

	writeJSON("setup-result.json", result)
	if len(result.EncryptedDeployerKey) > 0 {
		writeFile(deployerKeyFile, result.EncryptedDeployerKey)
	}
	if !result.Running {
		log.Warn().Msg("setup returned before Running; re-invoke setup to resume")
	}
}
