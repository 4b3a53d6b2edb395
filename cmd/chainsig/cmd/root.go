package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mpcnet/chainsig/chain"
	"github.com/mpcnet/chainsig/infra"
	"github.com/mpcnet/chainsig/model"
	"github.com/mpcnet/chainsig/secrets"
)

var (
	flagOutdir           string
	flagStackDir         string
	flagChainStack       string
	flagParticipantStack string
	flagSecretsDir       string
	flagGCPProject       string
	flagKMSKey           string
	flagRootAccount      string
	flagRPCURL           string
	flagContract         string
	flagVerbose          bool

	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chainsig",
	Short: "Bring an MPC chain-signatures network online and use it",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagOutdir, "outdir", "o", "chainsig-out",
		"output directory for generated files")
	rootCmd.PersistentFlags().StringVar(&flagStackDir, "stack-dir", "infra",
		"directory holding exported stack-output JSON documents")
	rootCmd.PersistentFlags().StringVar(&flagChainStack, "chain-stack", "mpc-chain",
		"name of the chain-node infrastructure stack")
	rootCmd.PersistentFlags().StringVar(&flagParticipantStack, "participant-stack", "mpc-participants",
		"name of the compute-participants infrastructure stack")
	rootCmd.PersistentFlags().StringVar(&flagSecretsDir, "secrets-dir", "secrets",
		"directory holding local secret files (ignored with --gcp-project)")
	rootCmd.PersistentFlags().StringVar(&flagGCPProject, "gcp-project", "",
		"GCP project for Secret Manager and KMS; empty selects the local custodian")
	rootCmd.PersistentFlags().StringVar(&flagKMSKey, "kms-key", "",
		"full KMS crypto-key resource name for deployer key encryption")
	rootCmd.PersistentFlags().StringVar(&flagRootAccount, "root-account", "node0",
		"master account at the top of the account hierarchy")
	rootCmd.PersistentFlags().StringVar(&flagRPCURL, "rpc", "",
		"chain RPC endpoint, overriding the infrastructure stack output")
	rootCmd.PersistentFlags().StringVar(&flagContract, "contract", "",
		"signer contract account, overriding the infrastructure stack output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")

	log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.SetEnvPrefix("CHAINSIG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	bindEnv(rootCmd.PersistentFlags())

	if flagVerbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}
}

// bindEnv lets CHAINSIG_ environment variables stand in for flags that were
// not set on the command line.
func bindEnv(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && viper.IsSet(f.Name) {
			_ = flags.Set(f.Name, viper.GetString(f.Name))
		}
	})
}

// buildCustodian selects the GCP custodian when a project is configured and
// the local file-backed one otherwise.
func buildCustodian(ctx context.Context) (secrets.Custodian, error) {
	if flagGCPProject != "" {
		return secrets.NewGCPCustodian(ctx, log, flagGCPProject, flagKMSKey)
	}
	return secrets.NewLocalCustodian(flagSecretsDir)
}

// resolveTopology reads the infrastructure stacks and applies CLI
// overrides.
func resolveTopology(ctx context.Context, custodian secrets.Custodian) (*model.NetworkConfig, error) {
	reader := infra.NewReader(log, flagStackDir, custodian)
	config, err := reader.Resolve(ctx, flagChainStack, flagParticipantStack)
	if err != nil {
		return nil, err
	}
	if flagRPCURL != "" {
		config.RPCURL = flagRPCURL
	}
	if flagContract != "" {
		config.ContractID = flagContract
	}
	return config, nil
}

// chainClient builds the RPC client for the resolved topology.
func chainClient(config *model.NetworkConfig) *chain.Client {
	return chain.NewClient(log, config.RPCURL)
}
