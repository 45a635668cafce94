package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/kaplanmaxe/marinade-crank/api"
	"github.com/kaplanmaxe/marinade-crank/config"
	"github.com/kaplanmaxe/marinade-crank/core/transaction"
	"github.com/kaplanmaxe/marinade-crank/crank"
	"github.com/kaplanmaxe/marinade-crank/crypto"
	"github.com/kaplanmaxe/marinade-crank/crypto/address"
	"github.com/kaplanmaxe/marinade-crank/staking/liquid"
)

type rootFlags struct {
	voteAccount      string
	keypair          string
	cluster          string
	simulate         bool
	computeUnitPrice uint64
	configFile       string
	logLevel         string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "marinade-crank",
		Short: "Delegate Marinade reserve stake to an under-allocated validator",
		Long: `marinade-crank checks whether a validator is below its Marinade stake target
and, if the pool has stake to allocate this epoch, submits a stake_reserve
transaction delegating the shortfall (capped by the pool-wide stake delta).

Exit status is 0 on success or when the validator is already at target,
and 1 when the pool stake delta is negative or the run fails.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrank(cmd, f)
		},
	}

	bindFlags(cmd, f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *rootFlags) {
	flags := cmd.Flags()
	flags.StringVar(&f.voteAccount, "vote-account", "", "vote account of the validator to stake")
	flags.StringVar(&f.keypair, "keypair", "", "path to the fee payer keypair file")
	flags.StringVar(&f.cluster, "cluster", "", "cluster URL or moniker (mainnet-beta, devnet, testnet, localnet)")
	flags.BoolVar(&f.simulate, "simulate", false, "simulate the transaction instead of sending it")
	flags.Uint64Var(&f.computeUnitPrice, "with-compute-unit-price", 0, "compute unit price in micro-lamports")
	flags.StringVar(&f.configFile, "config", "", "optional YAML configuration file")
	flags.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("vote-account")
}

// Execute runs the command with signal handling
func Execute(ctx context.Context, cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return cmd.ExecuteContext(ctx)
}

// resolveConfig layers defaults, the config file and flags, then validates
// everything that does not need the network
func resolveConfig(cmd *cobra.Command, f *rootFlags) (*config.Config, solana.PublicKey, logging.LogLevel, error) {
	cfg, err := config.LoadFile(f.configFile)
	if err != nil {
		return nil, solana.PublicKey{}, 0, WrapError(ExitError, "failed to load configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("keypair") {
		cfg.Keypair = f.keypair
	}
	if flags.Changed("cluster") {
		cfg.Cluster = f.cluster
	}
	if flags.Changed("simulate") {
		cfg.Transaction.Simulate = f.simulate
	}
	if flags.Changed("with-compute-unit-price") {
		price := f.computeUnitPrice
		cfg.Transaction.ComputeUnitPrice = &price
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, solana.PublicKey{}, 0, WrapError(ExitError, "invalid configuration", err)
	}

	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, solana.PublicKey{}, 0, WrapError(ExitError, "invalid configuration", err)
	}

	vote, err := address.ParseNamed("vote-account", f.voteAccount)
	if err != nil {
		return nil, solana.PublicKey{}, 0, WrapError(ExitError, "invalid configuration", err)
	}
	return cfg, vote, level, nil
}

func marinadeAddresses(cfg *config.Config) (liquid.Addresses, error) {
	var addrs liquid.Addresses
	for _, field := range []struct {
		dst  *solana.PublicKey
		name string
		addr string
	}{
		{&addrs.Program, "marinade.program_id", cfg.Marinade.ProgramID},
		{&addrs.State, "marinade.state", cfg.Marinade.State},
		{&addrs.Reserve, "marinade.reserve", cfg.Marinade.Reserve},
		{&addrs.ValidatorList, "marinade.validator_list", cfg.Marinade.ValidatorList},
	} {
		pk, err := address.ParseNamed(field.name, field.addr)
		if err != nil {
			return liquid.Addresses{}, err
		}
		*field.dst = pk
	}
	return addrs, nil
}

func runCrank(cmd *cobra.Command, f *rootFlags) error {
	cfg, vote, level, err := resolveConfig(cmd, f)
	if err != nil {
		return err
	}
	addrs, err := marinadeAddresses(cfg)
	if err != nil {
		return WrapError(ExitError, "invalid configuration", err)
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return WrapError(ExitError, "invalid configuration", err)
	}

	signer, err := crypto.LoadKeypairFile(cfg.Keypair)
	if err != nil {
		return WrapError(ExitError, "failed to load keypair", err)
	}

	logging.SetupLogging(logging.Config{
		Format: logging.PlaintextOutput,
		Stderr: true,
		Level:  level,
	})
	log := logging.Logger("crank")
	log.Debugw("configuration resolved",
		"endpoint", endpoint,
		"commitment", cfg.Commitment,
		"fee_payer", signer.PublicKey(),
		"simulate", cfg.Transaction.Simulate)

	client := api.NewClient(endpoint, api.Options{
		Commitment:        cfg.CommitmentType(),
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
		PollInterval:      cfg.RPC.PollInterval,
		ConfirmTimeout:    cfg.RPC.ConfirmTimeout,
		Logger:            &logging.Logger("api").SugaredLogger,
	})
	defer client.Close()

	protocol := liquid.NewClient(client, addrs, &logging.Logger("liquid").SugaredLogger)
	executor := transaction.NewExecutor(client, protocol, cfg.Transaction.ComputeUnitLimit,
		&logging.Logger("executor").SugaredLogger)

	mode := transaction.ModeSend
	if cfg.Transaction.Simulate {
		mode = transaction.ModeSimulate
	}

	result, err := crank.New(protocol, executor, cmd.OutOrStdout(), cmd.ErrOrStderr(), &log.SugaredLogger).
		Run(cmd.Context(), crank.Options{
			VoteAccount: vote,
			Signer:      signer,
			Mode:        mode,
			PriorityFee: cfg.Transaction.ComputeUnitPrice,
		})
	if err != nil {
		return WrapError(ExitError, "crank run failed", err)
	}
	if result.ExitCode != crank.ExitSuccess {
		return exitStatus(result.ExitCode)
	}
	return nil
}
