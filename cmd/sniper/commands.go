package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/bot"
	"github.com/rovshanmuradov/mempool-sniper/internal/config"
	"github.com/rovshanmuradov/mempool-sniper/internal/logger"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "sniper",
		Short:         "Mempool liquidity sniper for PancakeSwap-style routers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "config file (json or yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newSnipeCmd(opts),
		newPairsCmd(opts),
		newBuyCmd(opts),
		newSellCmd(opts),
	)
	return root
}

func newSnipeCmd(opts *rootOptions) *cobra.Command {
	var (
		token  string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "snipe",
		Short: "Watch the mempool for liquidity on a token and buy once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), opts, func(ctx context.Context, cfg *config.Config, r *bot.Runner) error {
				target, err := resolveToken(token, cfg.Snipe.Token)
				if err != nil {
					return err
				}
				return r.Snipe(ctx, target, dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "target token address (defaults to snipe.token)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log matches without buying")
	return cmd
}

func newPairsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pairs",
		Short: "Log every pair created by the factory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), opts, func(ctx context.Context, _ *config.Config, r *bot.Runner) error {
				return r.WatchPairs(ctx)
			})
		},
	}
}

func newBuyCmd(opts *rootOptions) *cobra.Command {
	var token, amount string
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy a token with the native coin and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), opts, func(ctx context.Context, cfg *config.Config, r *bot.Runner) error {
				target, err := resolveToken(token, cfg.Snipe.Token)
				if err != nil {
					return err
				}
				return r.Buy(ctx, target, amount)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token address (defaults to snipe.token)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in native units (defaults to trade.buy_amount)")
	return cmd
}

func newSellCmd(opts *rootOptions) *cobra.Command {
	var token, amount string
	cmd := &cobra.Command{
		Use:   "sell",
		Short: "Sell a token for the native coin and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), opts, func(ctx context.Context, cfg *config.Config, r *bot.Runner) error {
				target, err := resolveToken(token, cfg.Snipe.Token)
				if err != nil {
					return err
				}
				return r.Sell(ctx, target, amount)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token address (defaults to snipe.token)")
	cmd.Flags().StringVar(&amount, "amount", "", "raw token amount (defaults to trade.sell_amount, then the whole balance)")
	return cmd
}

// withRunner loads config and logging, initializes a runner and runs fn.
// One-shot commands exit the process from inside fn.
func withRunner(ctx context.Context, opts *rootOptions, fn func(context.Context, *config.Config, *bot.Runner) error) error {
	cfg, err := config.LoadConfig(opts.configPath, opts.envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync(log)

	exit := func(code int) {
		_ = logger.Sync(log)
		os.Exit(code)
	}

	runner := bot.NewRunner(cfg, log, exit)
	defer func() {
		if err := runner.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Shutdown finished with errors", zap.Error(err))
		}
	}()

	if err := runner.Initialize(ctx); err != nil {
		log.Error("Failed to initialize", zap.Error(err))
		return err
	}

	if err := fn(ctx, cfg, runner); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Command failed", zap.Error(err))
		return err
	}
	return nil
}

func resolveToken(flag, fallback string) (common.Address, error) {
	token := flag
	if token == "" {
		token = fallback
	}
	if token == "" {
		return common.Address{}, errors.New("token address is required (--token or snipe.token)")
	}
	if !common.IsHexAddress(token) {
		return common.Address{}, fmt.Errorf("invalid token address %q", token)
	}
	return common.HexToAddress(token), nil
}
