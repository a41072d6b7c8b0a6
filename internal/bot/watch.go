// internal/bot/watch.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
	"github.com/rovshanmuradov/mempool-sniper/internal/eventlistener"
	"github.com/rovshanmuradov/mempool-sniper/internal/mempool"
	"github.com/rovshanmuradov/mempool-sniper/internal/sniping"
	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
)

// Snipe watches the mempool for liquidity being added to token. Unless
// dryRun is set, the first match triggers one buy and the process exits with
// its outcome. It returns nil when ctx is cancelled.
func (r *Runner) Snipe(ctx context.Context, token common.Address, dryRun bool) error {
	selectors := make([]mempool.Selector, 0, len(r.cfg.DEX.Selectors))
	for _, s := range r.cfg.DEX.Selectors {
		sel, err := mempool.ParseSelector(s)
		if err != nil {
			return fmt.Errorf("invalid selector: %w", err)
		}
		selectors = append(selectors, sel)
	}

	classifier := mempool.NewClassifier(
		common.HexToAddress(r.cfg.DEX.Router), selectors, mempool.NewABIDecoder(nil), r.logger)
	trigger := sniping.NewTrigger(token, r.cfg.Snipe.DedupTTL, r.logger)
	sniper := sniping.NewSniper(classifier, trigger, sniping.Config{
		Workers:    r.cfg.Snipe.Workers,
		FetchRate:  r.cfg.Snipe.FetchRate,
		FetchBurst: r.cfg.Snipe.FetchBurst,
		Buffer:     sniping.DefaultConfig().Buffer,
		Once:       !dryRun,
		DryRun:     dryRun,
	}, r.logger).WithPublisher(r.bus).WithRecorder(r.collector)

	intents := make(chan *sniping.SnipeIntent, 1)
	sniper.OnIntent(func(_ context.Context, intent *sniping.SnipeIntent) {
		if dryRun {
			r.logger.Info("Dry run, not buying",
				zap.String("tx_hash", intent.TxHash.Hex()),
				zap.String("method", intent.Method))
			return
		}
		select {
		case intents <- intent:
		default:
		}
	})
	r.keeper.Attach(sniper)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	keeperDone := make(chan error, 1)
	go func() { keeperDone <- r.keeper.Run(watchCtx) }()

	r.logger.Info("Sniping",
		zap.String("token", token.Hex()),
		zap.Bool("dry_run", dryRun))

	select {
	case <-ctx.Done():
		<-keeperDone
		r.logger.Info("Snipe stopped")
		return nil
	case err := <-keeperDone:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("mempool watch stopped: %w", err)
	case intent := <-intents:
		// one order in flight; the watch is not needed any more
		stopWatch()
		<-keeperDone
		r.logger.Info("Snipe triggered",
			zap.String("tx_hash", intent.TxHash.Hex()),
			zap.String("method", intent.Method),
			zap.Duration("since_detected", time.Since(intent.DetectedAt)))
		result, err := r.buy(ctx, intent.Token, "")
		return r.finish(ctx, submission.Buy, result, err)
	}
}

// WatchPairs logs every PairCreated event of the factory until ctx is
// cancelled or the node connection cannot be re-established.
func (r *Runner) WatchPairs(ctx context.Context) error {
	notifier := eventlistener.NewNotifier(common.HexToAddress(r.cfg.DEX.Factory), r.logger).
		WithPublisher(r.bus).
		WithRecorder(r.collector)
	notifier.OnPairCreated(eventlistener.LogPair(r.logger))

	if r.cfg.Snipe.Token != "" {
		target := common.HexToAddress(r.cfg.Snipe.Token)
		notifier.OnPairCreated(func(_ context.Context, pair *pancakeswap.PairCreated) {
			if pair.Involves(target) {
				r.logger.Info("Target pair created",
					zap.String("token", target.Hex()),
					zap.String("pair", pair.Pair.Hex()))
			}
		})
	}
	r.keeper.Attach(notifier)

	err := r.keeper.Run(ctx)
	if errors.Is(err, context.Canceled) {
		r.logger.Info("Pair watch stopped")
		return nil
	}
	return fmt.Errorf("pair watch stopped: %w", err)
}
