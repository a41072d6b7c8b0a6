// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/evm"
	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/config"
	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
	"github.com/rovshanmuradov/mempool-sniper/internal/events"
	"github.com/rovshanmuradov/mempool-sniper/internal/metrics"
	"github.com/rovshanmuradov/mempool-sniper/internal/reporting"
	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
	"github.com/rovshanmuradov/mempool-sniper/internal/wallet"
)

// Process exit codes of one-shot commands.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

const eventBufferSize = 256

// ExitFunc ends the process. Tests inject a recorder instead of os.Exit.
type ExitFunc func(code int)

// Runner wires the node connection, the watch listeners and the submission
// engine for one CLI invocation.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
	exit   ExitFunc

	wallet  *wallet.Wallet
	client  *evm.Client
	chainID *big.Int

	trader    *pancakeswap.Trader
	engine    *submission.Engine
	keeper    *node.Keeper
	bus       *events.Bus
	collector *metrics.Collector
	shutdown  *ShutdownHandler
}

// NewRunner creates a runner. Initialize must be called before any command.
func NewRunner(cfg *config.Config, logger *zap.Logger, exit ExitFunc) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   logger.Named("runner"),
		exit:     exit,
		shutdown: NewShutdownHandler(logger, 5*time.Second),
	}
}

// Initialize connects to the node RPC, binds the router and starts the
// optional metrics server and redis reporter.
func (r *Runner) Initialize(ctx context.Context) error {
	w, err := wallet.NewWallet(r.cfg.Wallet.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	r.wallet = w

	client, err := evm.Dial(ctx, r.cfg.Node.RPCURL, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to node rpc: %w", err)
	}
	r.client = client
	r.shutdown.AddFunc("evm_client", func() error {
		client.Close()
		return nil
	})

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	r.chainID = chainID

	auth, err := w.TransactOpts(chainID)
	if err != nil {
		return err
	}
	router := pancakeswap.NewRouter(
		common.HexToAddress(r.cfg.DEX.Router),
		common.HexToAddress(r.cfg.DEX.Wrapped),
		client, auth, r.logger)

	if r.cfg.Redis.Addr != "" {
		if err := r.startReporter(ctx); err != nil {
			return err
		}
	}

	if err := r.assemble(router, router, w.Recipient(r.cfg.Wallet.Recipient)); err != nil {
		return err
	}

	if r.cfg.Metrics.Addr != "" {
		r.startMetricsServer()
	}

	r.logger.Info("Runner initialized",
		zap.String("wallet", w.Address.Hex()),
		zap.Stringer("chain_id", chainID),
		zap.String("router", router.Address().Hex()),
		zap.String("rpc", client.URL()))
	return nil
}

// assemble builds everything that does not need a network connection.
func (r *Runner) assemble(executor submission.Executor, quoter pancakeswap.Quoter, recipient common.Address) error {
	gasPrice, err := evm.ParseGwei(r.cfg.Trade.GasPriceGwei)
	if err != nil {
		return fmt.Errorf("invalid gas price: %w", err)
	}

	if r.bus == nil {
		r.bus = events.NewBus(r.logger, eventBufferSize)
	}
	bus := r.bus
	r.shutdown.AddFunc("event_bus", func() error {
		return bus.Shutdown(context.Background())
	})
	r.collector = metrics.NewCollector()
	r.collector.WatchBus(bus.Stats)

	r.trader = pancakeswap.NewTrader(quoter, pancakeswap.TraderConfig{
		Wrapped:         common.HexToAddress(r.cfg.DEX.Wrapped),
		Recipient:       recipient,
		GasPrice:        gasPrice,
		GasLimit:        r.cfg.Trade.GasLimit,
		SlippageDivisor: r.cfg.Trade.SlippageDivisor,
		DeadlineWindow:  r.cfg.Trade.DeadlineWindow,
	}, r.logger)

	r.engine, err = submission.NewEngine(executor, submission.Config{
		Policy: submission.RetryPolicy{
			MaxAttempts: r.cfg.Retry.MaxAttempts,
			MinBackoff:  r.cfg.Retry.MinBackoff,
			MaxBackoff:  r.cfg.Retry.MaxBackoff,
		},
		DeadlineWindow:  r.cfg.Trade.DeadlineWindow,
		RefreshDeadline: r.cfg.Trade.RefreshDeadline,
		ConfirmTimeout:  r.cfg.Trade.ConfirmTimeout,
	}, r.logger, r.collector, newOrderReporter(r.bus, r.logger))
	if err != nil {
		return fmt.Errorf("failed to create submission engine: %w", err)
	}

	r.keeper = node.NewKeeper(keeperConfig(r.cfg), r.logger).WithObserver(r.collector)
	return nil
}

func keeperConfig(cfg *config.Config) node.KeeperConfig {
	kc := node.DefaultKeeperConfig(cfg.Node.WSURL)
	kc.KeepAliveInterval = cfg.Node.KeepAliveInterval
	kc.PongTimeout = cfg.Node.PongTimeout
	kc.ReconnectInitial = cfg.Reconnect.Initial
	kc.ReconnectMax = cfg.Reconnect.Max
	kc.MaxDialAttempts = cfg.Reconnect.MaxAttempts
	kc.FlapRate = cfg.Reconnect.Rate
	kc.FlapBurst = cfg.Reconnect.Burst
	return kc
}

func (r *Runner) startReporter(ctx context.Context) error {
	client, err := reporting.Dial(ctx, reporting.Options{
		Addr:     r.cfg.Redis.Addr,
		Password: r.cfg.Redis.Password,
		DB:       r.cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	reporter := reporting.NewRedisPublisher(client, r.cfg.Redis.Prefix, r.logger)
	// registered before the bus so queued events are flushed first
	r.shutdown.AddFunc("redis", func() error {
		reporter.Detach()
		return client.Close()
	})

	r.bus = events.NewBus(r.logger, eventBufferSize)
	reporter.Attach(r.bus)

	r.logger.Info("Reporting events to redis",
		zap.String("addr", r.cfg.Redis.Addr),
		zap.String("prefix", r.cfg.Redis.Prefix))
	return nil
}

func (r *Runner) startMetricsServer() {
	srv := metrics.NewServer(r.cfg.Metrics.Addr, r.collector, r.keeper.Health, r.logger)
	go func() {
		if err := srv.Start(); err != nil {
			r.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	r.shutdown.AddFunc("metrics_server", func() error {
		return srv.Shutdown(context.Background())
	})
}

// Close releases every resource opened by Initialize.
func (r *Runner) Close(ctx context.Context) error {
	return r.shutdown.Shutdown(ctx)
}
