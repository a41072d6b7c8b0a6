// internal/sniping/sniper.go
package sniping

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/events"
	"github.com/rovshanmuradov/mempool-sniper/internal/mempool"
)

// Recorder receives pipeline counters.
type Recorder interface {
	PendingSeen()
	Classified(method string)
	DecodeFailed()
	IntentDetected()
	DuplicateIntent()
}

type nopRecorder struct{}

func (nopRecorder) PendingSeen() {}
func (nopRecorder) Classified(string) {}
func (nopRecorder) DecodeFailed() {}
func (nopRecorder) IntentDetected() {}
func (nopRecorder) DuplicateIntent() {}

// IntentHandler is called from a fetch worker and may block it.
type IntentHandler func(ctx context.Context, intent *SnipeIntent)

// Config controls the watch pipeline.
type Config struct {
	Workers    int
	FetchRate  float64
	FetchBurst int
	// Buffer is the pending hash channel size.
	Buffer int
	// Once passes only the first intent to the handler.
	Once   bool
	DryRun bool
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Workers:    16,
		FetchRate:  200,
		FetchBurst: 50,
		Buffer:     1024,
		Once:       true,
	}
}

// Sniper watches pending transactions on every keeper session and turns
// matching liquidity calls into intents.
type Sniper struct {
	classifier *mempool.Classifier
	trigger    *Trigger
	config     Config
	limiter    *rate.Limiter
	logger     *zap.Logger

	publisher events.Publisher
	recorder  Recorder
	onIntent  IntentHandler
	fired     atomic.Bool
}

var _ node.Listener = (*Sniper)(nil)

// NewSniper creates the watch pipeline.
func NewSniper(classifier *mempool.Classifier, trigger *Trigger, config Config, logger *zap.Logger) *Sniper {
	if config.Workers <= 0 {
		config.Workers = 1
		logger.Warn("Invalid workers count, using 1 worker")
	}
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	limit := rate.Limit(config.FetchRate)
	if config.FetchRate <= 0 {
		limit = rate.Inf
	}
	burst := config.FetchBurst
	if burst <= 0 {
		burst = 1
	}
	return &Sniper{
		classifier: classifier,
		trigger:    trigger,
		config:     config,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("sniper"),
		recorder:   nopRecorder{},
	}
}

// WithPublisher publishes every intent as a SnipeDetectedEvent.
func (s *Sniper) WithPublisher(p events.Publisher) *Sniper {
	s.publisher = p
	return s
}

// WithRecorder sets the metrics sink.
func (s *Sniper) WithRecorder(r Recorder) *Sniper {
	if r != nil {
		s.recorder = r
	}
	return s
}

// OnIntent registers the intent handler.
func (s *Sniper) OnIntent(h IntentHandler) {
	s.onIntent = h
}

// Name implements node.Listener.
func (s *Sniper) Name() string {
	return "sniper"
}

// Listen subscribes to pending hashes on session and processes them until
// ctx is cancelled.
func (s *Sniper) Listen(ctx context.Context, session *node.Session) error {
	hashes := make(chan common.Hash, s.config.Buffer)
	sub, err := session.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return fmt.Errorf("subscribe pending transactions: %w", err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("Watching mempool",
		zap.String("subscription", sub.ID()),
		zap.String("router", s.classifier.Router().Hex()),
		zap.String("target", s.trigger.Target().Hex()),
		zap.Int("workers", s.config.Workers),
		zap.Bool("dry_run", s.config.DryRun))

	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hash := <-hashes:
			s.recorder.PendingSeen()
			if err := s.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
			g.Go(func() error {
				s.process(ctx, session, hash)
				return nil
			})
		}
	}
}

func (s *Sniper) process(ctx context.Context, session *node.Session, hash common.Hash) {
	tx, err := session.TransactionByHash(ctx, hash)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("Failed to fetch pending transaction", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		return
	}
	if tx == nil {
		return
	}
	// some nodes omit the hash in the body
	tx.Hash = hash

	call, err := s.classifier.Classify(tx)
	if err != nil {
		var decodeErr *mempool.DecodeError
		if errors.As(err, &decodeErr) {
			s.recorder.DecodeFailed()
		}
		s.logger.Warn("Skipping undecodable router call", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		return
	}
	if call == nil {
		return
	}
	s.recorder.Classified(call.Method)

	intent, duplicate := s.trigger.evaluate(hash, call)
	if duplicate {
		s.recorder.DuplicateIntent()
	}
	if intent == nil {
		return
	}
	s.recorder.IntentDetected()
	s.publish(intent)

	if s.onIntent == nil {
		return
	}
	if s.config.Once && !s.fired.CompareAndSwap(false, true) {
		s.logger.Debug("Intent ignored, already fired", zap.String("tx_hash", hash.Hex()))
		return
	}
	s.onIntent(ctx, intent)
}

func (s *Sniper) publish(intent *SnipeIntent) {
	if s.publisher == nil {
		return
	}
	event := &events.SnipeDetectedEvent{
		BaseEvent: events.NewBaseEvent(events.SnipeDetected),
		Token:     intent.Token.Hex(),
		TxHash:    intent.TxHash.Hex(),
		Method:    intent.Method,
		DryRun:    s.config.DryRun,
	}
	event.EventTime = intent.DetectedAt
	if err := s.publisher.Publish(event); err != nil {
		s.logger.Debug("Intent event not published", zap.Error(err))
	}
}
