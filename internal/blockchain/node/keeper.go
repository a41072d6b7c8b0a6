// internal/blockchain/node/keeper.go
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// KeeperConfig configures the connection keeper.
type KeeperConfig struct {
	URL               string
	KeepAliveInterval time.Duration
	PongTimeout       time.Duration
	Session           SessionConfig

	// Dial backoff between consecutive failed dials.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// MaxDialAttempts caps consecutive failed dials; 0 means unlimited.
	MaxDialAttempts uint

	// FlapRate and FlapBurst limit how often a session may be established.
	FlapRate  float64
	FlapBurst int
}

// DefaultKeeperConfig returns the default keep-alive and reconnect settings.
func DefaultKeeperConfig(url string) KeeperConfig {
	return KeeperConfig{
		URL:               url,
		KeepAliveInterval: 15 * time.Second,
		PongTimeout:       30 * time.Second,
		Session:           DefaultSessionConfig(),
		ReconnectInitial:  time.Second,
		ReconnectMax:      30 * time.Second,
		MaxDialAttempts:   10,
		FlapRate:          1,
		FlapBurst:         3,
	}
}

// DialFunc opens a session.
type DialFunc func(ctx context.Context) (*Session, error)

// Keeper maintains exactly one live session, probes it with pings and
// replaces it when the node stops answering. Attached listeners are restarted
// on every new session.
type Keeper struct {
	config   KeeperConfig
	logger   *zap.Logger
	dial     DialFunc
	observer Observer

	listenersMu sync.RWMutex
	listeners   []Listener

	mu         sync.Mutex
	health     ConnectionHealth
	generation uint64
	pongTimer  *time.Timer
	armSeq     uint64
}

// NewKeeper creates a keeper that dials config.URL.
func NewKeeper(config KeeperConfig, logger *zap.Logger) *Keeper {
	k := &Keeper{
		config:   config,
		logger:   logger.Named("keeper"),
		observer: nopObserver{},
	}
	k.dial = func(ctx context.Context) (*Session, error) {
		return Dial(ctx, config.URL, config.Session, logger.Named("session"))
	}
	return k
}

// WithObserver sets the lifecycle observer.
func (k *Keeper) WithObserver(o Observer) *Keeper {
	if o != nil {
		k.observer = o
	}
	return k
}

// Attach registers a listener. Listeners attached while running start with
// the next session.
func (k *Keeper) Attach(l Listener) {
	k.listenersMu.Lock()
	defer k.listenersMu.Unlock()
	k.listeners = append(k.listeners, l)
}

// Health returns a snapshot of the connection state.
func (k *Keeper) Health() ConnectionHealth {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.health
}

// Run keeps a session alive until ctx is cancelled or dialing gives up.
func (k *Keeper) Run(ctx context.Context) error {
	flap := rate.NewLimiter(rate.Limit(k.config.FlapRate), k.config.FlapBurst)

	for {
		if err := k.waitFlap(ctx, flap); err != nil {
			return err
		}

		session, err := k.connect(ctx)
		if err != nil {
			return err
		}

		k.serve(ctx, session)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		k.mu.Lock()
		k.health.Reconnects++
		reconnects := k.health.Reconnects
		k.mu.Unlock()
		k.observer.Reconnected()

		k.logger.Warn("websocket closed, reconnecting",
			zap.Uint64("reconnects", reconnects),
			zap.Error(session.Err()))
	}
}

// waitFlap blocks until flap admits another session. The full delay is
// waited out while ctx is live, even past a ctx deadline.
func (k *Keeper) waitFlap(ctx context.Context, flap *rate.Limiter) error {
	r := flap.Reserve()
	if !r.OK() {
		return fmt.Errorf("flap limiter admits no session (rate %v, burst %d)", flap.Limit(), flap.Burst())
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	k.logger.Warn("Reconnecting too often, throttling", zap.Duration("wait", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (k *Keeper) connect(ctx context.Context) (*Session, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = k.config.ReconnectInitial
	b.MaxInterval = k.config.ReconnectMax

	operation := func() (*Session, error) {
		s, err := k.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return s, nil
	}

	notify := func(err error, next time.Duration) {
		k.logger.Warn("Dial failed, retrying",
			zap.String("url", k.config.URL),
			zap.Duration("next_attempt_in", next),
			zap.Error(err))
	}

	session, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(k.config.MaxDialAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
	}

	k.logger.Info("Connected to node", zap.String("url", k.config.URL))
	return session, nil
}

// serve runs listeners and keep-alive for one session and returns once the
// session is dead and every listener has returned.
func (k *Keeper) serve(ctx context.Context, s *Session) {
	gen := k.beginSession()
	s.SetPongHandler(func() { k.handlePong(gen) })
	k.observer.ConnectionChanged(true)

	sessionCtx, cancel := context.WithCancel(ctx)

	var keepAlive sync.WaitGroup
	keepAlive.Add(1)
	go func() {
		defer keepAlive.Done()
		k.keepAlive(sessionCtx, s, gen)
	}()

	k.listenersMu.RLock()
	listeners := append([]Listener(nil), k.listeners...)
	k.listenersMu.RUnlock()

	var g errgroup.Group
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			err := l.Listen(sessionCtx, s)
			if err != nil && sessionCtx.Err() == nil && !errors.Is(err, ErrSessionClosed) {
				// a listener without its stream leaves the session useless
				k.logger.Error("Listener failed, dropping session",
					zap.String("listener", l.Name()),
					zap.Error(err))
				s.Terminate()
			}
			return nil
		})
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		_ = s.Close()
	}

	cancel()
	keepAlive.Wait()
	k.endSession(gen)
	_ = g.Wait()
	<-s.Done()
	k.observer.ConnectionChanged(false)
}

func (k *Keeper) beginSession() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.generation++
	k.health = ConnectionHealth{
		Connected:         true,
		ConnectedAt:       time.Now(),
		KeepAliveInterval: k.config.KeepAliveInterval,
		Reconnects:        k.health.Reconnects,
	}
	return k.generation
}

func (k *Keeper) endSession(gen uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if gen != k.generation {
		return
	}
	k.disarmLocked()
	k.health.Connected = false
}

func (k *Keeper) keepAlive(ctx context.Context, s *Session, gen uint64) {
	ticker := time.NewTicker(k.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-ticker.C:
			if err := s.Ping(); err != nil {
				k.logger.Debug("Ping failed", zap.Error(err))
			}
			k.armPongTimer(s, gen)
		}
	}
}

// armPongTimer starts the pong deadline unless one is already running.
func (k *Keeper) armPongTimer(s *Session, gen uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if gen != k.generation {
		return
	}
	now := time.Now()
	k.health.LastPingSent = now
	if k.pongTimer != nil {
		return
	}
	k.armSeq++
	seq := k.armSeq
	k.health.PongDeadline = now.Add(k.config.PongTimeout)
	k.pongTimer = time.AfterFunc(k.config.PongTimeout, func() {
		k.handlePongTimeout(s, gen, seq)
	})
}

func (k *Keeper) handlePong(gen uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if gen != k.generation {
		return
	}
	k.health.LastPong = time.Now()
	k.disarmLocked()
}

func (k *Keeper) handlePongTimeout(s *Session, gen, seq uint64) {
	k.mu.Lock()
	if gen != k.generation || seq != k.armSeq || k.pongTimer == nil {
		k.mu.Unlock()
		return
	}
	k.pongTimer = nil
	k.health.PongDeadline = time.Time{}
	k.mu.Unlock()

	k.logger.Warn("No pong received, terminating session",
		zap.Duration("pong_timeout", k.config.PongTimeout))
	k.observer.LivenessTimeout()
	s.Terminate()
}

func (k *Keeper) disarmLocked() {
	if k.pongTimer != nil {
		k.pongTimer.Stop()
		k.pongTimer = nil
	}
	k.health.PongDeadline = time.Time{}
}
