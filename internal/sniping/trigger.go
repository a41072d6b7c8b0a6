// internal/sniping/trigger.go
package sniping

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/mempool"
)

// SnipeIntent is produced at most once per pending transaction hash.
type SnipeIntent struct {
	Token      common.Address
	TxHash     common.Hash
	Method     string
	DetectedAt time.Time
}

// Trigger matches decoded liquidity calls against the target token.
type Trigger struct {
	target common.Address
	seen   *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewTrigger creates a trigger that remembers matched hashes for ttl.
func NewTrigger(target common.Address, ttl time.Duration, logger *zap.Logger) *Trigger {
	return &Trigger{
		target: target,
		seen:   cache.New(ttl, ttl/2),
		logger: logger.Named("trigger"),
		now:    time.Now,
	}
}

// Target returns the watched token.
func (t *Trigger) Target() common.Address {
	return t.target
}

// Evaluate returns an intent when call targets the watched token and hash has
// not matched before. Safe for concurrent use.
func (t *Trigger) Evaluate(hash common.Hash, call *mempool.DecodedCall) *SnipeIntent {
	intent, _ := t.evaluate(hash, call)
	return intent
}

// evaluate also reports whether a match was suppressed as a duplicate.
func (t *Trigger) evaluate(hash common.Hash, call *mempool.DecodedCall) (*SnipeIntent, bool) {
	if call == nil || len(call.Args) == 0 {
		return nil, false
	}
	token, ok := tokenArg(call.Args[0])
	if !ok || token.Hex() != t.target.Hex() {
		return nil, false
	}

	// Add fails if the key exists, which makes check-and-mark atomic
	if err := t.seen.Add(hash.Hex(), struct{}{}, cache.DefaultExpiration); err != nil {
		t.logger.Debug("Duplicate match ignored", zap.String("tx_hash", hash.Hex()))
		return nil, true
	}

	intent := &SnipeIntent{
		Token:      token,
		TxHash:     hash,
		Method:     call.Method,
		DetectedAt: t.now(),
	}
	t.logger.Info("Target liquidity detected",
		zap.String("tx_hash", hash.Hex()),
		zap.String("method", call.Method),
		zap.String("token", token.Hex()))
	return intent, false
}

func tokenArg(arg interface{}) (common.Address, bool) {
	switch v := arg.(type) {
	case common.Address:
		return v, true
	case *common.Address:
		if v == nil {
			return common.Address{}, false
		}
		return *v, true
	case string:
		if !common.IsHexAddress(v) {
			return common.Address{}, false
		}
		return common.HexToAddress(v), true
	default:
		return common.Address{}, false
	}
}
