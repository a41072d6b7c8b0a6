// internal/blockchain/node/types.go
package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReconnectExhausted is returned by Keeper.Run when consecutive dials fail
	// more often than the configured limit.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrSessionClosed is returned for calls on a dead session.
	ErrSessionClosed = errors.New("session closed")
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// PendingTransaction is the subset of a mempool transaction the sniper needs.
type PendingTransaction struct {
	Hash  common.Hash
	From  *common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
}

// ConnectionHealth is a snapshot of keep-alive state. Everything except
// Reconnects is reset when a new session is established.
type ConnectionHealth struct {
	Connected         bool          `json:"connected"`
	ConnectedAt       time.Time     `json:"connected_at"`
	LastPingSent      time.Time     `json:"last_ping_sent"`
	PongDeadline      time.Time     `json:"pong_deadline"`
	LastPong          time.Time     `json:"last_pong"`
	KeepAliveInterval time.Duration `json:"keepalive_interval"`
	Reconnects        uint64        `json:"reconnects"`
}

// Listener consumes a live session. Listen blocks until ctx is cancelled or
// the listener gives up; it is started again for every new session.
type Listener interface {
	Name() string
	Listen(ctx context.Context, s *Session) error
}

// Observer receives connection lifecycle signals, typically for metrics.
type Observer interface {
	ConnectionChanged(connected bool)
	Reconnected()
	LivenessTimeout()
}

type nopObserver struct{}

func (nopObserver) ConnectionChanged(bool) {}
func (nopObserver) Reconnected() {}
func (nopObserver) LivenessTimeout() {}
