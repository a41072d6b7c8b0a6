// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Discovery events
	PairCreated   EventType = "pair.created"
	SnipeDetected EventType = "snipe.detected"

	// Submission events
	OrderState EventType = "order.state"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"time"`
}

// NewBaseEvent stamps an event of type t with the current time.
func NewBaseEvent(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// PairCreatedEvent is emitted for every factory PairCreated log.
type PairCreatedEvent struct {
	BaseEvent
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Pair        string `json:"pair"`
	Index       string `json:"index"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
}

// SnipeDetectedEvent is emitted when a pending liquidity call for the
// target token is seen.
type SnipeDetectedEvent struct {
	BaseEvent
	Token  string `json:"token"`
	TxHash string `json:"tx_hash"`
	Method string `json:"method"`
	DryRun bool   `json:"dry_run"`
}

// OrderStateEvent is emitted on every submission state transition.
type OrderStateEvent struct {
	BaseEvent
	Direction string `json:"direction"`
	Token     string `json:"token"`
	State     string `json:"state"`
	Attempt   uint   `json:"attempt"`
	TxHash    string `json:"tx_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}
