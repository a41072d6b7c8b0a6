// internal/blockchain/node/session.go
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionConfig configures a single websocket connection.
type SessionConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// DefaultSessionConfig returns default websocket settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Session is one JSON-RPC 2.0 connection to the node. A single read loop
// routes responses to waiting calls by id and subscription notifications to
// their handlers. Once the connection dies the session is never reused.
type Session struct {
	conn   *websocket.Conn
	config SessionConfig
	logger *zap.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingCall

	subsMu sync.RWMutex
	subs   map[string]*Subscription

	pongMu sync.RWMutex
	onPong func()

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

type pendingCall struct {
	resp chan *jsonrpcMessage
	// set for eth_subscribe so the handler is registered before any
	// notification for the new id is read
	sub *Subscription
}

type jsonrpcMessage struct {
	Version string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type jsonrpcRequest struct {
	Version string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type subscriptionNotification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Dial opens a websocket session to url and starts its read loop.
func Dial(ctx context.Context, url string, config SessionConfig, logger *zap.Logger) (*Session, error) {
	defaults := DefaultSessionConfig()
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, url, config.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s := &Session{
		conn:    conn,
		config:  config,
		logger:  logger,
		pending: make(map[uint64]*pendingCall),
		subs:    make(map[string]*Subscription),
		done:    make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		s.pongMu.RLock()
		fn := s.onPong
		s.pongMu.RUnlock()
		if fn != nil {
			fn()
		}
		return nil
	})

	go s.readLoop()
	return s, nil
}

// SetPongHandler registers fn to run on every pong frame.
func (s *Session) SetPongHandler(fn func()) {
	s.pongMu.Lock()
	s.onPong = fn
	s.pongMu.Unlock()
}

// Done is closed exactly once, when the read loop exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session died, or nil while it is alive.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Ping writes a websocket ping control frame.
func (s *Session) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout))
}

// Terminate drops the connection without a close handshake. Safe to call
// more than once.
func (s *Session) Terminate() {
	_ = s.conn.Close()
}

// Close sends a close frame and then drops the connection.
func (s *Session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteTimeout))
	s.Terminate()
	return err
}

// Call performs a JSON-RPC request and decodes the result into result, which
// may be nil.
func (s *Session) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	resp, err := s.roundTrip(ctx, method, params, nil)
	if err != nil {
		return err
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (s *Session) roundTrip(ctx context.Context, method string, params []interface{}, sub *Subscription) (*jsonrpcMessage, error) {
	select {
	case <-s.done:
		return nil, ErrSessionClosed
	default:
	}

	if params == nil {
		params = []interface{}{}
	}
	id := s.nextID.Add(1)
	call := &pendingCall{resp: make(chan *jsonrpcMessage, 1), sub: sub}

	s.pendingMu.Lock()
	s.pending[id] = call
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	req := jsonrpcRequest{Version: "2.0", ID: id, Method: method, Params: params}
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case resp := <-call.resp:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe issues eth_subscribe with args and routes every notification
// payload to handler. Handlers run on the read loop and must not block.
func (s *Session) Subscribe(ctx context.Context, handler func(json.RawMessage), args ...interface{}) (*Subscription, error) {
	sub := &Subscription{session: s, handler: handler}
	resp, err := s.roundTrip(ctx, "eth_subscribe", args, sub)
	if err != nil {
		return nil, err
	}
	if sub.id == "" {
		// registration happens in the read loop; a missing id means the
		// node answered with something other than a subscription id
		return nil, fmt.Errorf("invalid eth_subscribe result: %s", string(resp.Result))
	}
	return sub, nil
}

// SubscribePendingTransactions streams pending transaction hashes into ch.
// Hashes are dropped when ch is full so the read loop never stalls.
func (s *Session) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (*Subscription, error) {
	return s.Subscribe(ctx, func(raw json.RawMessage) {
		var hash common.Hash
		if err := json.Unmarshal(raw, &hash); err != nil {
			s.logger.Debug("Malformed pending hash", zap.ByteString("payload", raw), zap.Error(err))
			return
		}
		select {
		case ch <- hash:
		default:
			s.logger.Debug("Pending hash dropped, consumer is behind", zap.String("tx_hash", hash.Hex()))
		}
	}, "newPendingTransactions")
}

// LogFilter selects logs for SubscribeLogs.
type LogFilter struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// SubscribeLogs streams logs matching filter into ch. Logs are dropped when ch is full.
func (s *Session) SubscribeLogs(ctx context.Context, filter LogFilter, ch chan<- types.Log) (*Subscription, error) {
	arg := map[string]interface{}{}
	if len(filter.Addresses) > 0 {
		arg["address"] = filter.Addresses
	}
	if len(filter.Topics) > 0 {
		arg["topics"] = filter.Topics
	}
	return s.Subscribe(ctx, func(raw json.RawMessage) {
		var log types.Log
		if err := json.Unmarshal(raw, &log); err != nil {
			s.logger.Warn("Malformed log notification", zap.Error(err))
			return
		}
		select {
		case ch <- log:
		default:
			s.logger.Warn("Log dropped, consumer is behind", zap.String("tx_hash", log.TxHash.Hex()))
		}
	}, "logs", arg)
}

type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Value *hexutil.Big    `json:"value"`
}

// TransactionByHash fetches a transaction body. It returns nil, nil when the
// node no longer knows the hash.
func (s *Session) TransactionByHash(ctx context.Context, hash common.Hash) (*PendingTransaction, error) {
	var raw json.RawMessage
	if err := s.Call(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var tx rpcTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", hash.Hex(), err)
	}
	value := new(big.Int)
	if tx.Value != nil {
		value = tx.Value.ToInt()
	}
	return &PendingTransaction{
		Hash:  tx.Hash,
		From:  tx.From,
		To:    tx.To,
		Data:  tx.Input,
		Value: value,
	}, nil
}

func (s *Session) readLoop() {
	var err error
	defer func() { s.shutdown(err) }()

	for {
		var data []byte
		_, data, err = s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	var msg jsonrpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("Unparseable message", zap.Error(err))
		return
	}

	switch {
	case msg.ID != nil:
		s.pendingMu.Lock()
		call, ok := s.pending[*msg.ID]
		s.pendingMu.Unlock()
		if !ok {
			return
		}
		if call.sub != nil && msg.Error == nil {
			var id string
			if err := json.Unmarshal(msg.Result, &id); err == nil && id != "" {
				call.sub.id = id
				s.subsMu.Lock()
				s.subs[id] = call.sub
				s.subsMu.Unlock()
			}
		}
		select {
		case call.resp <- &msg:
		default:
		}

	case msg.Method == "eth_subscription":
		var n subscriptionNotification
		if err := json.Unmarshal(msg.Params, &n); err != nil {
			s.logger.Debug("Malformed notification", zap.Error(err))
			return
		}
		s.subsMu.RLock()
		sub, ok := s.subs[n.Subscription]
		s.subsMu.RUnlock()
		if ok {
			sub.handler(n.Result)
		}
	}
}

func (s *Session) shutdown(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		_ = s.conn.Close()
		close(s.done)
	})
}

// Subscription is an active eth_subscribe stream on a session.
type Subscription struct {
	session *Session
	handler func(json.RawMessage)
	id      string
	once    sync.Once
}

// ID returns the node assigned subscription id.
func (sub *Subscription) ID() string {
	return sub.id
}

// Unsubscribe stops routing notifications and asks the node to drop the
// stream. It is a no-op on a dead session.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		s := sub.session
		s.subsMu.Lock()
		delete(s.subs, sub.id)
		s.subsMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		defer cancel()
		_ = s.Call(ctx, nil, "eth_unsubscribe", sub.id)
	})
}
