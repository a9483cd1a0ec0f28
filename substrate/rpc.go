package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readTimeout      = 60 * time.Second
	pingInterval     = 20 * time.Second
	writeTimeout     = 10 * time.Second
	notificationsBuf = 64
	maxOrphans       = 16
)

var ErrConnectionClosed = errors.New("rpc connection closed")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type notificationParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// rpcMessage is either a response (ID set) or a subscription notification (Method set).
type rpcMessage struct {
	ID     *uint64             `json:"id"`
	Result json.RawMessage     `json:"result"`
	Error  *rpcError           `json:"error"`
	Method string              `json:"method"`
	Params *notificationParams `json:"params"`
}

// rpcConn is a JSON-RPC 2.0 client over a single websocket.
// Calls may be issued concurrently; responses and notifications are routed by one read loop.
type rpcConn struct {
	endpoint string
	conn     *websocket.Conn
	logger   *zap.Logger

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan *rpcMessage
	subs    map[string]*rpcSubscription
	// notifications that arrived before their subscription id was known
	orphans map[string][]json.RawMessage

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

func dialRPC(ctx context.Context, endpoint string, logger *zap.Logger) (*rpcConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	c := &rpcConn{
		endpoint: endpoint,
		conn:     conn,
		logger:   logger,
		pending:  make(map[uint64]chan *rpcMessage),
		subs:     make(map[string]*rpcSubscription),
		orphans:  make(map[string][]json.RawMessage),
		closed:   make(chan struct{}),
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go c.readLoop()
	go c.keepalive()
	return c, nil
}

func (c *rpcConn) readLoop() {
	for {
		msg := &rpcMessage{}
		if err := c.conn.ReadJSON(msg); err != nil {
			c.fail(fmt.Errorf("reading from %s: %w", c.endpoint, err))
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch {
		case msg.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case msg.Params != nil:
			c.dispatch(msg.Method, msg.Params)
		}
	}
}

func (c *rpcConn) dispatch(method string, params *notificationParams) {
	key := string(bytes.TrimSpace(params.Subscription))

	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[key]
	if !ok {
		if len(c.orphans) >= maxOrphans {
			c.orphans = make(map[string][]json.RawMessage)
		}
		if len(c.orphans[key]) < maxOrphans {
			c.orphans[key] = append(c.orphans[key], params.Result)
		}
		return
	}
	sub.deliver(method, params.Result)
}

func (c *rpcConn) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.fail(fmt.Errorf("pinging %s: %w", c.endpoint, err))
				return
			}
		}
	}
}

func (c *rpcConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *rpcConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Err returns the reason the connection closed, nil while it is alive.
func (c *rpcConn) Err() error {
	if !c.isClosed() {
		return nil
	}
	return c.err
}

func (c *rpcConn) Close() error {
	c.fail(ErrConnectionClosed)
	return nil
}

// call issues method and decodes the result into result (when not nil).
func (c *rpcConn) call(ctx context.Context, method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	ch := make(chan *rpcMessage, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if c.isClosed() {
		return c.err
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.fail(fmt.Errorf("writing to %s: %w", c.endpoint, err))
		return c.err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return c.err
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
		return nil
	}
}

// subscribe starts a subscription. Notifications are delivered on the returned subscription's channel.
func (c *rpcConn) subscribe(ctx context.Context, method, unsubscribeMethod string, params ...any) (*rpcSubscription, error) {
	var id json.RawMessage
	if err := c.call(ctx, method, &id, params...); err != nil {
		return nil, err
	}
	sub := &rpcSubscription{
		conn:        c,
		id:          id,
		key:         string(bytes.TrimSpace(id)),
		unsubscribe: unsubscribeMethod,
		ch:          make(chan notification, notificationsBuf),
	}

	c.mu.Lock()
	c.subs[sub.key] = sub
	for _, early := range c.orphans[sub.key] {
		sub.deliver(method, early)
	}
	delete(c.orphans, sub.key)
	c.mu.Unlock()
	return sub, nil
}

type notification struct {
	method string
	result json.RawMessage
}

type rpcSubscription struct {
	conn        *rpcConn
	id          json.RawMessage
	key         string
	unsubscribe string
	ch          chan notification
}

// deliver must be called with conn.mu held.
func (s *rpcSubscription) deliver(method string, result json.RawMessage) {
	select {
	case s.ch <- notification{method: method, result: result}:
	default:
		s.conn.logger.Warn("dropping subscription notification, consumer is too slow", zap.String("subscription", s.key))
	}
}

func (s *rpcSubscription) Notifications() <-chan notification {
	return s.ch
}

// Closed is closed when the underlying connection is gone.
func (s *rpcSubscription) Closed() <-chan struct{} {
	return s.conn.closed
}

func (s *rpcSubscription) Unsubscribe(ctx context.Context) error {
	s.conn.mu.Lock()
	delete(s.conn.subs, s.key)
	s.conn.mu.Unlock()
	if s.conn.isClosed() {
		return nil
	}
	var ok bool
	return s.conn.call(ctx, s.unsubscribe, &ok, s.id)
}
