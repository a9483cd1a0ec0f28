package substrate

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

var (
	// errDropConnection makes the fake node close the connection instead of answering.
	errDropConnection = errors.New("drop connection")
	// errNoReply makes the fake node leave the request unanswered on a live connection.
	errNoReply = errors.New("no reply")
)

// fakeSubscription is returned by handlers of subscription methods.
type fakeSubscription struct {
	method        string
	notifications []any
}

type fakeHandler func(params []json.RawMessage) (any, error)

type fakeRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode is a minimal subtensor JSON-RPC endpoint.
type fakeNode struct {
	t      testing.TB
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]fakeHandler
	calls    map[string]int
	nextSub  int
	dials    int

	// storageAt records the block hash of every state_queryStorageAt request, "" for the best block.
	storageAt []string
}

func newFakeNode(t testing.TB) *fakeNode {
	n := &fakeNode{
		t:        t,
		handlers: make(map[string]fakeHandler),
		calls:    make(map[string]int),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) Endpoint() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) Handle(method string, h fakeHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) StorageAt() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.storageAt...)
}

func (n *fakeNode) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n.mu.Lock()
	n.dials++
	n.mu.Unlock()

	var writeMu sync.Mutex
	write := func(msg any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(msg)
	}

	for {
		var req fakeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		n.mu.Lock()
		n.calls[req.Method]++
		h, ok := n.handlers[req.Method]
		n.mu.Unlock()

		if !ok {
			if strings.Contains(req.Method, "unsubscribe") || strings.Contains(req.Method, "unwatch") {
				write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
				continue
			}
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{
				"code": -32601, "message": "Method not found",
			}})
			continue
		}

		result, err := h(req.Params)
		var rpcErr *rpcError
		switch {
		case errors.Is(err, errDropConnection):
			return
		case errors.Is(err, errNoReply):
			continue
		case errors.As(err, &rpcErr):
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": rpcErr})
			continue
		case err != nil:
			n.t.Errorf("handler %s: %v", req.Method, err)
			return
		}

		sub, ok := result.(fakeSubscription)
		if !ok {
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
			continue
		}
		n.mu.Lock()
		n.nextSub++
		id := fmt.Sprintf("sub-%d", n.nextSub)
		n.mu.Unlock()
		write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": id})
		for _, item := range sub.notifications {
			write(map[string]any{
				"jsonrpc": "2.0",
				"method":  sub.method,
				"params":  map[string]any{"subscription": id, "result": item},
			})
		}
	}
}

func hexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func testHash(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, hashSize)
}

func testHeader(height uint64, parent byte) header {
	h := header{
		ParentHash:     hexBytes(testHash(parent)),
		Number:         fmt.Sprintf("0x%x", height),
		StateRoot:      hexBytes(testHash(0xee)),
		ExtrinsicsRoot: hexBytes(testHash(0xdd)),
	}
	h.Digest.Logs = []string{"0x0642414245"}
	return h
}

// withRuntime registers the handlers every signing client needs.
func (n *fakeNode) withRuntime(genesis []byte) {
	n.Handle("state_getRuntimeVersion", func([]json.RawMessage) (any, error) {
		return map[string]any{"specVersion": 201, "transactionVersion": 1, "specName": "node-subtensor"}, nil
	})
	n.Handle("chain_getBlockHash", func(params []json.RawMessage) (any, error) {
		var height uint64
		if err := json.Unmarshal(params[0], &height); err != nil {
			return nil, err
		}
		if height == 0 {
			return hexBytes(genesis), nil
		}
		return hexBytes(testHash(byte(height))), nil
	})
}

// withStorage serves state_queryStorageAt from a key/value map.
func (n *fakeNode) withStorage(values map[string][]byte) {
	n.Handle("state_queryStorageAt", func(params []json.RawMessage) (any, error) {
		var keys []string
		if err := json.Unmarshal(params[0], &keys); err != nil {
			return nil, err
		}
		var at string
		if len(params) > 1 {
			if err := json.Unmarshal(params[1], &at); err != nil {
				return nil, err
			}
		}
		n.mu.Lock()
		n.storageAt = append(n.storageAt, at)
		n.mu.Unlock()
		changes := make([][2]any, 0, len(keys))
		for _, k := range keys {
			if v, ok := values[normalizeHex(k)]; ok {
				changes = append(changes, [2]any{k, hexBytes(v)})
			} else {
				changes = append(changes, [2]any{k, nil})
			}
		}
		return []map[string]any{{"block": hexBytes(testHash(9)), "changes": changes}}, nil
	})
}
