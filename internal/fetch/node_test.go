package fetch

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// nodeReply is how a fake node answers one method
type nodeReply struct {
	status int
	result interface{}
	err    *RPCError
	raw    string
}

// fakeNode is an httptest JSON-RPC server answering by method name
type fakeNode struct {
	*httptest.Server

	mu      sync.Mutex
	replies map[string]nodeReply
	calls   map[string]int
	params  map[string][]json.RawMessage
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		replies: make(map[string]nodeReply),
		calls:   make(map[string]int),
		params:  make(map[string][]json.RawMessage),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.Close)
	return n
}

func (n *fakeNode) on(method string, reply nodeReply) *fakeNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies[method] = reply
	return n
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) lastParams(method string) []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.params[method]
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	n.params[req.Method] = req.Params
	reply, ok := n.replies[req.Method]
	n.mu.Unlock()

	if !ok {
		reply = nodeReply{err: &RPCError{Code: -32601, Message: "the method " + req.Method + " does not exist/is not available"}}
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.status != 0 {
		w.WriteHeader(reply.status)
	}
	if reply.raw != "" {
		_, _ = w.Write([]byte(reply.raw))
		return
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if reply.err != nil {
		resp["error"] = reply.err
	} else {
		resp["result"] = reply.result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func gwei(v float64) *hexutil.Big {
	f := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(1e9))
	i, _ := f.Int(nil)
	return (*hexutil.Big)(i)
}

func feeHistoryReply(baseFees []float64, rewards [][]float64) nodeReply {
	base := make([]*hexutil.Big, len(baseFees))
	for i, b := range baseFees {
		base[i] = gwei(b)
	}
	reward := make([][]*hexutil.Big, len(rewards))
	for i, row := range rewards {
		reward[i] = make([]*hexutil.Big, len(row))
		for j, v := range row {
			reward[i][j] = gwei(v)
		}
	}
	return nodeReply{result: map[string]interface{}{
		"oldestBlock":   hexutil.Uint64(100),
		"baseFeePerGas": base,
		"gasUsedRatio":  []float64{0.5, 0.5, 0.5, 0.5, 0.5},
		"reward":        reward,
	}}
}

func gasPriceReply(weiAmount int64) nodeReply {
	return nodeReply{result: (*hexutil.Big)(big.NewInt(weiAmount))}
}

func testClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:      2 * time.Second,
		RetryMax:     0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}
