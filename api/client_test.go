package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC calls from canned results keyed by method
type fakeNode struct {
	mu      sync.Mutex
	results map[string][]interface{}
	calls   map[string]int
	params  map[string]json.RawMessage
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		results: make(map[string][]interface{}),
		calls:   make(map[string]int),
		params:  make(map[string]json.RawMessage),
	}
}

// on queues results; the last one repeats
func (n *fakeNode) on(method string, results ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results[method] = results
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	queued := n.results[req.Method]
	i := n.calls[req.Method]
	n.calls[req.Method]++
	n.params[req.Method] = req.Params
	n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case len(queued) == 0:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found: " + req.Method}
	case i < len(queued):
		resp["result"] = queued[i]
	default:
		resp["result"] = queued[len(queued)-1]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) paramsOf(method string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return string(n.params[method])
}

func withContext(value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value":   value,
	}
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	opts := DefaultOptions()
	opts.RequestsPerSecond = 1000
	opts.Burst = 100
	opts.PollInterval = time.Millisecond
	opts.ConfirmTimeout = 2 * time.Second
	return NewClient(server.URL, opts)
}

func signedTransaction(t *testing.T, blockhash solana.Hash) *solana.Transaction {
	t.Helper()
	payer := solana.NewWallet().PrivateKey
	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer.PublicKey(), true, true),
	}, []byte{2, 0, 0, 0})

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func TestGetAccountData(t *testing.T) {
	node := newFakeNode()
	payload := []byte("validatr-and-some-records")
	node.on("getAccountInfo", withContext(map[string]interface{}{
		"data":       []string{base64.StdEncoding.EncodeToString(payload), "base64"},
		"executable": false,
		"lamports":   1_000,
		"owner":      solana.SystemProgramID.String(),
		"rentEpoch":  0,
	}))
	client := newTestClient(t, node)

	data, err := client.GetAccountData(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestGetAccountDataMissing(t *testing.T) {
	node := newFakeNode()
	node.on("getAccountInfo", withContext(nil))
	client := newTestClient(t, node)

	_, err := client.GetAccountData(context.Background(), solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetBalance(t *testing.T) {
	node := newFakeNode()
	node.on("getBalance", withContext(52_039_280))
	client := newTestClient(t, node)

	balance, err := client.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Equal(t, uint64(52_039_280), balance)
}

func TestGetLatestBlockhash(t *testing.T) {
	hash := solana.Hash(solana.NewWallet().PublicKey())
	node := newFakeNode()
	node.on("getLatestBlockhash", withContext(map[string]interface{}{
		"blockhash":            hash.String(),
		"lastValidBlockHeight": 3090,
	}))
	client := newTestClient(t, node)

	got, err := client.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, hash, got.Hash)
	require.Equal(t, uint64(3090), got.LastValidBlockHeight)
	require.Contains(t, node.paramsOf("getLatestBlockhash"), "finalized")
}

func TestSimulateTransaction(t *testing.T) {
	node := newFakeNode()
	node.on("simulateTransaction",
		withContext(map[string]interface{}{
			"err":           nil,
			"logs":          []string{"Program MarBmsSgKXdrN1egZf5sqe1TMai9K1rChYNDJgjq7aD invoke [1]"},
			"unitsConsumed": 45_210,
		}),
		withContext(map[string]interface{}{
			"err":  map[string]interface{}{"InstructionError": []interface{}{2, map[string]interface{}{"Custom": 6001}}},
			"logs": []string{"Program log: Error"},
		}),
	)
	client := newTestClient(t, node)
	tx := signedTransaction(t, solana.Hash(solana.NewWallet().PublicKey()))

	ok, err := client.SimulateTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, ok.Failed())
	assert.Equal(t, uint64(45_210), ok.UnitsConsumed)
	assert.Len(t, ok.Logs, 1)
	require.Contains(t, node.paramsOf("simulateTransaction"), `"sigVerify":true`)

	failed, err := client.SimulateTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, failed.Failed())

	require.Zero(t, node.callCount("sendTransaction"), "simulation must never broadcast")
}

func TestSendAndConfirmTransaction(t *testing.T) {
	tx := signedTransaction(t, solana.Hash(solana.NewWallet().PublicKey()))
	node := newFakeNode()
	node.on("sendTransaction", tx.Signatures[0].String())
	node.on("getSignatureStatuses",
		withContext([]interface{}{nil}),
		withContext([]interface{}{map[string]interface{}{
			"slot": 10, "confirmations": 1, "err": nil, "confirmationStatus": "confirmed",
		}}),
		withContext([]interface{}{map[string]interface{}{
			"slot": 10, "confirmations": nil, "err": nil, "confirmationStatus": "finalized",
		}}),
	)
	node.on("getBlockHeight", 100)
	client := newTestClient(t, node)

	sig, err := client.SendAndConfirmTransaction(context.Background(), tx, 250)
	require.NoError(t, err)
	require.Equal(t, tx.Signatures[0], sig)
	require.Equal(t, 1, node.callCount("sendTransaction"))
	require.Equal(t, 3, node.callCount("getSignatureStatuses"))
}

func TestSendAndConfirmTransactionFailure(t *testing.T) {
	tx := signedTransaction(t, solana.Hash(solana.NewWallet().PublicKey()))
	node := newFakeNode()
	node.on("sendTransaction", tx.Signatures[0].String())
	node.on("getSignatureStatuses", withContext([]interface{}{map[string]interface{}{
		"slot": 10, "err": map[string]interface{}{"InstructionError": []interface{}{0, "InvalidArgument"}},
		"confirmationStatus": "processed",
	}}))
	client := newTestClient(t, node)

	sig, err := client.SendAndConfirmTransaction(context.Background(), tx, 0)
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.Equal(t, tx.Signatures[0], sig, "signature is reported even when the transaction fails")
}

func TestRPCError(t *testing.T) {
	node := newFakeNode()
	client := newTestClient(t, node)

	_, err := client.GetLatestBlockhash(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "method not found")
}

func TestRateLimiterHonoursContext(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", Options{
		Commitment:        rpc.CommitmentFinalized,
		RequestsPerSecond: 0.001,
		Burst:             1,
	})
	// Drain the single token
	require.True(t, client.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := client.GetBalance(ctx, solana.NewWallet().PublicKey())
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limiter")
}
