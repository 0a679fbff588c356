package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantle-obs/worker/internal/rpcclient"
	"github.com/mantle-obs/worker/internal/store"
)

type fakeProviders struct {
	id      int64
	client  *rpcclient.Client
	failed  []int64
	blocked bool
}

func (f *fakeProviders) GetPrimary(ctx context.Context) (int64, *rpcclient.Client, error) {
	return f.id, f.client, nil
}

func (f *fakeProviders) Allow(id int64) bool    { return !f.blocked }
func (f *fakeProviders) MarkFailure(id int64)   { f.failed = append(f.failed, id) }
func (f *fakeProviders) RecordSuccess(id int64) {}

type fakeState struct {
	cursor store.LastScannedBlock
	sets   []store.LastScannedBlock
}

func (f *fakeState) GetLastScannedBlock(ctx context.Context) (store.LastScannedBlock, error) {
	return f.cursor, nil
}

func (f *fakeState) SetLastScannedBlock(ctx context.Context, blockNumber uint64, blockHash string, now time.Time) error {
	f.cursor = store.LastScannedBlock{BlockNumber: blockNumber, BlockHash: blockHash, Timestamp: now.Unix()}
	f.sets = append(f.sets, f.cursor)
	return nil
}

type fakeTxs struct {
	inserted  []store.Transaction
	tentative []uint64
}

func (f *fakeTxs) BatchInsert(ctx context.Context, txs []store.Transaction) error {
	f.inserted = append(f.inserted, txs...)
	return nil
}

func (f *fakeTxs) MarkTentative(ctx context.Context, fromBlock uint64) error {
	f.tentative = append(f.tentative, fromBlock)
	return nil
}

type fakeContracts struct{}

func (f *fakeContracts) LookupWatchedByAddress(ctx context.Context, addressLower string) (int64, bool, error) {
	return 0, false, nil
}

// rpcServer dispatches fixed JSON-RPC responses by method.
func rpcServer(t *testing.T, handlers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp, ok := handlers[req.Method]
		if !ok {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
			return
		}
		w.Write([]byte(resp))
	}))
}

func TestRunCycleIngestsBlocksIdempotently(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"eth_blockNumber": `{"jsonrpc":"2.0","id":1,"result":"0x64"}`,
		"eth_getBlockByNumber": `{"jsonrpc":"2.0","id":1,"result":{
			"number":"0x64","hash":"0xblock64","parentHash":"0xblock63","timestamp":"0x10",
			"transactions":[{"hash":"0xaaa","from":"0xfrom","to":"0xto","value":"0x1","gasPrice":"0x2","input":"0x"}]
		}}`,
		"eth_getTransactionReceipt": `{"jsonrpc":"2.0","id":1,"result":{"status":"0x1","gasUsed":"0x5"}}`,
	})
	defer srv.Close()

	providers := &fakeProviders{id: 1, client: rpcclient.New(srv.URL)}
	state := &fakeState{cursor: store.LastScannedBlock{BlockNumber: 99, BlockHash: "0xblock63"}}
	txs := &fakeTxs{}
	p := New(providers, state, txs, &fakeContracts{}, time.Second, 10, nil)

	require.NoError(t, p.RunCycle(context.Background()))
	require.Len(t, txs.inserted, 1)
	assert.Equal(t, uint64(100), state.cursor.BlockNumber)
	assert.Equal(t, "0xblock64", state.cursor.BlockHash)
}

func TestRunCycleDetectsReorgAndRollsBackAsymmetrically(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"eth_blockNumber": `{"jsonrpc":"2.0","id":1,"result":"0x65"}`,
		"eth_getBlockByNumber": `{"jsonrpc":"2.0","id":1,"result":{
			"number":"0x65","hash":"0xblock101","parentHash":"0xsomethingelse","timestamp":"0x10",
			"transactions":[]
		}}`,
	})
	defer srv.Close()

	providers := &fakeProviders{id: 1, client: rpcclient.New(srv.URL)}
	state := &fakeState{cursor: store.LastScannedBlock{BlockNumber: 100, BlockHash: "0xblock100"}}
	txs := &fakeTxs{}
	p := New(providers, state, txs, &fakeContracts{}, time.Second, 10, nil)
	p.lastBlockHash = "0xblock100"

	require.NoError(t, p.RunCycle(context.Background()))
	require.Len(t, txs.tentative, 1)
	assert.Equal(t, uint64(101-10), txs.tentative[0])
	assert.Equal(t, uint64(101-20), state.cursor.BlockNumber)
	assert.Equal(t, "0x0", state.cursor.BlockHash)
	assert.Empty(t, p.lastBlockHash)
}

func TestRunCycleSkipsWhenCircuitOpen(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"eth_blockNumber": `{"jsonrpc":"2.0","id":1,"result":"0x64"}`,
	})
	defer srv.Close()

	providers := &fakeProviders{id: 1, client: rpcclient.New(srv.URL), blocked: true}
	state := &fakeState{cursor: store.LastScannedBlock{BlockNumber: 90}}
	txs := &fakeTxs{}
	p := New(providers, state, txs, &fakeContracts{}, time.Second, 10, nil)

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, txs.inserted)
	assert.Empty(t, state.sets)
}

func TestRunCycleRecoversAfterReorgRollback(t *testing.T) {
	// The cursor a rollback leaves behind carries the 0x0 sentinel
	// hash; the next cycle must ingest without flagging another reorg.
	srv := rpcServer(t, map[string]string{
		"eth_blockNumber": `{"jsonrpc":"2.0","id":1,"result":"0x65"}`,
		"eth_getBlockByNumber": `{"jsonrpc":"2.0","id":1,"result":{
			"number":"0x52","hash":"0xblock82","parentHash":"0xblock81","timestamp":"0x10",
			"transactions":[]
		}}`,
	})
	defer srv.Close()

	providers := &fakeProviders{id: 1, client: rpcclient.New(srv.URL)}
	state := &fakeState{cursor: store.LastScannedBlock{BlockNumber: 81, BlockHash: "0x0"}}
	txs := &fakeTxs{}
	p := New(providers, state, txs, &fakeContracts{}, time.Second, 1, nil)

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, txs.tentative)
	assert.Equal(t, uint64(82), state.cursor.BlockNumber)
	assert.Equal(t, "0xblock82", state.cursor.BlockHash)
	assert.Equal(t, "0xblock82", p.lastBlockHash)
}

func TestRunCycleNoOpWhenTipNotAhead(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"eth_blockNumber": `{"jsonrpc":"2.0","id":1,"result":"0x64"}`,
	})
	defer srv.Close()

	providers := &fakeProviders{id: 1, client: rpcclient.New(srv.URL)}
	state := &fakeState{cursor: store.LastScannedBlock{BlockNumber: 100, BlockHash: "0xblock64"}}
	txs := &fakeTxs{}
	p := New(providers, state, txs, &fakeContracts{}, time.Second, 10, nil)

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, txs.inserted)
	assert.Empty(t, state.sets)
}

func TestNextIntervalSwitchesOnCatchUp(t *testing.T) {
	p := New(&fakeProviders{}, &fakeState{}, &fakeTxs{}, &fakeContracts{}, time.Second, 10, nil)
	assert.Equal(t, 2*time.Second, p.NextInterval(2*time.Second, 500*time.Millisecond))

	p.catchingUp = true
	assert.Equal(t, 500*time.Millisecond, p.NextInterval(2*time.Second, 500*time.Millisecond))
}
