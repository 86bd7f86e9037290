package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/multichain-gas-ea/internal/circuitbreaker"
	"github.com/yourorg/multichain-gas-ea/internal/fetch"
	"github.com/yourorg/multichain-gas-ea/internal/history"
	"github.com/yourorg/multichain-gas-ea/internal/metrics"
	"github.com/yourorg/multichain-gas-ea/internal/model"
	"github.com/yourorg/multichain-gas-ea/internal/registry"
	"github.com/yourorg/multichain-gas-ea/internal/types"
)

var cycleNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stubFetcher answers per chain key, optionally after a delay
type stubFetcher struct {
	mu      sync.Mutex
	fees    map[string]float64
	errs    map[string]error
	delay   map[string]time.Duration
	calls   map[string]int
	running atomic.Int32
	peak    atomic.Int32
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		fees:  make(map[string]float64),
		errs:  make(map[string]error),
		delay: make(map[string]time.Duration),
		calls: make(map[string]int),
	}
}

func (s *stubFetcher) FetchFees(ctx context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls[chain.Key]++
	fee, err, delay := s.fees[chain.Key], s.errs[chain.Key], s.delay[chain.Key]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.FeeSnapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return model.FeeSnapshot{}, err
	}
	return model.NewFeeSnapshot(chain.ID, cycleNow, fee*0.85, fee, fee*1.2, fee*0.8), nil
}

func (s *stubFetcher) callCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func testChain(key string, id int64, fm types.FeeModel) types.ChainDescriptor {
	return types.ChainDescriptor{
		Key:         key,
		ID:          id,
		DisplayName: key,
		Symbol:      "ETH",
		Kind:        types.KindMainnet,
		FeeModel:    fm,
		Endpoint:    "http://node.invalid/" + key,
	}
}

func testPlaceholders() []types.Placeholder {
	return []types.Placeholder{
		{Key: "solana", DisplayName: "Solana", Symbol: "SOL", Kind: types.KindMainnet},
		{Key: "bitcoin", DisplayName: "Bitcoin", Symbol: "BTC", Kind: types.KindMainnet},
	}
}

func testRegistry(t *testing.T, chains ...types.ChainDescriptor) *registry.Registry {
	t.Helper()
	reg, err := registry.New(chains, testPlaceholders())
	require.NoError(t, err)
	return reg
}

func testStore() *history.Store {
	flat := func(int64) float64 { return 10 }
	return history.NewStore(history.DefaultCapacity,
		history.ConstantSeeder(flat, history.DefaultCapacity, history.DefaultInterval),
		history.WithClock(func() time.Time { return cycleNow.Add(-time.Minute) }),
	)
}

func newTestOrchestrator(reg ChainSource, f Fetcher, store *history.Store, opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return cycleNow })}, opts...)
	return New(reg, f, store, opts...)
}

func TestRunCycle_AllChainsSucceed(t *testing.T) {
	f := newStubFetcher()
	f.fees["ethereum"] = 20
	f.fees["bsc"] = 3
	reg := testRegistry(t,
		testChain("ethereum", 1, types.FeeModelEIP1559),
		testChain("bsc", 56, types.FeeModelLegacy),
	)
	store := testStore()

	results, err := newTestOrchestrator(reg, f, store).RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	eth := results["ethereum"]
	assert.True(t, eth.Supported)
	assert.Empty(t, eth.Error)
	assert.Equal(t, int64(1), eth.ChainID)
	require.True(t, eth.HasFees())
	assert.Equal(t, 20.0, *eth.Standard)
	assert.Equal(t, 16.0, *eth.SuggestBaseFee)
	assert.Equal(t, cycleNow.UnixMilli(), eth.Timestamp)
	require.Len(t, eth.History, history.DefaultCapacity)
	assert.Equal(t, 20.0, eth.History[len(eth.History)-1].Standard, "fresh snapshot is the newest history point")

	assert.Equal(t, 3.0, *results["bsc"].Standard)
	assert.Equal(t, history.DefaultCapacity, store.Len(56))
}

func TestRunCycle_FanOutIsolation(t *testing.T) {
	f := newStubFetcher()
	f.errs["arbitrum"] = errors.New("dial tcp: connection refused")
	f.fees["base"] = 0.01
	reg := testRegistry(t,
		testChain("arbitrum", 42161, types.FeeModelEIP1559),
		testChain("base", 8453, types.FeeModelEIP1559),
	)

	results, err := newTestOrchestrator(reg, f, testStore()).RunCycle(context.Background())
	require.NoError(t, err, "a failing chain must not fail the cycle")

	b := results["base"]
	assert.Empty(t, b.Error)
	assert.Equal(t, 0.01, *b.Standard)

	a := results["arbitrum"]
	assert.True(t, a.Supported)
	assert.True(t, a.Failed())
	assert.Contains(t, a.Error, "connection refused")
	require.True(t, a.HasFees(), "failed chains report explicit zeros")
	assert.Equal(t, 0.0, *a.Slow)
	assert.Equal(t, 0.0, *a.Standard)
	assert.Equal(t, 0.0, *a.Fast)
	assert.Equal(t, 0.0, *a.SuggestBaseFee)
	assert.Equal(t, cycleNow.UnixMilli(), a.Timestamp)
}

func TestRunCycle_FailureKeepsPreviousHistory(t *testing.T) {
	f := newStubFetcher()
	f.fees["polygon"] = 42
	reg := testRegistry(t, testChain("polygon", 137, types.FeeModelEIP1559))
	store := testStore()
	o := newTestOrchestrator(reg, f, store)

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	before := store.Get(137)

	f.mu.Lock()
	f.errs["polygon"] = errors.New("429 too many requests")
	f.mu.Unlock()

	results, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	p := results["polygon"]
	assert.True(t, p.Failed())
	assert.Equal(t, model.Points(before), p.History)
	assert.Equal(t, 42.0, p.History[len(p.History)-1].Standard)
	assert.Equal(t, before, store.Get(137), "a failed poll must not touch the stored history")
}

func TestRunCycle_PlaceholdersAlwaysPresent(t *testing.T) {
	f := newStubFetcher()
	f.errs["ethereum"] = errors.New("boom")
	reg := testRegistry(t, testChain("ethereum", 1, types.FeeModelEIP1559))

	results, err := newTestOrchestrator(reg, f, testStore()).RunCycle(context.Background())
	require.NoError(t, err)

	sol, ok := results["solana"]
	require.True(t, ok)
	assert.False(t, sol.Supported)
	assert.Equal(t, model.StatusNotSupported, sol.Status)
	assert.Equal(t, "SOL", sol.Symbol)
	assert.False(t, sol.HasFees())
	assert.Nil(t, sol.History)

	raw, err := json.Marshal(sol)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, k := range []string{"slow", "standard", "fast", "suggestBaseFee", "chainId", "history", "error"} {
		assert.NotContains(t, fields, k)
	}
	assert.Equal(t, false, fields["supported"])
	assert.Equal(t, "not-supported", fields["status"])

	assert.False(t, results["bitcoin"].Supported)
}

func TestRunCycle_RunsConcurrently(t *testing.T) {
	f := newStubFetcher()
	chains := make([]types.ChainDescriptor, 0, 5)
	for i := 1; i <= 5; i++ {
		key := fmt.Sprintf("chain-%d", i)
		f.fees[key] = float64(i)
		f.delay[key] = 100 * time.Millisecond
		chains = append(chains, testChain(key, int64(i), types.FeeModelEIP1559))
	}
	reg := testRegistry(t, chains...)

	start := time.Now()
	results, err := newTestOrchestrator(reg, f, testStore()).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 400*time.Millisecond, "cycle latency is bounded by the slowest chain, not the sum")
	assert.Equal(t, int32(5), f.peak.Load())
	assert.Len(t, results, 7)
}

func TestRunCycle_SlowChainDoesNotBlockOthers(t *testing.T) {
	f := newStubFetcher()
	f.fees["fast"] = 1
	f.fees["stuck"] = 1
	f.delay["stuck"] = 5 * time.Second
	reg := testRegistry(t,
		testChain("fast", 1, types.FeeModelLegacy),
		testChain("stuck", 2, types.FeeModelLegacy),
	)

	o := newTestOrchestrator(reg, f, testStore(), WithCycleTimeout(150*time.Millisecond))
	start := time.Now()
	results, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, results["fast"].Error)
	assert.Contains(t, results["stuck"].Error, context.DeadlineExceeded.Error())
}

func TestRunCycle_BreakerShortCircuits(t *testing.T) {
	f := newStubFetcher()
	f.errs["optimism"] = errors.New("503 service unavailable")
	reg := testRegistry(t, testChain("optimism", 10, types.FeeModelEIP1559))
	breaker := circuitbreaker.New(circuitbreaker.Options{FailureThreshold: 2, CooldownPeriod: time.Hour})
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	o := newTestOrchestrator(reg, f, testStore(), WithBreaker(breaker), WithMetrics(m))
	for i := 0; i < 2; i++ {
		_, err := o.RunCycle(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, breaker.GetState("optimism"))

	results, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, f.callCount("optimism"), "open circuit skips the node")
	op := results["optimism"]
	assert.True(t, op.Supported)
	assert.Contains(t, op.Error, "circuit open")
	assert.Len(t, op.History, history.DefaultCapacity)
	assert.Equal(t, 1.0, fetchCount(t, promReg, "optimism", metrics.OutcomeCircuitOpen))
	assert.Equal(t, 2.0, fetchCount(t, promReg, "optimism", metrics.OutcomeError))
}

func fetchCount(t *testing.T, g prometheus.Gatherer, chain, outcome string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "gas_chain_fetches_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["chain"] == chain && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRunCycle_CallerCancellationKeepsBreakerClosed(t *testing.T) {
	f := newStubFetcher()
	f.fees["bsc"] = 3
	f.delay["bsc"] = 200 * time.Millisecond
	reg := testRegistry(t, testChain("bsc", 56, types.FeeModelLegacy))
	breaker := circuitbreaker.New(circuitbreaker.Options{FailureThreshold: 1, CooldownPeriod: time.Hour})
	promReg := prometheus.NewRegistry()

	o := newTestOrchestrator(reg, f, testStore(), WithBreaker(breaker), WithMetrics(metrics.New(promReg)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	results, err := o.RunCycle(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, results["bsc"].Error)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.GetState("bsc"), "caller cancellation is not a node failure")
	assert.Equal(t, 1.0, fetchCount(t, promReg, "bsc", metrics.OutcomeCancelled))
	assert.Equal(t, 0.0, fetchCount(t, promReg, "bsc", metrics.OutcomeError))

	results, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results["bsc"].Error)
	assert.Equal(t, 3.0, *results["bsc"].Standard)
}

func TestRunCycle_CycleTimeoutCountsAgainstChain(t *testing.T) {
	f := newStubFetcher()
	f.fees["bsc"] = 3
	f.delay["bsc"] = time.Second
	reg := testRegistry(t, testChain("bsc", 56, types.FeeModelLegacy))
	breaker := circuitbreaker.New(circuitbreaker.Options{FailureThreshold: 1, CooldownPeriod: time.Hour})

	o := newTestOrchestrator(reg, f, testStore(), WithBreaker(breaker), WithCycleTimeout(20*time.Millisecond))
	results, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Contains(t, results["bsc"].Error, context.DeadlineExceeded.Error())
	assert.Equal(t, circuitbreaker.StateOpen, breaker.GetState("bsc"))
}

type fetcherFunc func(ctx context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error)

func (f fetcherFunc) FetchFees(ctx context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error) {
	return f(ctx, chain)
}

func TestRunCycle_AnomaliesAreAdvisory(t *testing.T) {
	inverted := fetcherFunc(func(_ context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error) {
		return model.NewFeeSnapshot(chain.ID, cycleNow, 12, 10, 11, 8), nil
	})
	reg := testRegistry(t, testChain("avalanche", 43114, types.FeeModelEIP1559))
	promReg := prometheus.NewRegistry()

	results, err := newTestOrchestrator(reg, inverted, testStore(), WithMetrics(metrics.New(promReg))).RunCycle(context.Background())
	require.NoError(t, err)

	a := results["avalanche"]
	assert.Empty(t, a.Error, "inverted tiers are reported as fetched")
	assert.Equal(t, 12.0, *a.Slow)
	assert.Equal(t, 11.0, *a.Fast)

	families, err := promReg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() != "gas_fee_anomalies_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == "tier_inversion" {
					found = true
					assert.Equal(t, 1.0, m.GetCounter().GetValue())
				}
			}
		}
	}
	assert.True(t, found, "tier inversion should be counted")
}

func TestRunCycle_NoRegistry(t *testing.T) {
	_, err := New(nil, newStubFetcher(), testStore()).RunCycle(context.Background())
	assert.True(t, errors.Is(err, ErrNoRegistry))

	var o *Orchestrator
	_, err = o.RunCycle(context.Background())
	assert.True(t, errors.Is(err, ErrNoRegistry))
}

func TestRunCycle_WithFeeFetcher(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Method != fetch.MethodGasPrice {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x12a05f200"}`, req.ID)
	}))
	defer node.Close()

	legacy := testChain("bsc", 56, types.FeeModelLegacy)
	legacy.Endpoint = node.URL
	eip := testChain("ethereum", 1, types.FeeModelEIP1559)
	eip.Endpoint = node.URL
	reg := testRegistry(t, legacy, eip)

	fetcher := fetch.NewFeeFetcher(
		fetch.NewRPCClient(fetch.ClientOptions{Timeout: 2 * time.Second}),
		fetch.WithClock(func() time.Time { return cycleNow }),
	)

	results, err := newTestOrchestrator(reg, fetcher, testStore()).RunCycle(context.Background())
	require.NoError(t, err)

	for _, key := range []string{"bsc", "ethereum"} {
		r := results[key]
		require.Empty(t, r.Error, key)
		assert.Equal(t, 5.0, *r.Standard, key)
		assert.Equal(t, 4.25, *r.Slow, key)
		assert.Equal(t, 6.0, *r.Fast, key)
		assert.Equal(t, 0.0, *r.SuggestBaseFee, key)
	}
}
