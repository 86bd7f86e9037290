// Package aggregate runs one polling cycle across every registered chain and
// merges the per-chain outcomes into a single result map.
package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/multichain-gas-ea/internal/circuitbreaker"
	"github.com/yourorg/multichain-gas-ea/internal/history"
	"github.com/yourorg/multichain-gas-ea/internal/metrics"
	"github.com/yourorg/multichain-gas-ea/internal/model"
	"github.com/yourorg/multichain-gas-ea/internal/otel"
	"github.com/yourorg/multichain-gas-ea/internal/types"
	"github.com/yourorg/multichain-gas-ea/internal/validation"
)

// DefaultCycleTimeout bounds a whole fan-out
const DefaultCycleTimeout = 20 * time.Second

// ErrNoRegistry is returned when the orchestrator has no chain source to read
var ErrNoRegistry = errors.New("chain registry unavailable")

// ErrCycleTimeout is the cause attached when a cycle exceeds its bound
var ErrCycleTimeout = errors.New("aggregation cycle timed out")

// Fetcher produces the current fees for one chain
type Fetcher interface {
	FetchFees(ctx context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error)
}

// ChainSource lists the chains polled each cycle
type ChainSource interface {
	ListChains() []types.ChainDescriptor
	Placeholders() []types.Placeholder
}

// Orchestrator fans a cycle out to every chain and joins the results.
// It holds no per-cycle state; the history store is the only state it touches.
type Orchestrator struct {
	chains       ChainSource
	fetcher      Fetcher
	store        *history.Store
	breaker      *circuitbreaker.Breaker
	metrics      *metrics.Metrics
	cycleTimeout time.Duration
	inspect      validation.Options
	now          func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithBreaker consults b before every chain fetch
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(o *Orchestrator) {
		o.breaker = b
	}
}

// WithMetrics attaches Prometheus collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithCycleTimeout bounds each RunCycle; zero disables the bound
func WithCycleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.cycleTimeout = d
	}
}

// WithAnomalyOptions tunes the advisory inspection of fetched snapshots
func WithAnomalyOptions(opts validation.Options) Option {
	return func(o *Orchestrator) {
		o.inspect = opts
	}
}

// WithClock overrides the time source used for entry timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator
func New(chains ChainSource, fetcher Fetcher, store *history.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chains:       chains,
		fetcher:      fetcher,
		store:        store,
		cycleTimeout: DefaultCycleTimeout,
		inspect:      validation.DefaultOptions(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type chainOutcome struct {
	key    string
	result model.ChainResult
}

// RunCycle polls every registered chain concurrently and returns once all of
// them have settled. Per-chain failures are reported inside the map; the
// returned error is reserved for failures of the cycle itself.
func (o *Orchestrator) RunCycle(ctx context.Context) (map[string]model.ChainResult, error) {
	if o == nil || o.chains == nil || o.fetcher == nil || o.store == nil {
		return nil, ErrNoRegistry
	}

	ctx, span := otel.Tracer().Start(ctx, "aggregate.RunCycle")
	defer span.End()

	if o.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, o.cycleTimeout, ErrCycleTimeout)
		defer cancel()
	}

	start := time.Now()
	chains := o.chains.ListChains()
	placeholders := o.chains.Placeholders()
	span.SetAttributes(attribute.Int("cycle.chains", len(chains)))

	outcomes := make(chan chainOutcome, len(chains))
	var wg sync.WaitGroup
	for _, chain := range chains {
		wg.Add(1)
		go func(chain types.ChainDescriptor) {
			defer wg.Done()
			outcomes <- chainOutcome{key: chain.Key, result: o.pollChain(ctx, chain)}
		}(chain)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make(map[string]model.ChainResult, len(chains)+len(placeholders))
	failed := 0
	for out := range outcomes {
		if out.result.Failed() {
			failed++
		}
		results[out.key] = out.result
	}

	for _, p := range placeholders {
		if _, taken := results[p.Key]; taken {
			continue
		}
		results[p.Key] = o.placeholderResult(p)
	}

	elapsed := time.Since(start)
	o.metrics.ObserveCycle(elapsed)
	span.SetAttributes(attribute.Int("cycle.failed", failed))

	logrus.WithFields(logrus.Fields{
		"chains":       len(chains),
		"failed":       failed,
		"placeholders": len(placeholders),
		"duration":     elapsed,
	}).Info("Aggregation cycle completed")

	return results, nil
}

// pollChain runs the seed, fetch and append steps for one chain
func (o *Orchestrator) pollChain(ctx context.Context, chain types.ChainDescriptor) model.ChainResult {
	log := logrus.WithFields(logrus.Fields{"chain": chain.Key, "chain_id": chain.ID})
	o.store.EnsureSeeded(chain.ID)

	base := model.ChainResult{
		ChainID:   chain.ID,
		ChainName: chain.DisplayName,
		Symbol:    chain.Symbol,
		Type:      string(chain.Kind),
		Supported: true,
	}

	if o.breaker != nil {
		if err := o.breaker.Allow(chain.Key); err != nil {
			o.metrics.ObserveFetch(chain.Key, metrics.OutcomeCircuitOpen, 0)
			log.WithError(err).Debug("Skipping chain with open circuit")
			return o.failureResult(base, err)
		}
	}

	start := time.Now()
	snapshot, err := o.fetcher.FetchFees(ctx, chain)
	elapsed := time.Since(start)

	if err != nil {
		if callerCancelled(ctx) {
			if o.breaker != nil {
				o.breaker.Abandon(chain.Key)
			}
			o.metrics.ObserveFetch(chain.Key, metrics.OutcomeCancelled, elapsed)
			log.WithError(err).Debug("Fee fetch abandoned by caller")
			return o.failureResult(base, err)
		}
		if o.breaker != nil {
			o.breaker.RecordFailure(chain.Key, err)
		}
		o.metrics.ObserveFetch(chain.Key, metrics.OutcomeError, elapsed)
		log.WithError(err).Warn("Fee fetch failed")
		return o.failureResult(base, err)
	}

	if o.breaker != nil {
		o.breaker.RecordSuccess(chain.Key)
	}
	o.metrics.ObserveFetch(chain.Key, metrics.OutcomeSuccess, elapsed)
	o.metrics.SetFees(chain.Key, snapshot.Slow, snapshot.Standard, snapshot.Fast, snapshot.BaseFee)

	for _, a := range validation.Inspect(snapshot, o.store.Get(chain.ID), o.inspect) {
		o.metrics.IncAnomaly(chain.Key, string(a.Kind))
		log.WithField("anomaly", string(a.Kind)).Info(a.Detail)
	}

	o.store.Append(chain.ID, snapshot)
	series := o.store.Get(chain.ID)
	o.metrics.SetHistoryLength(chain.Key, len(series))

	result := base.WithFees(snapshot)
	result.History = model.Points(series)
	return result
}

// callerCancelled reports whether ctx ended for a reason other than the
// cycle's own timeout. Such failures say nothing about the node's health.
func callerCancelled(ctx context.Context) bool {
	return ctx.Err() != nil && !errors.Is(context.Cause(ctx), ErrCycleTimeout)
}

// failureResult keeps the chain nominally supported with zeroed fees and the
// history stored before this poll
func (o *Orchestrator) failureResult(base model.ChainResult, err error) model.ChainResult {
	result := base.WithZeroFees()
	result.Timestamp = o.now().UnixMilli()
	result.Error = err.Error()
	result.History = model.Points(o.store.Get(base.ChainID))
	return result
}

func (o *Orchestrator) placeholderResult(p types.Placeholder) model.ChainResult {
	return model.ChainResult{
		ChainName: p.DisplayName,
		Symbol:    p.Symbol,
		Type:      string(p.Kind),
		Timestamp: o.now().UnixMilli(),
		Supported: false,
		Status:    model.StatusNotSupported,
	}
}
