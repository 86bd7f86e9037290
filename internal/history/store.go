// Package history keeps a bounded rolling series of fee snapshots per chain.
package history

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/multichain-gas-ea/internal/model"
	"github.com/yourorg/multichain-gas-ea/internal/registry"
)

const (
	// DefaultCapacity covers ~24h at DefaultInterval resolution
	DefaultCapacity = 48

	// DefaultInterval is the spacing between synthetic seed points
	DefaultInterval = 30 * time.Minute

	// jitter is the maximum relative deviation of synthetic points from the baseline
	jitter = 0.15
)

// Ratios applied to the baseline rate when synthesising seed data
const (
	SlowRatio     = 0.85
	StandardRatio = 1.0
	FastRatio     = 1.2
	BaseFeeRatio  = 0.80
)

// Seeder produces the initial series for a chain that has no history yet.
// The returned slice must be ordered oldest first.
type Seeder func(chainID int64, now time.Time) []model.FeeSnapshot

// BaselineFunc returns a typical fee rate for a chain
type BaselineFunc func(chainID int64) float64

// Store owns every chain's history. It is safe for concurrent use; appends to
// the same chain are serialised by that chain's lock.
type Store struct {
	capacity int
	seeder   Seeder
	now      func() time.Time

	mu     sync.RWMutex
	series map[int64]*series
}

type series struct {
	mu        sync.Mutex
	snapshots []model.FeeSnapshot
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used when seeding
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store bounded to capacity entries per chain.
// A non-positive capacity falls back to DefaultCapacity and a nil seeder to
// ConstantSeeder over the registry baselines.
func NewStore(capacity int, seeder Seeder, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if seeder == nil {
		seeder = ConstantSeeder(registry.BaselineRate, capacity, DefaultInterval)
	}
	s := &Store{
		capacity: capacity,
		seeder:   seeder,
		now:      time.Now,
		series:   make(map[int64]*series),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the per-chain bound
func (s *Store) Capacity() int {
	return s.capacity
}

// EnsureSeeded creates the chain's history from the seeder if it does not
// exist yet. Calling it again is a no-op.
func (s *Store) EnsureSeeded(chainID int64) {
	s.getOrCreate(chainID)
}

// Append adds a snapshot to the tail, evicting the oldest entries beyond capacity.
// A snapshot older than the current tail is stored unchanged at its ordered
// position after any entries with the same timestamp.
func (s *Store) Append(chainID int64, snapshot model.FeeSnapshot) {
	h := s.getOrCreate(chainID)

	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.snapshots)
	if n == 0 || snapshot.Timestamp >= h.snapshots[n-1].Timestamp {
		h.snapshots = append(h.snapshots, snapshot)
	} else {
		i := sort.Search(n, func(i int) bool { return h.snapshots[i].Timestamp > snapshot.Timestamp })
		h.snapshots = append(h.snapshots, model.FeeSnapshot{})
		copy(h.snapshots[i+1:], h.snapshots[i:n])
		h.snapshots[i] = snapshot
	}

	if over := len(h.snapshots) - s.capacity; over > 0 {
		// Copy into a fresh slice so evicted entries can be collected
		trimmed := make([]model.FeeSnapshot, s.capacity, s.capacity+1)
		copy(trimmed, h.snapshots[over:])
		h.snapshots = trimmed
	}
}

// Get returns a copy of the chain's history, oldest first. Unknown chains
// yield nil.
func (s *Store) Get(chainID int64) []model.FeeSnapshot {
	s.mu.RLock()
	h, ok := s.series[chainID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.FeeSnapshot, len(h.snapshots))
	copy(out, h.snapshots)
	return out
}

// Len returns the number of stored snapshots for a chain
func (s *Store) Len(chainID int64) int {
	s.mu.RLock()
	h, ok := s.series[chainID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots)
}

// Chains returns the ids of every chain with history, ascending
func (s *Store) Chains() []int64 {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) getOrCreate(chainID int64) *series {
	s.mu.RLock()
	h, ok := s.series[chainID]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.series[chainID]; ok {
		return h
	}

	h = &series{snapshots: s.seed(chainID)}
	s.series[chainID] = h
	return h
}

// seed runs the seeder and enforces the store's bound and ordering on its output
func (s *Store) seed(chainID int64) []model.FeeSnapshot {
	seeded := s.seeder(chainID, s.now())

	if len(seeded) > s.capacity {
		seeded = seeded[len(seeded)-s.capacity:]
	}

	out := make([]model.FeeSnapshot, len(seeded), s.capacity+1)
	copy(out, seeded)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// JitterSeeder synthesises count snapshots spaced interval apart and ending at
// now, each rate drawn within ±15% of baseline scaled by the fixed tier ratios.
func JitterSeeder(baseline BaselineFunc, count int, interval time.Duration, rng *rand.Rand) Seeder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	var mu sync.Mutex
	jittered := func(v float64) float64 {
		mu.Lock()
		f := 1 + (rng.Float64()*2-1)*jitter
		mu.Unlock()
		return v * f
	}

	return func(chainID int64, now time.Time) []model.FeeSnapshot {
		rate := baseline(chainID)
		out := make([]model.FeeSnapshot, 0, count)
		for i := count - 1; i >= 0; i-- {
			at := now.Add(-time.Duration(i) * interval)
			out = append(out, model.NewFeeSnapshot(
				chainID,
				at,
				jittered(rate*SlowRatio),
				jittered(rate*StandardRatio),
				jittered(rate*FastRatio),
				jittered(rate*BaseFeeRatio),
			))
		}
		return out
	}
}

// ConstantSeeder returns count identical snapshots at the exact baseline ratios.
// Useful where deterministic seed data is needed.
func ConstantSeeder(baseline BaselineFunc, count int, interval time.Duration) Seeder {
	return func(chainID int64, now time.Time) []model.FeeSnapshot {
		rate := baseline(chainID)
		out := make([]model.FeeSnapshot, 0, count)
		for i := count - 1; i >= 0; i-- {
			out = append(out, model.NewFeeSnapshot(
				chainID,
				now.Add(-time.Duration(i)*interval),
				rate*SlowRatio,
				rate*StandardRatio,
				rate*FastRatio,
				rate*BaseFeeRatio,
			))
		}
		return out
	}
}
