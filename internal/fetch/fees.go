package fetch

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/multichain-gas-ea/internal/metrics"
	"github.com/yourorg/multichain-gas-ea/internal/model"
	"github.com/yourorg/multichain-gas-ea/internal/otel"
	"github.com/yourorg/multichain-gas-ea/internal/types"
)

// JSON-RPC methods used by the fetcher
const (
	MethodFeeHistory = "eth_feeHistory"
	MethodGasPrice   = "eth_gasPrice"
)

const (
	// FeeHistoryBlocks is how many recent blocks are sampled
	FeeHistoryBlocks = 5

	// LegacySlowMultiplier and LegacyFastMultiplier derive tiers from eth_gasPrice
	LegacySlowMultiplier = 0.85
	LegacyFastMultiplier = 1.2
)

// RewardPercentiles are the priority fee percentiles for slow, standard and fast
var RewardPercentiles = []float64{10, 50, 90}

var gweiFloat = new(big.Float).SetInt64(1_000_000_000)

// FeeFetcher produces one FeeSnapshot per chain from its node
type FeeFetcher struct {
	rpc     Caller
	now     func() time.Time
	metrics *metrics.Metrics
}

// FetcherOption configures a FeeFetcher
type FetcherOption func(*FeeFetcher)

// WithMetrics attaches Prometheus collectors
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *FeeFetcher) {
		f.metrics = m
	}
}

// WithClock overrides the snapshot timestamp source
func WithClock(now func() time.Time) FetcherOption {
	return func(f *FeeFetcher) {
		f.now = now
	}
}

// NewFeeFetcher creates a fetcher that issues calls through rpc
func NewFeeFetcher(rpc Caller, opts ...FetcherOption) *FeeFetcher {
	f := &FeeFetcher{
		rpc: rpc,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchFees returns the current fees for chain. EIP-1559 chains are tried on
// the fee-history path first and fall back to the legacy path exactly once.
// An error is returned only when every applicable path failed.
func (f *FeeFetcher) FetchFees(ctx context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error) {
	ctx, span := otel.Tracer().Start(ctx, "fetch.FetchFees")
	defer span.End()
	span.SetAttributes(
		attribute.String("chain.key", chain.Key),
		attribute.Int64("chain.id", chain.ID),
		attribute.String("chain.fee_model", string(chain.FeeModel)),
	)

	log := logrus.WithFields(logrus.Fields{"chain": chain.Key, "chain_id": chain.ID})

	if chain.FeeModel == types.FeeModelEIP1559 {
		snapshot, primaryErr := f.FetchEIP1559(ctx, chain)
		if primaryErr == nil {
			span.SetAttributes(attribute.String("fee.path", string(types.FeeModelEIP1559)))
			return snapshot, nil
		}

		log.WithError(primaryErr).Debug("EIP-1559 fee path failed, falling back to gas price")
		f.metrics.IncFallback(chain.Key)

		snapshot, fallbackErr := f.FetchLegacy(ctx, chain)
		if fallbackErr != nil {
			err := fmt.Errorf("fee history: %v; gas price: %w", primaryErr, fallbackErr)
			otel.RecordError(ctx, err)
			return model.FeeSnapshot{}, err
		}
		span.SetAttributes(attribute.String("fee.path", string(types.FeeModelLegacy)), attribute.Bool("fee.fallback", true))
		return snapshot, nil
	}

	snapshot, err := f.FetchLegacy(ctx, chain)
	if err != nil {
		otel.RecordError(ctx, err)
		return model.FeeSnapshot{}, err
	}
	span.SetAttributes(attribute.String("fee.path", string(types.FeeModelLegacy)))
	return snapshot, nil
}

// feeHistory mirrors the eth_feeHistory result
type feeHistory struct {
	OldestBlock   *hexutil.Big     `json:"oldestBlock"`
	BaseFeePerGas []*hexutil.Big   `json:"baseFeePerGas"`
	GasUsedRatio  []float64        `json:"gasUsedRatio"`
	Reward        [][]*hexutil.Big `json:"reward"`
}

// FetchEIP1559 derives fee tiers from eth_feeHistory. The node returns one
// trailing base fee for the pending block, which is used as the next base fee.
// Missing reward entries count as zero.
func (f *FeeFetcher) FetchEIP1559(ctx context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error) {
	var history feeHistory
	err := f.rpc.Call(ctx, chain.Endpoint, MethodFeeHistory, &history,
		hexutil.Uint64(FeeHistoryBlocks), "latest", RewardPercentiles)
	if err != nil {
		f.metrics.IncRPCError(chain.Key, MethodFeeHistory)
		return model.FeeSnapshot{}, err
	}

	if len(history.BaseFeePerGas) == 0 {
		return model.FeeSnapshot{}, fmt.Errorf("%s: no base fee data", MethodFeeHistory)
	}
	next := history.BaseFeePerGas[len(history.BaseFeePerGas)-1]
	if next == nil {
		return model.FeeSnapshot{}, fmt.Errorf("%s: null next base fee", MethodFeeHistory)
	}

	baseFee := weiToGwei(next.ToInt())
	slow := baseFee + averageReward(history.Reward, 0)
	standard := baseFee + averageReward(history.Reward, 1)
	fast := baseFee + averageReward(history.Reward, 2)

	return model.NewFeeSnapshot(chain.ID, f.now(), slow, standard, fast, baseFee), nil
}

// FetchLegacy derives fee tiers from eth_gasPrice using fixed multipliers
func (f *FeeFetcher) FetchLegacy(ctx context.Context, chain types.ChainDescriptor) (model.FeeSnapshot, error) {
	var price hexutil.Big
	if err := f.rpc.Call(ctx, chain.Endpoint, MethodGasPrice, &price); err != nil {
		f.metrics.IncRPCError(chain.Key, MethodGasPrice)
		return model.FeeSnapshot{}, err
	}

	standard := weiToGwei(price.ToInt())
	return model.NewFeeSnapshot(
		chain.ID,
		f.now(),
		standard*LegacySlowMultiplier,
		standard,
		standard*LegacyFastMultiplier,
		0,
	), nil
}

// averageReward is the mean of one percentile column across sampled blocks, in gwei
func averageReward(rewards [][]*hexutil.Big, column int) float64 {
	if len(rewards) == 0 {
		return 0
	}
	var sum float64
	for _, block := range rewards {
		if column < len(block) && block[column] != nil {
			sum += weiToGwei(block[column].ToInt())
		}
	}
	return sum / float64(len(rewards))
}

func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), gweiFloat).Float64()
	return gwei
}
