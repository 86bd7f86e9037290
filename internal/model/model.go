// Package model defines the core data structures for the gas aggregation engine.
package model

import (
	"math"
	"time"
)

// Precision is the number of decimal places every fee value is rounded to
const Precision = 6

// FeeSnapshot is one observation of fee rates for one chain at one instant.
// All rates are expressed in gwei-equivalent units. Snapshots are never mutated
// after creation.
type FeeSnapshot struct {
	// ChainID is the numeric chain identifier
	ChainID int64 `json:"chainId"`

	// Timestamp is the capture time in milliseconds since epoch
	Timestamp int64 `json:"timestamp"`

	Slow     float64 `json:"slow"`
	Standard float64 `json:"standard"`
	Fast     float64 `json:"fast"`

	// BaseFee is 0 on chains without a base fee
	BaseFee float64 `json:"suggestBaseFee"`
}

// NewFeeSnapshot creates a snapshot stamped with the given time, rounding every rate
func NewFeeSnapshot(chainID int64, at time.Time, slow, standard, fast, baseFee float64) FeeSnapshot {
	return FeeSnapshot{
		ChainID:   chainID,
		Timestamp: at.UnixMilli(),
		Slow:      Round(slow),
		Standard:  Round(standard),
		Fast:      Round(fast),
		BaseFee:   Round(baseFee),
	}
}

// HistoryPoint is the chart-facing view of a snapshot
type HistoryPoint struct {
	Timestamp      int64   `json:"timestamp"`
	Slow           float64 `json:"slow"`
	Standard       float64 `json:"standard"`
	Fast           float64 `json:"fast"`
	SuggestBaseFee float64 `json:"suggestBaseFee"`
}

// Point converts the snapshot to its history representation
func (s FeeSnapshot) Point() HistoryPoint {
	return HistoryPoint{
		Timestamp:      s.Timestamp,
		Slow:           s.Slow,
		Standard:       s.Standard,
		Fast:           s.Fast,
		SuggestBaseFee: s.BaseFee,
	}
}

// Points converts a snapshot sequence, preserving order
func Points(snapshots []FeeSnapshot) []HistoryPoint {
	points := make([]HistoryPoint, 0, len(snapshots))
	for _, s := range snapshots {
		points = append(points, s.Point())
	}
	return points
}

// StatusNotSupported marks placeholder chains the engine cannot query
const StatusNotSupported = "not-supported"

// ChainResult is the per-chain entry of one aggregation cycle.
// Fee fields are pointers so placeholder entries carry no numbers at all,
// while failed chains still report explicit zeros.
type ChainResult struct {
	ChainID        int64          `json:"chainId,omitempty"`
	ChainName      string         `json:"chainName"`
	Symbol         string         `json:"symbol"`
	Type           string         `json:"type"`
	Slow           *float64       `json:"slow,omitempty"`
	Standard       *float64       `json:"standard,omitempty"`
	Fast           *float64       `json:"fast,omitempty"`
	SuggestBaseFee *float64       `json:"suggestBaseFee,omitempty"`
	Timestamp      int64          `json:"timestamp"`
	Supported      bool           `json:"supported"`
	History        []HistoryPoint `json:"history,omitempty"`
	Error          string         `json:"error,omitempty"`
	Status         string         `json:"status,omitempty"`
}

// HasFees reports whether the entry carries numeric fee fields
func (r ChainResult) HasFees() bool {
	return r.Standard != nil
}

// Failed reports whether the chain is supported but its last poll failed
func (r ChainResult) Failed() bool {
	return r.Supported && r.Error != ""
}

// WithFees fills the fee fields from a snapshot
func (r ChainResult) WithFees(s FeeSnapshot) ChainResult {
	r.Slow = float64Ptr(s.Slow)
	r.Standard = float64Ptr(s.Standard)
	r.Fast = float64Ptr(s.Fast)
	r.SuggestBaseFee = float64Ptr(s.BaseFee)
	r.Timestamp = s.Timestamp
	return r
}

// WithZeroFees sets every fee field to an explicit zero
func (r ChainResult) WithZeroFees() ChainResult {
	r.Slow = float64Ptr(0)
	r.Standard = float64Ptr(0)
	r.Fast = float64Ptr(0)
	r.SuggestBaseFee = float64Ptr(0)
	return r
}

// Round rounds a fee value to Precision decimal places
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	scale := math.Pow10(Precision)
	return math.Round(v*scale) / scale
}

func float64Ptr(v float64) *float64 {
	return &v
}
