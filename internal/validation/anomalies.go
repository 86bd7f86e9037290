// Package validation inspects fee snapshots for values that look wrong.
// Findings are advisory: snapshots are never dropped, because node responses
// are reported as-is and tier ordering is not guaranteed.
package validation

import (
	"fmt"
	"sort"

	"github.com/yourorg/multichain-gas-ea/internal/model"
)

// Kind classifies an anomaly
type Kind string

const (
	KindNegativeFee   Kind = "negative_fee"
	KindTierInversion Kind = "tier_inversion"
	KindOutOfOrder    Kind = "out_of_order"
	KindOutlier       Kind = "outlier"
)

// Anomaly is one finding about a snapshot
type Anomaly struct {
	Kind   Kind
	Detail string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s: %s", a.Kind, a.Detail)
}

// Options holds configuration for the inspection
type Options struct {
	// OutlierIQRMultiplier defines sensitivity for outlier detection (1.5 is standard)
	OutlierIQRMultiplier float64

	// MinHistory is the number of prior points needed before outliers are judged
	MinHistory int
}

// DefaultOptions returns sensible defaults for inspection
func DefaultOptions() Options {
	return Options{
		OutlierIQRMultiplier: 1.5,
		MinHistory:           4,
	}
}

// Inspect checks s on its own and against the chain's prior history
func Inspect(s model.FeeSnapshot, history []model.FeeSnapshot, opts Options) []Anomaly {
	var found []Anomaly

	if s.Slow < 0 || s.Standard < 0 || s.Fast < 0 || s.BaseFee < 0 {
		found = append(found, Anomaly{
			Kind:   KindNegativeFee,
			Detail: fmt.Sprintf("slow=%g standard=%g fast=%g base=%g", s.Slow, s.Standard, s.Fast, s.BaseFee),
		})
	}

	if s.Slow > s.Standard || s.Standard > s.Fast {
		found = append(found, Anomaly{
			Kind:   KindTierInversion,
			Detail: fmt.Sprintf("slow=%g standard=%g fast=%g", s.Slow, s.Standard, s.Fast),
		})
	}

	if n := len(history); n > 0 && s.Timestamp < history[n-1].Timestamp {
		found = append(found, Anomaly{
			Kind:   KindOutOfOrder,
			Detail: fmt.Sprintf("timestamp %d precedes latest %d", s.Timestamp, history[n-1].Timestamp),
		})
	}

	if len(history) >= opts.MinHistory && len(history) > 0 {
		values := make([]float64, len(history))
		for i, h := range history {
			values[i] = h.Standard
		}
		lower, upper := bounds(values, opts.OutlierIQRMultiplier)
		if s.Standard < lower || s.Standard > upper {
			found = append(found, Anomaly{
				Kind:   KindOutlier,
				Detail: fmt.Sprintf("standard=%g outside [%g, %g]", s.Standard, lower, upper),
			})
		}
	}

	return found
}

// bounds computes the IQR fences of values
func bounds(values []float64, iqrMultiplier float64) (float64, float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := sorted[len(sorted)/4]
	q3 := sorted[len(sorted)*3/4]
	iqr := q3 - q1

	lower := q1 - iqrMultiplier*iqr
	upper := q3 + iqrMultiplier*iqr

	// A flat series would flag every change; fall back to a relative band
	if mean := calculateMean(sorted); upper-lower < mean*0.01 {
		lower = mean * 0.5
		upper = mean * 2.0
	}
	return lower, upper
}

// calculateMean computes the arithmetic mean of a slice of float64
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
