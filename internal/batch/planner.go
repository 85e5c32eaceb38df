// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package batch splits a layer's row-identifier space into ranges so one
// templated SQL job can run per range concurrently. Batches always cover the
// full identifier space: the last batch is unbounded above so rounding can
// never drop trailing rows.
package batch

import (
	"context"
	"fmt"
	"runtime"
)

const (
	// MinRowsPerCore is the minimum number of rows that justifies one extra
	// parallel worker when parallelism is resolved automatically.
	MinRowsPerCore = 100

	// DefaultMaxRowsInParallel bounds the rows processed concurrently when no
	// batch-size hint is given, to limit memory use.
	DefaultMaxRowsInParallel = 200_000

	// DefaultDensityThreshold decides between the fast equal-width range
	// assignment and the expensive equal-frequency scan. Empirically chosen;
	// identifiers with (max-min)/count below it are treated as ~contiguous.
	DefaultDensityThreshold = 1.1

	// MinRowsPerBatch caps batch count at featureCount/MinRowsPerBatch so tiny
	// layers are not split into many near-empty pieces.
	MinRowsPerBatch = 10
)

// Batch is a row-identifier range assigned to one worker. The last batch of a
// plan is unbounded above. A Full batch covers the whole layer.
type Batch struct {
	ID        int
	Start     int64
	End       int64
	Unbounded bool
	Full      bool
}

// Filter returns the SQL predicate fragment selecting this batch's rows,
// prefixed with AND so it drops into a WHERE 1=1 clause. A single-batch plan
// has no filter at all.
func (b Batch) Filter(tableAlias string) string {
	if b.Full {
		return ""
	}
	aliasDot := ""
	if tableAlias != "" {
		aliasDot = tableAlias + "."
	}
	if b.Unbounded {
		return fmt.Sprintf("AND %srowid >= %d ", aliasDot, b.Start)
	}
	return fmt.Sprintf("AND (%srowid >= %d AND %srowid <= %d) ", aliasDot, b.Start, aliasDot, b.End)
}

// Range is a closed row-identifier interval.
type Range struct {
	Start int64
	End   int64
}

// RowSource provides the identifier statistics the planner needs. Implemented
// by container-backed layers.
type RowSource interface {
	// RowIDDomain returns the minimum and maximum row identifier of the layer.
	RowIDDomain(ctx context.Context, layer string) (minID, maxID int64, err error)
	// RowIDQuantiles partitions the layer's rows into n equal-frequency groups
	// ordered by row identifier and returns each group's identifier range.
	RowIDQuantiles(ctx context.Context, layer string, n int) ([]Range, error)
}

// Params configures planning for one layer.
type Params struct {
	FeatureCount  int64
	Parallelism   int   // -1 = auto
	BatchSizeHint int64 // -1 = auto
	// MaxCores overrides runtime.NumCPU for tests; 0 means use the host count.
	MaxCores int
	// DensityThreshold overrides DefaultDensityThreshold when > 0.
	DensityThreshold float64
}

// Plan is the resolved batching for one layer: a degree of parallelism and
// the ordered batches. A nil Plan means the layer has no rows and there is
// nothing to do.
type Plan struct {
	Parallelism int
	Batches     []Batch
}

// resolveCounts returns the degree of parallelism and the target batch count
// for the given parameters, before identifier ranges are assigned.
func resolveCounts(p Params) (parallelism int, nbBatches int64) {
	cores := p.MaxCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	parallelism = p.Parallelism
	if parallelism == -1 {
		// Put at least MinRowsPerCore rows in a batch before going wider.
		maxParallel := max(p.FeatureCount/MinRowsPerCore, 1)
		parallelism = int(min(int64(cores), maxParallel))
	}

	// Some operations give wrong results when partitioned, so callers force
	// parallelism to 1; that must always yield a single full-layer batch.
	if parallelism <= 1 {
		return 1, 1
	}

	maxRowsInParallel := int64(DefaultMaxRowsInParallel)
	if p.BatchSizeHint > 0 {
		maxRowsInParallel = p.BatchSizeHint * int64(parallelism)
	}
	if p.FeatureCount > maxRowsInParallel {
		nbBatches = p.FeatureCount / (maxRowsInParallel / int64(parallelism))
	} else {
		nbBatches = int64(parallelism) * 2
	}

	// Never split a layer into batches of fewer than MinRowsPerBatch rows.
	if limit := max(p.FeatureCount/MinRowsPerBatch, 1); nbBatches > limit {
		nbBatches = limit
	}
	// No use running more workers than there are batches.
	if int64(parallelism) > nbBatches {
		parallelism = int(nbBatches)
	}
	return parallelism, nbBatches
}

// denseRanges divides [minID, maxID] into n equal-width integer ranges. The
// last range absorbs the rounding remainder up to maxID.
func denseRanges(minID, maxID int64, n int64) []Range {
	ranges := make([]Range, 0, n)
	width := (maxID - minID + 1) / n
	if width < 1 {
		width = 1
	}
	start := minID
	for i := int64(0); i < n; i++ {
		end := start + width - 1
		if i == n-1 {
			end = maxID
		}
		ranges = append(ranges, Range{Start: start, End: end})
		start += width
	}
	return ranges
}

// PlanBatches inspects the layer through src and produces the batch plan.
// It returns (nil, nil) when the layer has no rows.
func PlanBatches(ctx context.Context, src RowSource, layer string, p Params) (*Plan, error) {
	if p.FeatureCount == 0 {
		return nil, nil
	}

	parallelism, nbBatches := resolveCounts(p)
	if nbBatches == 1 {
		return &Plan{
			Parallelism: 1,
			Batches:     []Batch{{ID: 0, Full: true}},
		}, nil
	}

	minID, maxID, err := src.RowIDDomain(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to determine rowid domain: %w", err)
	}

	threshold := p.DensityThreshold
	if threshold <= 0 {
		threshold = DefaultDensityThreshold
	}

	var ranges []Range
	if float64(maxID-minID)/float64(p.FeatureCount) < threshold {
		// Identifiers are ~contiguous: an imperfect but fast distribution.
		ranges = denseRanges(minID, maxID, nbBatches)
	} else {
		// Identifiers have gaps: balance row counts with an equal-frequency
		// partition. This scans the whole identifier column ordered, so it is
		// markedly more expensive and only used when the density test fails.
		ranges, err = src.RowIDQuantiles(ctx, layer, int(nbBatches))
		if err != nil {
			return nil, fmt.Errorf("failed to compute rowid quantiles: %w", err)
		}
		if int64(len(ranges)) < nbBatches {
			// Fewer distinct groups than requested; shrink the pool to match.
			nbBatches = int64(len(ranges))
			if int64(parallelism) > nbBatches {
				parallelism = int(nbBatches)
			}
		}
	}

	plan := &Plan{Parallelism: parallelism}
	for i, r := range ranges {
		b := Batch{ID: i, Start: r.Start, End: r.End}
		if i == len(ranges)-1 {
			// The last batch is unbounded above so integer rounding can never
			// drop trailing rows.
			b.Unbounded = true
		}
		plan.Batches = append(plan.Batches, b)
	}
	return plan, nil
}
