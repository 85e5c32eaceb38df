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

package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRowSource struct {
	minID, maxID int64
	quantiles    []Range
	domainCalls  int
	quantCalls   int
}

func (f *fakeRowSource) RowIDDomain(_ context.Context, _ string) (int64, int64, error) {
	f.domainCalls++
	return f.minID, f.maxID, nil
}

func (f *fakeRowSource) RowIDQuantiles(_ context.Context, _ string, _ int) ([]Range, error) {
	f.quantCalls++
	return f.quantiles, nil
}

func TestPlanBatchesEmptyLayer(t *testing.T) {
	plan, err := PlanBatches(context.Background(), &fakeRowSource{}, "layer", Params{
		FeatureCount: 0,
		Parallelism:  -1,
	})
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestPlanBatchesSerialIsOneFullBatch(t *testing.T) {
	src := &fakeRowSource{minID: 0, maxID: 999}
	plan, err := PlanBatches(context.Background(), src, "layer", Params{
		FeatureCount: 1000,
		Parallelism:  1,
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 1, plan.Parallelism)
	require.Len(t, plan.Batches, 1)
	assert.True(t, plan.Batches[0].Full)
	assert.Empty(t, plan.Batches[0].Filter("layer"))
	// A full batch never needs the identifier domain.
	assert.Equal(t, 0, src.domainCalls)
}

func TestPlanBatchesSmallLayerStaysSerial(t *testing.T) {
	// Fewer rows than MinRowsPerCore never justifies a second worker.
	plan, err := PlanBatches(context.Background(), &fakeRowSource{minID: 1, maxID: 50}, "layer", Params{
		FeatureCount: 50,
		Parallelism:  -1,
		MaxCores:     8,
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 1, plan.Parallelism)
	require.Len(t, plan.Batches, 1)
	assert.True(t, plan.Batches[0].Full)
}

func TestPlanBatchesDenseCoversDomain(t *testing.T) {
	src := &fakeRowSource{minID: 0, maxID: 9999}
	plan, err := PlanBatches(context.Background(), src, "layer", Params{
		FeatureCount: 10000,
		Parallelism:  4,
		MaxCores:     4,
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 4, plan.Parallelism)
	assert.Equal(t, 1, src.domainCalls)
	assert.Equal(t, 0, src.quantCalls)

	// Batches tile [minID, maxID] without gaps or overlap.
	require.NotEmpty(t, plan.Batches)
	assert.Equal(t, int64(0), plan.Batches[0].Start)
	for i := 1; i < len(plan.Batches); i++ {
		assert.Equal(t, plan.Batches[i-1].End+1, plan.Batches[i].Start, "batch %d", i)
	}
	last := plan.Batches[len(plan.Batches)-1]
	assert.True(t, last.Unbounded)
	assert.Equal(t, int64(9999), last.End)
}

func TestPlanBatchesSparseUsesQuantiles(t *testing.T) {
	// Identifier domain 100x wider than the row count forces the
	// equal-frequency path.
	src := &fakeRowSource{
		minID: 0,
		maxID: 99999,
		quantiles: []Range{
			{Start: 0, End: 40000},
			{Start: 40001, End: 70000},
			{Start: 70001, End: 99999},
		},
	}
	plan, err := PlanBatches(context.Background(), src, "layer", Params{
		FeatureCount: 1000,
		Parallelism:  3,
		MaxCores:     3,
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 1, src.quantCalls)
	require.Len(t, plan.Batches, 3)
	assert.Equal(t, int64(40001), plan.Batches[1].Start)
	assert.True(t, plan.Batches[2].Unbounded)
}

func TestPlanBatchesShrinksToQuantileCount(t *testing.T) {
	// Fewer distinct quantile groups than requested batches shrinks both the
	// batch list and the worker pool.
	src := &fakeRowSource{
		minID: 0,
		maxID: 99999,
		quantiles: []Range{
			{Start: 0, End: 50000},
			{Start: 50001, End: 99999},
		},
	}
	plan, err := PlanBatches(context.Background(), src, "layer", Params{
		FeatureCount: 1000,
		Parallelism:  4,
		MaxCores:     4,
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 2, plan.Parallelism)
	assert.Len(t, plan.Batches, 2)
}

func TestResolveCountsMinRowsPerBatch(t *testing.T) {
	// 250 rows across 8 workers: twice as many batches as workers.
	parallelism, nbBatches := resolveCounts(Params{
		FeatureCount: 250,
		Parallelism:  8,
		MaxCores:     8,
	})
	assert.Equal(t, int64(16), nbBatches)
	assert.Equal(t, 8, parallelism)

	parallelism, nbBatches = resolveCounts(Params{
		FeatureCount: 30,
		Parallelism:  8,
		MaxCores:     8,
	})
	assert.Equal(t, int64(3), nbBatches)
	assert.Equal(t, 3, parallelism)
}

func TestResolveCountsBatchSizeHint(t *testing.T) {
	// A hint of 1000 rows per batch with 4 workers keeps 4000 rows in flight,
	// so 100k rows take ~100 batches.
	_, nbBatches := resolveCounts(Params{
		FeatureCount:  100_000,
		Parallelism:   4,
		BatchSizeHint: 1000,
		MaxCores:      4,
	})
	assert.Equal(t, int64(100), nbBatches)
}

func TestResolveCountsDefaultRowCap(t *testing.T) {
	// Without a hint, batches are sized so at most DefaultMaxRowsInParallel
	// rows run concurrently.
	parallelism, nbBatches := resolveCounts(Params{
		FeatureCount: 1_000_000,
		Parallelism:  4,
		MaxCores:     4,
	})
	assert.Equal(t, 4, parallelism)
	assert.Equal(t, int64(20), nbBatches)
}

func TestBatchFilter(t *testing.T) {
	bounded := Batch{ID: 0, Start: 10, End: 19}
	assert.Equal(t, "AND (layer.rowid >= 10 AND layer.rowid <= 19) ", bounded.Filter("layer"))
	assert.Equal(t, "AND (rowid >= 10 AND rowid <= 19) ", bounded.Filter(""))

	unbounded := Batch{ID: 1, Start: 20, Unbounded: true}
	assert.Equal(t, "AND layer1.rowid >= 20 ", unbounded.Filter("layer1"))

	full := Batch{ID: 0, Full: true}
	assert.Empty(t, full.Filter("layer"))
}

func TestDenseRangesRemainder(t *testing.T) {
	ranges := denseRanges(0, 10, 3)
	require.Len(t, ranges, 3)
	assert.Equal(t, Range{Start: 0, End: 2}, ranges[0])
	assert.Equal(t, Range{Start: 3, End: 5}, ranges[1])
	// The last range absorbs the rounding remainder.
	assert.Equal(t, Range{Start: 6, End: 10}, ranges[2])
}
