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

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cardinalhq/georunner/internal/batch"
	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/duckdbx"
)

// ParallelismEnvVar caps worker parallelism process-wide, e.g. for containers
// that see more cores than their CPU allotment.
const ParallelismEnvVar = "GEORUNNER_PARALLELISM"

// resolveParallelism maps the Options value onto the planner's convention
// (0 and -1 both mean automatic) and applies the environment cap.
func resolveParallelism(requested int) int {
	if requested == 0 {
		requested = -1
	}
	if limit := duckdbx.EnvIntClamp(ParallelismEnvVar, 0, 1, 1024); limit > 0 {
		if requested < 1 || requested > limit {
			return limit
		}
	}
	return requested
}

// planSource is one normalized input: a native container path, the layer in
// it, and the database alias workers see it under.
type planSource struct {
	Path         string
	Layer        string
	DatabaseName string
	Info         *container.LayerInfo
}

// processingPlan is everything the executor needs: normalized inputs and the
// batch partition of the driving layer's rowid domain.
type processingPlan struct {
	Input1      planSource
	Input2      planSource // zero value when the operation is single-layer
	Parallelism int
	Batches     []batch.Batch
}

func (p *processingPlan) twoLayer() bool { return p.Input2.Path != "" }

// ensureNative returns a native container path for src, converting foreign
// formats into tempDir. Native inputs are used in place, never copied.
func ensureNative(ctx context.Context, src, layer, tempDir string) (string, error) {
	if container.IsNative(src) {
		return src, nil
	}
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(tempDir, stem+".duckdb")
	if err := container.Convert(ctx, src, layer, dst, layer); err != nil {
		return "", fmt.Errorf("convert %s to native container: %w", src, err)
	}
	return dst, nil
}

// preparePlan normalizes the inputs and partitions input1's layer into
// batches. A nil plan with a nil error means the driving layer holds no
// features and the operation is a clean empty result.
//
// When both inputs are the same file the second source aliases the first
// instead of being attached twice.
func preparePlan(ctx context.Context, tempDir string, p1, p2 planSource, opts Options) (*processingPlan, error) {
	path1, err := ensureNative(ctx, p1.Path, p1.Layer, tempDir)
	if err != nil {
		return nil, err
	}

	plan := &processingPlan{
		Input1: planSource{Path: path1, Layer: p1.Layer, DatabaseName: "main"},
	}

	if p2.Path != "" {
		if p2.Path == p1.Path {
			plan.Input2 = planSource{Path: path1, Layer: p2.Layer, DatabaseName: "main"}
		} else {
			path2, err := ensureNative(ctx, p2.Path, p2.Layer, tempDir)
			if err != nil {
				return nil, err
			}
			plan.Input2 = planSource{Path: path2, Layer: p2.Layer, DatabaseName: "input2"}
		}
	}

	c1, err := container.Open(plan.Input1.Path)
	if err != nil {
		return nil, err
	}
	defer c1.Close()

	info1, err := c1.LayerInfo(ctx, plan.Input1.Layer)
	if err != nil {
		return nil, err
	}
	plan.Input1.Info = info1

	if plan.twoLayer() {
		c2 := c1
		if plan.Input2.Path != plan.Input1.Path {
			c2, err = container.Open(plan.Input2.Path)
			if err != nil {
				return nil, err
			}
			defer c2.Close()
		}
		info2, err := c2.LayerInfo(ctx, plan.Input2.Layer)
		if err != nil {
			return nil, err
		}
		plan.Input2.Info = info2
	}

	if info1.FeatureCount == 0 {
		return nil, nil
	}

	bp, err := batch.PlanBatches(ctx, c1, plan.Input1.Layer, batch.Params{
		FeatureCount:  info1.FeatureCount,
		Parallelism:   resolveParallelism(opts.Parallelism),
		BatchSizeHint: opts.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("plan batches for layer %s: %w", plan.Input1.Layer, err)
	}
	if bp == nil {
		return nil, nil
	}
	plan.Parallelism = bp.Parallelism
	plan.Batches = bp.Batches
	return plan, nil
}
