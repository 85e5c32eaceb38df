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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/sqltemplate"
)

// RunSingleLayer runs a one-input operation. The returned Outcome reports
// whether an output was created, skipped because it existed, or omitted
// because the operation produced no rows.
func RunSingleLayer(ctx context.Context, p SingleLayerParams) (Outcome, error) {
	if err := validateInput(p.InputPath); err != nil {
		return OutcomeEmpty, err
	}
	if p.InputPath == p.OutputPath {
		return OutcomeEmpty, fmt.Errorf("output file must differ from input file: %s", p.OutputPath)
	}
	if skip, err := checkExisting(p.OutputPath, p.Operation, p.Force); err != nil || skip {
		return OutcomeSkippedExisting, err
	}

	inputLayer, err := resolveLayer(ctx, p.InputPath, p.InputLayer)
	if err != nil {
		return OutcomeEmpty, err
	}
	outputLayer := p.OutputLayer
	if outputLayer == "" {
		outputLayer = container.DefaultLayer(p.OutputPath)
	}

	tempDir, err := container.CreateTempDir(p.Operation)
	if err != nil {
		return OutcomeEmpty, err
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	plan, err := preparePlan(ctx, tempDir,
		planSource{Path: p.InputPath, Layer: inputLayer}, planSource{}, p.Options)
	if err != nil {
		return OutcomeEmpty, err
	}
	if plan == nil {
		slog.Info("Input layer has no features, nothing to do",
			slog.String("operation", p.Operation), slog.String("input", p.InputPath))
		return OutcomeEmpty, nil
	}

	frags, err := sqltemplate.ProjectColumns(p.Columns, plan.Input1.Info.Columns, "", "")
	if err != nil {
		return OutcomeEmpty, err
	}

	start := time.Now()
	threads, memoryMB := workerBudget(plan.Parallelism)
	jobs := make([]batchJob, 0, len(plan.Batches))
	for _, b := range plan.Batches {
		stmt, err := p.Template.Fill(map[string]string{
			"geometrycolumn":        plan.Input1.Info.GeometryColumn,
			"columns_to_select_str": frags.Quoted,
			"input_layer":           plan.Input1.Layer,
			"batch_filter":          b.Filter("layer"),
		})
		if err != nil {
			return OutcomeEmpty, err
		}
		if p.FilterNullGeoms {
			stmt = wrapNullGeomFilter(stmt)
		}
		jobs = append(jobs, batchJob{
			id:          b.ID,
			stmt:        stmt,
			mainPath:    plan.Input1.Path,
			partialPath: filepath.Join(tempDir, fmt.Sprintf("partial-%d.duckdb", b.ID)),
			outputLayer: outputLayer,
			threads:     threads,
			memoryMB:    memoryMB,
		})
	}

	tmpOutput := filepath.Join(tempDir, "output.duckdb")
	if err := executeBatches(ctx, p.Operation, plan.Parallelism, jobs, tmpOutput, outputLayer, p.Options); err != nil {
		return OutcomeEmpty, err
	}
	return finalize(ctx, p.Operation, tmpOutput, p.OutputPath, outputLayer, start, p.Options)
}

// RunTwoLayer runs an operation combining two input layers. Batching is done
// over the first layer; the second layer is visible to every batch in full.
func RunTwoLayer(ctx context.Context, p TwoLayerParams) (Outcome, error) {
	if err := validateInput(p.Input1Path); err != nil {
		return OutcomeEmpty, err
	}
	if err := validateInput(p.Input2Path); err != nil {
		return OutcomeEmpty, err
	}
	if p.OutputPath == p.Input1Path || p.OutputPath == p.Input2Path {
		return OutcomeEmpty, fmt.Errorf("output file must differ from input files: %s", p.OutputPath)
	}
	if skip, err := checkExisting(p.OutputPath, p.Operation, p.Force); err != nil || skip {
		return OutcomeSkippedExisting, err
	}

	layer1, err := resolveLayer(ctx, p.Input1Path, p.Input1Layer)
	if err != nil {
		return OutcomeEmpty, err
	}
	layer2, err := resolveLayer(ctx, p.Input2Path, p.Input2Layer)
	if err != nil {
		return OutcomeEmpty, err
	}
	outputLayer := p.OutputLayer
	if outputLayer == "" {
		outputLayer = container.DefaultLayer(p.OutputPath)
	}
	prefix1 := p.Input1ColumnsPrefix
	if prefix1 == "" {
		prefix1 = "l1_"
	}
	prefix2 := p.Input2ColumnsPrefix
	if prefix2 == "" {
		prefix2 = "l2_"
	}

	tempDir, err := container.CreateTempDir(p.Operation)
	if err != nil {
		return OutcomeEmpty, err
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	plan, err := preparePlan(ctx, tempDir,
		planSource{Path: p.Input1Path, Layer: layer1},
		planSource{Path: p.Input2Path, Layer: layer2}, p.Options)
	if err != nil {
		return OutcomeEmpty, err
	}
	if plan == nil {
		slog.Info("Input layer has no features, nothing to do",
			slog.String("operation", p.Operation), slog.String("input", p.Input1Path))
		return OutcomeEmpty, nil
	}

	frags1, err := sqltemplate.ProjectColumns(p.Input1Columns, plan.Input1.Info.Columns, "layer1", prefix1)
	if err != nil {
		return OutcomeEmpty, err
	}
	frags2, err := sqltemplate.ProjectColumns(p.Input2Columns, plan.Input2.Info.Columns, "layer2", prefix2)
	if err != nil {
		return OutcomeEmpty, err
	}

	start := time.Now()
	threads, memoryMB := workerBudget(plan.Parallelism)
	jobs := make([]batchJob, 0, len(plan.Batches))
	for _, b := range plan.Batches {
		stmt, err := p.Template.Fill(map[string]string{
			"input1_databasename":                  plan.Input1.DatabaseName,
			"input2_databasename":                  plan.Input2.DatabaseName,
			"input1_layer":                         plan.Input1.Layer,
			"input2_layer":                         plan.Input2.Layer,
			"input1_geometrycolumn":                plan.Input1.Info.GeometryColumn,
			"input2_geometrycolumn":                plan.Input2.Info.GeometryColumn,
			"layer1_columns_prefix_str":            frags1.Prefixed,
			"layer1_columns_prefix_alias_str":      frags1.PrefixedAliased,
			"layer1_columns_from_subselect_str":    frags1.FromSubselect,
			"layer2_columns_prefix_str":            frags2.Prefixed,
			"layer2_columns_prefix_alias_str":      frags2.PrefixedAliased,
			"layer2_columns_prefix_alias_null_str": frags2.NullAliased,
			"layer2_columns_from_subselect_str":    frags2.FromSubselect,
			"batch_filter":                         b.Filter("layer1"),
		})
		if err != nil {
			return OutcomeEmpty, err
		}
		if p.FilterNullGeoms {
			stmt = wrapNullGeomFilter(stmt)
		}
		job := batchJob{
			id:          b.ID,
			stmt:        stmt,
			mainPath:    plan.Input1.Path,
			partialPath: filepath.Join(tempDir, fmt.Sprintf("partial-%d.duckdb", b.ID)),
			outputLayer: outputLayer,
			threads:     threads,
			memoryMB:    memoryMB,
		}
		if plan.Input2.DatabaseName != "main" {
			job.attachPath = plan.Input2.Path
			job.attachAlias = plan.Input2.DatabaseName
		}
		jobs = append(jobs, job)
	}

	tmpOutput := filepath.Join(tempDir, "output.duckdb")
	if err := executeBatches(ctx, p.Operation, plan.Parallelism, jobs, tmpOutput, outputLayer, p.Options); err != nil {
		return OutcomeEmpty, err
	}
	return finalize(ctx, p.Operation, tmpOutput, p.OutputPath, outputLayer, start, p.Options)
}

// executeBatches fans the jobs out over parallelism workers and merges each
// partial into outputPath in completion order. The first failure cancels the
// rest; sibling results arriving after it are dropped and their partials
// cleaned up with the temp dir.
func executeBatches(ctx context.Context, operation string, parallelism int, jobs []batchJob, outputPath, outputLayer string, opts Options) error {
	appendOpts := container.AppendOptions{
		ForceGeometryType:  opts.ForceGeometryType,
		ExplodeCollections: opts.ExplodeCollections,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan batchResult, len(jobs))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(parallelism)
	go func() {
		for _, job := range jobs {
			g.Go(func() error {
				begin := time.Now()
				rows, err := runBatchJob(gctx, job)
				results <- batchResult{job: job, rows: rows, duration: time.Since(begin), err: err}
				return err
			})
		}
		_ = g.Wait()
		close(results)
	}()

	progress := newProgressReporter(operation, len(jobs))
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	var firstErr error
	// The output container opens lazily on the first non-empty partial, so an
	// all-empty run leaves no output file behind.
	var appender *container.Appender
	for res := range results {
		if res.err != nil {
			cancel()
			// The group context is cancelled the moment any worker fails, so
			// it cannot tell the genuine failure from siblings that died of
			// the cancellation. Only the error itself can: cancellation noise
			// is held as a placeholder until a real error arrives.
			if errors.Is(res.err, context.Canceled) {
				if firstErr == nil {
					firstErr = res.err
				}
			} else if firstErr == nil || errors.Is(firstErr, context.Canceled) {
				firstErr = fmt.Errorf("error executing batch %d of %s (sql: %s): %w",
					res.job.id, operation, res.job.stmt, res.err)
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		batchDuration.Record(ctx, res.duration.Seconds(), attrs)
		if res.rows == 0 {
			progress.step(0)
			continue
		}
		if appender == nil {
			a, err := container.NewAppender(runCtx, outputPath, operation)
			if err != nil {
				firstErr = err
				cancel()
				continue
			}
			appender = a
		}
		if err := appender.Append(ctx, res.job.partialPath, outputLayer, outputLayer, appendOpts); err != nil {
			firstErr = fmt.Errorf("error merging batch %d of %s: %w", res.job.id, operation, err)
			cancel()
			continue
		}
		_ = container.Remove(res.job.partialPath)
		batchesCompleted.Add(ctx, 1, attrs)
		rowsMerged.Add(ctx, res.rows, attrs)
		progress.step(res.rows)
	}
	// Release the output before finalize reopens it for indexing.
	if appender != nil {
		if err := appender.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}

// finalize indexes and commits the uncommitted output. A missing tmp output
// means every batch came back empty.
func finalize(ctx context.Context, operation, tmpOutput, outputPath, outputLayer string, start time.Time, opts Options) (Outcome, error) {
	if !container.Exists(tmpOutput) {
		slog.Info("Operation produced no features, no output written",
			slog.String("operation", operation), slog.String("output", outputPath))
		return OutcomeEmpty, nil
	}
	if opts.SkipSpatialIndex {
		if err := container.Checkpoint(ctx, tmpOutput); err != nil {
			return OutcomeEmpty, err
		}
	} else {
		if err := container.CreateSpatialIndex(ctx, tmpOutput, outputLayer); err != nil {
			return OutcomeEmpty, err
		}
	}
	if err := container.Move(tmpOutput, outputPath); err != nil {
		return OutcomeEmpty, err
	}
	slog.Info("Operation finished",
		slog.String("operation", operation),
		slog.String("output", outputPath),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return OutcomeCreated, nil
}

func validateInput(path string) error {
	if !container.IsSupported(path) {
		return fmt.Errorf("unsupported input file format: %s", path)
	}
	if !container.Exists(path) {
		return fmt.Errorf("input file does not exist: %s", path)
	}
	return nil
}

// checkExisting implements the idempotence contract: an existing output is a
// logged no-op unless force removes it first.
func checkExisting(outputPath, operation string, force bool) (bool, error) {
	if !container.Exists(outputPath) {
		return false, nil
	}
	if !force {
		slog.Info("Output exists already, skipping",
			slog.String("operation", operation), slog.String("output", outputPath))
		return true, nil
	}
	return false, container.Remove(outputPath)
}

func resolveLayer(ctx context.Context, path, layer string) (string, error) {
	if layer != "" {
		return layer, nil
	}
	c, err := container.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = c.Close() }()
	return c.OnlyLayer(ctx)
}

// wrapNullGeomFilter keeps NULL geometries out of the output. Templates name
// their output geometry column geom.
func wrapNullGeomFilter(stmt string) string {
	return fmt.Sprintf("SELECT sub.* FROM ( %s ) sub WHERE sub.geom IS NOT NULL", stmt)
}
