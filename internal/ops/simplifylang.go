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

package ops

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/duckdbx"
	"github.com/cardinalhq/georunner/internal/engine"
	"github.com/cardinalhq/georunner/internal/simplify"
)

// SimplifyLangOptions steers SimplifyLang beyond the shared options.
type SimplifyLangOptions struct {
	Tolerance float64
	// Lookahead bounds the Lang window; values below 1 mean unbounded.
	Lookahead int
	// PreserveTopology keeps lines and rings that would collapse below the
	// minimum vertex count instead of dropping them.
	PreserveTopology bool
	// KeepGeometry pins every vertex intersecting it, e.g. a shared tile
	// boundary whose nodes must survive simplification.
	KeepGeometry orb.Geometry
	Common
}

// SimplifyLang simplifies geometries with the Lang algorithm, which DuckDB
// does not offer natively. Geometries stream out as WKB, get simplified in
// Go and are written back per row, so this path is single-threaded. Fully
// collapsed geometries are deleted from the output.
func SimplifyLang(ctx context.Context, inputPath, outputPath string, opts SimplifyLangOptions) (engine.Outcome, error) {
	if !container.IsSupported(inputPath) {
		return engine.OutcomeEmpty, fmt.Errorf("unsupported input file format: %s", inputPath)
	}
	if !container.Exists(inputPath) {
		return engine.OutcomeEmpty, fmt.Errorf("input file does not exist: %s", inputPath)
	}
	if container.Exists(outputPath) {
		if !opts.Force {
			slog.Info("Output exists already, skipping",
				slog.String("operation", "simplify-lang"), slog.String("output", outputPath))
			return engine.OutcomeSkippedExisting, nil
		}
		if err := container.Remove(outputPath); err != nil {
			return engine.OutcomeEmpty, err
		}
	}

	src, err := container.Open(inputPath)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	defer func() { _ = src.Close() }()
	inputLayer := opts.InputLayer
	if inputLayer == "" {
		if inputLayer, err = src.OnlyLayer(ctx); err != nil {
			return engine.OutcomeEmpty, err
		}
	}
	info, err := src.LayerInfo(ctx, inputLayer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	outputLayer := opts.OutputLayer
	if outputLayer == "" {
		outputLayer = container.DefaultLayer(outputPath)
	}

	tempDir, err := container.CreateTempDir("simplify-lang")
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	nativePath := inputPath
	if !container.IsNative(inputPath) {
		stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		nativePath = filepath.Join(tempDir, stem+".duckdb")
		if err := container.Convert(ctx, inputPath, inputLayer, nativePath, inputLayer); err != nil {
			return engine.OutcomeEmpty, err
		}
	}

	tmpOutput := filepath.Join(tempDir, "output.duckdb")
	if err := simplifyLangRewrite(ctx, nativePath, inputLayer, tmpOutput, outputLayer, info.GeometryColumn, opts); err != nil {
		return engine.OutcomeEmpty, err
	}

	rows, err := container.FeatureCount(ctx, tmpOutput, outputLayer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	if rows == 0 {
		slog.Info("Operation produced no features, no output written",
			slog.String("operation", "simplify-lang"), slog.String("output", outputPath))
		return engine.OutcomeEmpty, nil
	}
	if err := container.CreateSpatialIndex(ctx, tmpOutput, outputLayer); err != nil {
		return engine.OutcomeEmpty, err
	}
	if err := container.Move(tmpOutput, outputPath); err != nil {
		return engine.OutcomeEmpty, err
	}
	return engine.OutcomeCreated, nil
}

// simplifyLangRewrite copies the layer into the output container and then
// rewrites each geometry in place via its rowid, deleting rows whose
// geometry collapses entirely.
func simplifyLangRewrite(ctx context.Context, srcPath, srcLayer, dstPath, dstLayer, geomColumn string, opts SimplifyLangOptions) error {
	db, err := duckdbx.Open(dstPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := duckdbx.Attach(ctx, conn, "src", srcPath, true); err != nil {
		return err
	}
	copyStmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM src.%s",
		duckdbx.QuoteIdent(dstLayer), duckdbx.QuoteIdent(srcLayer))
	if _, err := conn.ExecContext(ctx, copyStmt); err != nil {
		return err
	}

	simplifyOpts := simplify.Options{
		Tolerance:        opts.Tolerance,
		Lookahead:        opts.Lookahead,
		KeepGeometry:     opts.KeepGeometry,
		PreserveTopology: opts.PreserveTopology,
	}
	geom := duckdbx.QuoteIdent(geomColumn)
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT rowid, ST_AsWKB(%s) FROM %s", geom, duckdbx.QuoteIdent(dstLayer)))
	if err != nil {
		return err
	}
	type rewrite struct {
		rowid int64
		wkb   []byte // nil: delete the row
	}
	var rewrites []rewrite
	for rows.Next() {
		var rowid int64
		var raw []byte
		if err := rows.Scan(&rowid, &raw); err != nil {
			_ = rows.Close()
			return err
		}
		if raw == nil {
			rewrites = append(rewrites, rewrite{rowid: rowid})
			continue
		}
		g, err := wkb.Unmarshal(raw)
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode geometry of row %d: %w", rowid, err)
		}
		simplified := simplify.Geometry(g, simplifyOpts)
		if simplified == nil {
			rewrites = append(rewrites, rewrite{rowid: rowid})
			continue
		}
		encoded, err := wkb.Marshal(simplified)
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("encode geometry of row %d: %w", rowid, err)
		}
		rewrites = append(rewrites, rewrite{rowid: rowid, wkb: encoded})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	updateStmt := fmt.Sprintf("UPDATE %s SET %s = ST_GeomFromWKB(?) WHERE rowid = ?",
		duckdbx.QuoteIdent(dstLayer), geom)
	deleteStmt := fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", duckdbx.QuoteIdent(dstLayer))
	for _, rw := range rewrites {
		if rw.wkb == nil {
			if _, err := conn.ExecContext(ctx, deleteStmt, rw.rowid); err != nil {
				return err
			}
			continue
		}
		if _, err := conn.ExecContext(ctx, updateStmt, rw.wkb, rw.rowid); err != nil {
			return err
		}
	}

	if err := duckdbx.Detach(ctx, conn, "src"); err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, "CHECKPOINT")
	return err
}
