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

package container

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/georunner/internal/duckdbx"
)

var nativeExts = map[string]struct{}{
	".duckdb": {},
	".ddb":    {},
	".db":     {},
}

var spatialExts = map[string]struct{}{
	".gpkg":    {},
	".shp":     {},
	".geojson": {},
	".json":    {},
	".fgb":     {},
	".gml":     {},
	".kml":     {},
	".sqlite":  {},
}

// IsNative reports whether path is a DuckDB database file the engine can use
// without normalization.
func IsNative(path string) bool {
	_, ok := nativeExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsSupported reports whether path has a container format this module can read.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := nativeExts[ext]; ok {
		return true
	}
	if _, ok := spatialExts[ext]; ok {
		return true
	}
	return ext == ".parquet"
}

func kindOf(path string) kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case IsNative(path):
		return kindNative
	case ext == ".parquet":
		return kindParquet
	default:
		return kindSpatial
	}
}

// Exists reports whether a container exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DefaultLayer returns the default layer name for a container path: the
// filename without its extension.
func DefaultLayer(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CreateTempDir creates a scoped working directory for one operation under
// the system temp dir. The caller owns removal.
func CreateTempDir(operation string) (string, error) {
	operation = strings.ReplaceAll(operation, " ", "_")
	dir := filepath.Join(os.TempDir(), "georunner",
		fmt.Sprintf("%s-%s", operation, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, nil
}

// Remove deletes the container file and its WAL sidecar, ignoring files that
// do not exist.
func Remove(path string) error {
	var errs *multierror.Error
	for _, p := range []string{path, path + ".wal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Move relocates a finished container to its final path, creating parent
// directories as needed. Rename is atomic on the same filesystem; a copy
// fallback covers cross-device moves.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Convert normalizes srcPath's layer into a native container at dstPath so
// the engine can attach, batch and index it. dstPath must not exist yet.
func Convert(ctx context.Context, srcPath, srcLayer, dstPath, dstLayer string) error {
	src, err := Open(srcPath)
	if err != nil {
		return err
	}
	relation := src.relation(srcLayer)
	if err := src.Close(); err != nil {
		return err
	}

	db, err := duckdbx.Open(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", dstPath, err)
	}
	defer func() { _ = db.Close() }()

	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		duckdbx.QuoteIdent(dstLayer), relation)
	if err := db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to convert %s layer %s to %s: %w", srcPath, srcLayer, dstPath, err)
	}
	return db.Exec(ctx, "CHECKPOINT")
}

// AppendOptions tune how rows are appended into an output container.
type AppendOptions struct {
	// ForceGeometryType casts geometries to the declared output type; only
	// promotion to multi-part types changes the data.
	ForceGeometryType GeometryType
	// ExplodeCollections writes one row per single-part geometry.
	ExplodeCollections bool
}

// Appender holds an output container open across many appends so the merge
// phase does not reopen the database per batch. The database reports memory
// metrics while the appender is open; Close must run before anything else
// opens the output file.
type Appender struct {
	db   *duckdbx.DB
	conn *sql.Conn
}

// NewAppender opens the output container for writing. The name tags the
// container's memory metrics.
func NewAppender(ctx context.Context, path, name string) (*Appender, error) {
	db, err := duckdbx.Open(path,
		duckdbx.WithMetrics(10*time.Second),
		duckdbx.WithMetricsContext(ctx),
		duckdbx.WithName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open output container %s: %w", path, err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Appender{db: db, conn: conn}, nil
}

// Append appends srcPath's layer into the output's dstLayer, creating the
// table when absent.
func (a *Appender) Append(ctx context.Context, srcPath, srcLayer, dstLayer string, opts AppendOptions) error {
	return appendInto(ctx, a.conn, srcPath, srcLayer, dstLayer, opts)
}

// Close releases the output container so it can be reopened for indexing.
func (a *Appender) Close() error {
	var errs *multierror.Error
	if err := a.conn.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Append appends srcPath's layer into dstPath's layer, creating the
// destination table when absent. The source is attached read-only; only the
// caller's connection writes to the destination.
func Append(ctx context.Context, srcPath, srcLayer, dstPath, dstLayer string, opts AppendOptions) error {
	db, err := duckdbx.Open(dstPath)
	if err != nil {
		return fmt.Errorf("failed to open output container %s: %w", dstPath, err)
	}
	defer func() { _ = db.Close() }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	return appendInto(ctx, conn, srcPath, srcLayer, dstLayer, opts)
}

func appendInto(ctx context.Context, conn *sql.Conn, srcPath, srcLayer, dstLayer string, opts AppendOptions) error {
	if err := duckdbx.Attach(ctx, conn, "src", srcPath, true); err != nil {
		return err
	}
	defer func() { _ = duckdbx.Detach(context.WithoutCancel(ctx), conn, "src") }()

	names, types, err := describeTable(ctx, conn, "src", srcLayer)
	if err != nil {
		return fmt.Errorf("failed to describe %s of %s: %w", srcLayer, srcPath, err)
	}

	selectList := make([]string, 0, len(names))
	targetCols := make([]string, 0, len(names))
	for i, name := range names {
		expr := fmt.Sprintf("t.%s", duckdbx.QuoteIdent(name))
		if isGeometryColumn(name, types[i]) {
			if opts.ExplodeCollections {
				expr = fmt.Sprintf("unnest(ST_Dump(%s)).geom", expr)
			}
			if opts.ForceGeometryType.IsMulti() && !opts.ExplodeCollections {
				expr = fmt.Sprintf("ST_Multi(%s)", expr)
			}
		}
		selectList = append(selectList, fmt.Sprintf("%s AS %s", expr, duckdbx.QuoteIdent(name)))
		targetCols = append(targetCols, duckdbx.QuoteIdent(name))
	}

	selectStmt := fmt.Sprintf("SELECT %s FROM src.%s t",
		strings.Join(selectList, ", "), duckdbx.QuoteIdent(srcLayer))

	exists, err := tableExists(ctx, conn, dstLayer)
	if err != nil {
		return err
	}
	var stmt string
	if exists {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) %s",
			duckdbx.QuoteIdent(dstLayer), strings.Join(targetCols, ", "), selectStmt)
	} else {
		stmt = fmt.Sprintf("CREATE TABLE %s AS %s", duckdbx.QuoteIdent(dstLayer), selectStmt)
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to append %s into layer %s: %w", srcPath, dstLayer, err)
	}
	return nil
}

// CreateSpatialIndex builds an RTREE index on the layer's geometry column
// and checkpoints so the index is persisted before the container is moved.
func CreateSpatialIndex(ctx context.Context, path, layer string) error {
	db, err := duckdbx.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open container %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	names, types, err := describeTable(ctx, conn, "", layer)
	if err != nil {
		return fmt.Errorf("failed to describe %s of %s: %w", layer, path, err)
	}
	geomCol := ""
	for i, name := range names {
		if strings.EqualFold(types[i], "GEOMETRY") {
			geomCol = name
			break
		}
	}
	if geomCol == "" {
		// Nothing to index; engine tests use plain tables.
		return nil
	}

	idx := fmt.Sprintf("idx_%s_%s", layer, geomCol)
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING RTREE (%s)",
		duckdbx.QuoteIdent(idx), duckdbx.QuoteIdent(layer), duckdbx.QuoteIdent(geomCol))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create spatial index on %s: %w", path, err)
	}
	if _, err := conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("failed to checkpoint %s: %w", path, err)
	}
	return nil
}

// Checkpoint flushes the container's WAL into the database file so a bare
// file move carries the full contents.
func Checkpoint(ctx context.Context, path string) error {
	db, err := duckdbx.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open container %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Exec(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("failed to checkpoint %s: %w", path, err)
	}
	return nil
}

// HasSpatialIndex reports whether the layer has an RTREE index.
func HasSpatialIndex(ctx context.Context, path, layer string) (bool, error) {
	db, err := duckdbx.Open(duckdbx.ReadOnlyDSN(path))
	if err != nil {
		return false, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(ctx,
		"SELECT count(*) FROM duckdb_indexes() WHERE table_name = ?", layer)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

// FeatureCount counts rows of a native layer; helper for callers that hold
// only a path.
func FeatureCount(ctx context.Context, path, layer string) (int64, error) {
	c, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Close() }()
	info, err := c.LayerInfo(ctx, layer)
	if err != nil {
		return 0, err
	}
	return info.FeatureCount, nil
}

func describeTable(ctx context.Context, conn *sql.Conn, catalog, table string) (names, types []string, err error) {
	qualified := duckdbx.QuoteIdent(table)
	if catalog != "" {
		qualified = duckdbx.QuoteIdent(catalog) + "." + qualified
	}
	rows, err := conn.QueryContext(ctx, "DESCRIBE SELECT * FROM "+qualified)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		dest := make([]any, len(cols))
		var name, typ sql.NullString
		dest[0] = &name
		dest[1] = &typ
		for i := 2; i < len(dest); i++ {
			dest[i] = new(sql.NullString)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}
		names = append(names, name.String)
		types = append(types, typ.String)
	}
	return names, types, rows.Err()
}

func tableExists(ctx context.Context, conn *sql.Conn, table string) (bool, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT count(*)
		  FROM information_schema.tables
		 WHERE table_catalog = current_database()
		   AND table_schema = 'main'
		   AND table_name = ?`, table)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}
