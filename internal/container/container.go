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

// Package container is the driver layer for file-backed vector containers.
// The canonical container is a DuckDB database file, which the engine can
// query and index directly; anything the spatial extension's ST_Read
// understands (GeoPackage, shapefile, GeoJSON, FlatGeobuf, ...) plus parquet
// can be read and is normalized into a canonical container before batching.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cardinalhq/georunner/internal/batch"
	"github.com/cardinalhq/georunner/internal/duckdbx"
)

type kind int

const (
	kindNative kind = iota // DuckDB database file
	kindSpatial            // readable via ST_Read
	kindParquet
)

// LayerInfo describes one layer of a container. Read-only; looked up once
// per operation.
type LayerInfo struct {
	Name           string
	GeometryColumn string
	GeometryType   GeometryType
	FeatureCount   int64
	// Columns are the attribute columns in declared order, geometry excluded,
	// in the layer's original casing.
	Columns []string
	// CRS is the authority identifier of the layer's coordinate reference
	// system when the source format carries one, e.g. "EPSG:31370". Carried
	// through as metadata only.
	CRS string
}

// Container is a read-only handle on a file-backed container, used for
// metadata lookups and batch planning. It implements batch.RowSource for
// native containers.
type Container struct {
	path string
	kind kind
	db   *duckdbx.DB
}

var _ batch.RowSource = (*Container)(nil)

// Open opens the container at path for reading. Native containers are opened
// directly in read-only mode; other formats are accessed through an
// in-memory engine instance.
func Open(path string) (*Container, error) {
	if !Exists(path) {
		return nil, fmt.Errorf("container does not exist: %s", path)
	}
	c := &Container{path: path, kind: kindOf(path)}

	var err error
	if c.kind == kindNative {
		c.db, err = duckdbx.Open(duckdbx.ReadOnlyDSN(path))
	} else {
		c.db, err = duckdbx.Open("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open container %s: %w", path, err)
	}
	// Metadata lookups run many short queries; keep one warm connection
	// around instead of paying extension setup per query.
	c.db.SetMaxIdleConns(1)
	return c, nil
}

func (c *Container) Close() error { return c.db.Close() }

func (c *Container) Path() string { return c.path }

// Native reports whether the container is a DuckDB database the engine can
// query and index without normalization.
func (c *Container) Native() bool { return c.kind == kindNative }

// relation returns the FROM-clause source for a layer of this container.
func (c *Container) relation(layer string) string {
	switch c.kind {
	case kindNative:
		return duckdbx.QuoteIdent(layer)
	case kindParquet:
		return fmt.Sprintf("read_parquet('%s')", duckdbx.EscapeString(c.path))
	default:
		return fmt.Sprintf("ST_Read('%s', layer='%s')",
			duckdbx.EscapeString(c.path), duckdbx.EscapeString(layer))
	}
}

// ListLayers returns the layer names in the container.
func (c *Container) ListLayers(ctx context.Context) ([]string, error) {
	switch c.kind {
	case kindNative:
		return c.queryStrings(ctx, `
			SELECT table_name
			  FROM information_schema.tables
			 WHERE table_catalog = current_database()
			   AND table_schema = 'main'
			 ORDER BY table_name`)
	case kindParquet:
		return []string{DefaultLayer(c.path)}, nil
	default:
		layers, err := c.queryStrings(ctx, fmt.Sprintf(
			`SELECT unnest(layers).name FROM st_read_meta('%s')`,
			duckdbx.EscapeString(c.path)))
		if err != nil {
			return nil, fmt.Errorf("failed to list layers of %s: %w", c.path, err)
		}
		return layers, nil
	}
}

// OnlyLayer returns the single layer of the container, or an error when the
// container holds zero or more than one layer so the caller must name one.
func (c *Container) OnlyLayer(ctx context.Context) (string, error) {
	layers, err := c.ListLayers(ctx)
	if err != nil {
		return "", err
	}
	if len(layers) != 1 {
		return "", fmt.Errorf("%s contains %d layers, so the layer to use must be specified", c.path, len(layers))
	}
	return layers[0], nil
}

// LayerInfo looks up the layer's schema and feature count.
func (c *Container) LayerInfo(ctx context.Context, layer string) (*LayerInfo, error) {
	cols, types, err := c.describe(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to describe layer %s of %s: %w", layer, c.path, err)
	}

	info := &LayerInfo{Name: layer}
	for i, col := range cols {
		if info.GeometryColumn == "" && isGeometryColumn(col, types[i]) {
			info.GeometryColumn = col
			continue
		}
		info.Columns = append(info.Columns, col)
	}
	if info.GeometryColumn == "" {
		return nil, fmt.Errorf("layer %s of %s has no geometry column", layer, c.path)
	}

	if err := c.queryOne(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s", c.relation(layer)),
		&info.FeatureCount); err != nil {
		return nil, fmt.Errorf("failed to count features of %s: %w", layer, err)
	}

	if info.FeatureCount > 0 {
		var geomType sql.NullString
		if err := c.queryOne(ctx, fmt.Sprintf(
			"SELECT any_value(ST_GeometryType(%s))::VARCHAR FROM %s",
			duckdbx.QuoteIdent(info.GeometryColumn), c.relation(layer)),
			&geomType); err == nil && geomType.Valid {
			info.GeometryType = GeometryType(geomType.String)
		}
	}

	if c.kind == kindSpatial {
		// Best effort: not every format carries a CRS.
		var crs sql.NullString
		if err := c.queryOne(ctx, fmt.Sprintf(
			`SELECT layers[1].geometry_fields[1].crs.auth_name || ':' || layers[1].geometry_fields[1].crs.auth_code
			   FROM st_read_meta('%s')`, duckdbx.EscapeString(c.path)), &crs); err == nil && crs.Valid {
			info.CRS = crs.String
		}
	}

	return info, nil
}

// RowIDDomain returns the minimum and maximum rowid of a native layer.
func (c *Container) RowIDDomain(ctx context.Context, layer string) (int64, int64, error) {
	if c.kind != kindNative {
		return 0, 0, fmt.Errorf("rowid domain requires a native container, got %s", c.path)
	}
	var minID, maxID int64
	err := c.queryTwo(ctx, fmt.Sprintf(
		"SELECT MIN(rowid), MAX(rowid) FROM %s", duckdbx.QuoteIdent(layer)),
		&minID, &maxID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read rowid domain of %s: %w", layer, err)
	}
	return minID, maxID, nil
}

// RowIDQuantiles buckets the layer's rows into n equal-frequency groups
// ordered by rowid and returns each group's rowid range. This scans the full
// identifier column.
func (c *Container) RowIDQuantiles(ctx context.Context, layer string, n int) ([]batch.Range, error) {
	if c.kind != kindNative {
		return nil, fmt.Errorf("rowid quantiles require a native container, got %s", c.path)
	}
	stmt := fmt.Sprintf(`
		SELECT MIN(rowid) AS start_rowid, MAX(rowid) AS end_rowid
		  FROM (SELECT rowid, NTILE(%d) OVER (ORDER BY rowid) AS batch_id
		          FROM %s)
		 GROUP BY batch_id
		 ORDER BY batch_id`, n, duckdbx.QuoteIdent(layer))

	rows, err := c.db.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ranges []batch.Range
	for rows.Next() {
		var r batch.Range
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, rows.Err()
}

// describe returns the layer's column names and types in declared order.
func (c *Container) describe(ctx context.Context, layer string) (names, types []string, err error) {
	stmt := fmt.Sprintf("DESCRIBE SELECT * FROM %s", c.relation(layer))
	rows, err := c.db.Query(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	colCount, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		// DESCRIBE returns more columns than we need (null, key, default, extra).
		dest := make([]any, len(colCount))
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

func (c *Container) queryStrings(ctx context.Context, stmt string) ([]string, error) {
	rows, err := c.db.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Container) queryOne(ctx context.Context, stmt string, dest any) error {
	rows, err := c.db.Query(ctx, stmt)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return rows.Scan(dest)
}

func (c *Container) queryTwo(ctx context.Context, stmt string, dest1, dest2 any) error {
	rows, err := c.db.Query(ctx, stmt)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return rows.Scan(dest1, dest2)
}

func isGeometryColumn(name, typ string) bool {
	if strings.EqualFold(typ, "GEOMETRY") {
		return true
	}
	lower := strings.ToLower(name)
	return lower == "geom" || lower == "geometry"
}
