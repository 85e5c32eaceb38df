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
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/georunner/internal/duckdbx"
)

// requireSpatial skips the test when the DuckDB spatial extension cannot be
// loaded, e.g. on an air-gapped builder without a bundled extension.
func requireSpatial(t *testing.T) {
	t.Helper()
	db, err := duckdbx.Open("")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Skipf("spatial extension unavailable: %v", err)
	}
	_ = conn.Close()
}

// makeContainer creates a native container with one polygon layer of n rows.
// Each feature is a small square centred on (i, i), so consecutive features
// intersect and features far apart do not.
func makeContainer(t *testing.T, path, layer string, n int) {
	t.Helper()
	ctx := context.Background()
	db, err := duckdbx.Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE %s (id INTEGER, name VARCHAR, geom GEOMETRY)",
		duckdbx.QuoteIdent(layer))))
	require.NoError(t, db.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s SELECT i, 'feature_' || i, ST_MakeEnvelope(i - 0.6, i - 0.6, i + 0.6, i + 0.6) FROM range(%d) t(i)",
		duckdbx.QuoteIdent(layer), n)))
	require.NoError(t, db.Exec(ctx, "CHECKPOINT"))
}

func TestListLayersAndOnlyLayer(t *testing.T) {
	requireSpatial(t)
	path := filepath.Join(t.TempDir(), "input.duckdb")
	makeContainer(t, path, "parcels", 3)

	c, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	layers, err := c.ListLayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"parcels"}, layers)

	only, err := c.OnlyLayer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "parcels", only)
}

func TestOnlyLayerAmbiguous(t *testing.T) {
	requireSpatial(t)
	path := filepath.Join(t.TempDir(), "input.duckdb")
	makeContainer(t, path, "parcels", 2)

	db, err := duckdbx.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Exec(context.Background(),
		"CREATE TABLE zones (id INTEGER, geom GEOMETRY)"))
	require.NoError(t, db.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = c.OnlyLayer(context.Background())
	require.Error(t, err)
}

func TestLayerInfo(t *testing.T) {
	requireSpatial(t)
	path := filepath.Join(t.TempDir(), "input.duckdb")
	makeContainer(t, path, "parcels", 5)

	c, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	assert.True(t, c.Native())

	info, err := c.LayerInfo(context.Background(), "parcels")
	require.NoError(t, err)
	assert.Equal(t, "parcels", info.Name)
	assert.Equal(t, "geom", info.GeometryColumn)
	assert.Equal(t, int64(5), info.FeatureCount)
	assert.Equal(t, []string{"id", "name"}, info.Columns)
}

func TestRowIDDomainAndQuantiles(t *testing.T) {
	requireSpatial(t)
	path := filepath.Join(t.TempDir(), "input.duckdb")
	makeContainer(t, path, "parcels", 100)

	c, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	minID, maxID, err := c.RowIDDomain(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, int64(0), minID)
	assert.Equal(t, int64(99), maxID)

	ranges, err := c.RowIDQuantiles(ctx, "parcels", 4)
	require.NoError(t, err)
	require.Len(t, ranges, 4)
	assert.Equal(t, int64(0), ranges[0].Start)
	assert.Equal(t, int64(99), ranges[3].End)
	for i := 1; i < len(ranges); i++ {
		assert.Greater(t, ranges[i].Start, ranges[i-1].End)
	}
}

func TestFeatureCount(t *testing.T) {
	requireSpatial(t)
	path := filepath.Join(t.TempDir(), "input.duckdb")
	makeContainer(t, path, "parcels", 7)

	n, err := FeatureCount(context.Background(), path, "parcels")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestAppendCreatesAndExtends(t *testing.T) {
	requireSpatial(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.duckdb")
	dst := filepath.Join(dir, "dst.duckdb")
	makeContainer(t, src, "parcels", 4)

	ctx := context.Background()
	// First append creates the destination table.
	require.NoError(t, Append(ctx, src, "parcels", dst, "output", AppendOptions{}))
	n, err := FeatureCount(ctx, dst, "output")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// Second append extends it.
	require.NoError(t, Append(ctx, src, "parcels", dst, "output", AppendOptions{}))
	n, err = FeatureCount(ctx, dst, "output")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestAppenderMergesManySources(t *testing.T) {
	requireSpatial(t)
	dir := t.TempDir()
	src1 := filepath.Join(dir, "src1.duckdb")
	src2 := filepath.Join(dir, "src2.duckdb")
	dst := filepath.Join(dir, "dst.duckdb")
	makeContainer(t, src1, "parcels", 3)
	makeContainer(t, src2, "parcels", 5)

	ctx := context.Background()
	a, err := NewAppender(ctx, dst, "unit test")
	require.NoError(t, err)
	require.NoError(t, a.Append(ctx, src1, "parcels", "output", AppendOptions{}))
	require.NoError(t, a.Append(ctx, src2, "parcels", "output", AppendOptions{}))
	require.NoError(t, a.Close())

	// The output must be readable through a fresh handle after Close.
	n, err := FeatureCount(ctx, dst, "output")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestAppendForceMulti(t *testing.T) {
	requireSpatial(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.duckdb")
	dst := filepath.Join(dir, "dst.duckdb")
	makeContainer(t, src, "parcels", 2)

	ctx := context.Background()
	require.NoError(t, Append(ctx, src, "parcels", dst, "output", AppendOptions{
		ForceGeometryType: MultiPolygon,
	}))

	db, err := duckdbx.Open(dst)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	rows, err := db.Query(ctx, "SELECT DISTINCT ST_GeometryType(geom)::VARCHAR FROM output")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	require.True(t, rows.Next())
	var geomType string
	require.NoError(t, rows.Scan(&geomType))
	assert.Equal(t, "MULTIPOLYGON", geomType)
	assert.False(t, rows.Next())
	require.NoError(t, rows.Err())
}

func TestSpatialIndexRoundTrip(t *testing.T) {
	requireSpatial(t)
	path := filepath.Join(t.TempDir(), "input.duckdb")
	makeContainer(t, path, "parcels", 10)

	ctx := context.Background()
	indexed, err := HasSpatialIndex(ctx, path, "parcels")
	require.NoError(t, err)
	assert.False(t, indexed)

	require.NoError(t, CreateSpatialIndex(ctx, path, "parcels"))

	indexed, err = HasSpatialIndex(ctx, path, "parcels")
	require.NoError(t, err)
	assert.True(t, indexed)
}

func TestConvertNativeToNative(t *testing.T) {
	requireSpatial(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.duckdb")
	dst := filepath.Join(dir, "dst.duckdb")
	makeContainer(t, src, "parcels", 6)

	ctx := context.Background()
	require.NoError(t, Convert(ctx, src, "parcels", dst, "parcels"))
	n, err := FeatureCount(ctx, dst, "parcels")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}
