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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/duckdbx"
	"github.com/cardinalhq/georunner/internal/engine"
)

func TestSimplifyLang(t *testing.T) {
	requireSpatial(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "input.duckdb")
	output := filepath.Join(dir, "simplified.duckdb")
	seedContainer(t, input,
		"CREATE TABLE roads (id INTEGER, geom GEOMETRY)",
		`INSERT INTO roads VALUES
			(1, ST_GeomFromText('LINESTRING(0 0, 1 0.01, 2 0, 3 -0.01, 4 0)')),
			(2, ST_GeomFromText('LINESTRING(0 10, 5 15, 10 10)'))`)

	outcome, err := SimplifyLang(context.Background(), input, output, SimplifyLangOptions{
		Tolerance: 0.5,
		Lookahead: 8,
		Common:    serialCommon(),
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCreated, outcome)

	ctx := context.Background()
	db, err := duckdbx.Open(output)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows, err := db.Query(ctx, "SELECT id, ST_NPoints(geom) FROM simplified ORDER BY id")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	points := map[int]int{}
	for rows.Next() {
		var id, np int
		require.NoError(t, rows.Scan(&id, &np))
		points[id] = np
	}
	require.NoError(t, rows.Err())
	// The flat wiggle collapses to its endpoints; the sharp bend survives.
	assert.Equal(t, 2, points[1])
	assert.Equal(t, 3, points[2])
}

func TestSimplifyLangDropsCollapsed(t *testing.T) {
	requireSpatial(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "input.duckdb")
	output := filepath.Join(dir, "simplified.duckdb")
	// A sliver polygon that collapses below a valid ring at this tolerance.
	seedContainer(t, input,
		"CREATE TABLE parcels (id INTEGER, geom GEOMETRY)",
		`INSERT INTO parcels VALUES
			(1, ST_GeomFromText('POLYGON((0 0, 5 0.01, 10 0, 0 0))')),
			(2, ST_MakeEnvelope(20, 20, 30, 30))`)

	outcome, err := SimplifyLang(context.Background(), input, output, SimplifyLangOptions{
		Tolerance: 1,
		Common:    serialCommon(),
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCreated, outcome)

	n, err := container.FeatureCount(context.Background(), output, "simplified")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
