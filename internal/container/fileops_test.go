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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNative(t *testing.T) {
	assert.True(t, IsNative("/data/parcels.duckdb"))
	assert.True(t, IsNative("/data/parcels.DDB"))
	assert.True(t, IsNative("out.db"))
	assert.False(t, IsNative("/data/parcels.gpkg"))
	assert.False(t, IsNative("/data/parcels"))
}

func TestIsSupported(t *testing.T) {
	for _, p := range []string{"a.duckdb", "a.gpkg", "a.shp", "a.geojson", "a.fgb", "a.parquet"} {
		assert.True(t, IsSupported(p), p)
	}
	assert.False(t, IsSupported("a.csv"))
	assert.False(t, IsSupported("a"))
}

func TestDefaultLayer(t *testing.T) {
	assert.Equal(t, "parcels", DefaultLayer("/data/parcels.gpkg"))
	assert.Equal(t, "zones-2024", DefaultLayer("zones-2024.duckdb"))
	assert.Equal(t, "noext", DefaultLayer("/data/noext"))
}

func TestExistsRemoveMove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.duckdb")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path+".wal", []byte("w"), 0o644))
	assert.True(t, Exists(path))

	dst := filepath.Join(dir, "sub", "final.duckdb")
	require.NoError(t, Move(path, dst))
	assert.False(t, Exists(path))
	assert.True(t, Exists(dst))

	require.NoError(t, Remove(dst))
	assert.False(t, Exists(dst))
	// Removing a missing container is not an error.
	require.NoError(t, Remove(dst))
	// The WAL sidecar of the original is cleaned up the same way.
	require.NoError(t, Remove(path))
	assert.False(t, Exists(path+".wal"))
}

func TestCreateTempDir(t *testing.T) {
	dir, err := CreateTempDir("unit test")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(dir) }()
	assert.True(t, Exists(dir))
	assert.Contains(t, filepath.Base(dir), "unit_test-")
}
