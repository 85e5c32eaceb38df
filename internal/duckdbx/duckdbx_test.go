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

package duckdbx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryReleasesConnection(t *testing.T) {
	db, err := Open("", WithoutExtension("spatial"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	// With the pool capped at one connection, a leaked connection makes the
	// next Query hang until the context deadline.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		rows, err := db.Query(ctx, "SELECT 42")
		require.NoError(t, err)
		require.True(t, rows.Next())
		var v int
		require.NoError(t, rows.Scan(&v))
		assert.Equal(t, 42, v)
		require.NoError(t, rows.Close())
	}
}

func TestQueryErrorReleasesConnection(t *testing.T) {
	db, err := Open("", WithoutExtension("spatial"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = db.Query(ctx, "SELECT no_such_function()")
	require.Error(t, err)

	rows, err := db.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, rows.Close())
}

func TestEnvIntClamp(t *testing.T) {
	const name = "GEORUNNER_TEST_CLAMP"
	assert.Equal(t, 7, EnvIntClamp(name, 7, 1, 10))
	t.Setenv(name, "5")
	assert.Equal(t, 5, EnvIntClamp(name, 7, 1, 10))
	t.Setenv(name, "0")
	assert.Equal(t, 1, EnvIntClamp(name, 7, 1, 10))
	t.Setenv(name, "99")
	assert.Equal(t, 10, EnvIntClamp(name, 7, 1, 10))
	t.Setenv(name, "junk")
	assert.Equal(t, 7, EnvIntClamp(name, 7, 1, 10))
}

func TestParseSize(t *testing.T) {
	assert.Equal(t, int64(0), parseSize("0 bytes"))
	assert.Equal(t, int64(512), parseSize("512"))
	assert.Equal(t, int64(1536), parseSize("1.5 KiB"))
	assert.Equal(t, int64(2*1024*1024), parseSize("2 MiB"))
	assert.Equal(t, int64(0), parseSize("weird unit"))
}
