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

package sqltemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectsSlots(t *testing.T) {
	tmpl, err := New(`SELECT {geometrycolumn}{columns_to_select_str} FROM "{input_layer}" layer WHERE 1=1 {batch_filter}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_filter", "columns_to_select_str", "geometrycolumn", "input_layer"}, tmpl.Slots())
	assert.True(t, tmpl.Has("batch_filter"))
	assert.False(t, tmpl.Has("nonexistent"))
}

func TestNewRequiredSlots(t *testing.T) {
	_, err := New("SELECT {geometrycolumn} FROM t", "geometrycolumn", "input_layer", "batch_filter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_filter, input_layer")

	tmpl, err := New("SELECT {geometrycolumn} FROM t", "geometrycolumn")
	require.NoError(t, err)
	assert.NotNil(t, tmpl)
}

func TestFill(t *testing.T) {
	tmpl, err := New(`SELECT {geometrycolumn} AS geom FROM "{input_layer}" layer WHERE 1=1 {batch_filter}`)
	require.NoError(t, err)

	out, err := tmpl.Fill(map[string]string{
		"geometrycolumn": "layer.geom",
		"input_layer":    "parcels",
		"batch_filter":   "AND layer.rowid >= 10 ",
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT layer.geom AS geom FROM "parcels" layer WHERE 1=1 AND layer.rowid >= 10 `, out)
}

func TestFillRepeatedSlot(t *testing.T) {
	tmpl, err := New("{geometrycolumn}, ST_Buffer({geometrycolumn}, 1)")
	require.NoError(t, err)
	out, err := tmpl.Fill(map[string]string{"geometrycolumn": "g"})
	require.NoError(t, err)
	assert.Equal(t, "g, ST_Buffer(g, 1)", out)
}

func TestFillMissingValue(t *testing.T) {
	tmpl, err := New("SELECT {geometrycolumn} FROM {input_layer}")
	require.NoError(t, err)
	_, err = tmpl.Fill(map[string]string{"geometrycolumn": "geom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input_layer")
}

func TestFillExtraValuesIgnored(t *testing.T) {
	tmpl, err := New("SELECT {geometrycolumn} FROM t")
	require.NoError(t, err)
	out, err := tmpl.Fill(map[string]string{
		"geometrycolumn": "geom",
		"unused":         "whatever",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT geom FROM t", out)
}

func TestMustNewPanicsOnMissingSlot(t *testing.T) {
	assert.Panics(t, func() {
		MustNew("SELECT 1", "geometrycolumn")
	})
}
