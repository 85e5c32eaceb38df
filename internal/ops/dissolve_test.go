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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAggregations(t *testing.T) {
	available := []string{"id", "Name", "population"}

	tests := []struct {
		name     string
		agg      Aggregation
		expected string
	}{
		{
			name:     "count",
			agg:      Aggregation{Kind: AggCount, Column: "id"},
			expected: `count(layer."id") AS "id"`,
		},
		{
			name:     "sum with alias",
			agg:      Aggregation{Kind: AggSum, Column: "population", Alias: "total"},
			expected: `sum(layer."population") AS "total"`,
		},
		{
			name:     "case insensitive column",
			agg:      Aggregation{Kind: AggMax, Column: "NAME"},
			expected: `max(layer."Name") AS "Name"`,
		},
		{
			name:     "distinct count",
			agg:      Aggregation{Kind: AggCount, Column: "id", Distinct: true},
			expected: `count(DISTINCT layer."id") AS "id"`,
		},
		{
			name:     "concat default separator",
			agg:      Aggregation{Kind: AggConcat, Column: "Name"},
			expected: `string_agg(layer."Name", ',') AS "Name"`,
		},
		{
			name:     "concat custom separator",
			agg:      Aggregation{Kind: AggConcat, Column: "Name", Separator: "; "},
			expected: `string_agg(layer."Name", '; ') AS "Name"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exprs, err := buildAggregations([]Aggregation{tt.agg}, available, nil)
			require.NoError(t, err)
			require.Len(t, exprs, 1)
			assert.Equal(t, tt.expected, exprs[0])
		})
	}
}

func TestBuildAggregationsJSON(t *testing.T) {
	available := []string{"id", "name", "zone"}

	// Without JSONColumns every column not used for grouping is packed.
	exprs, err := buildAggregations(
		[]Aggregation{{Kind: AggJSON}}, available, []string{"zone"})
	require.NoError(t, err)
	require.Len(t, exprs, 1)
	assert.Equal(t, `json_object('id', layer."id", 'name', layer."name") AS "json"`, exprs[0])

	// An explicit column list is resolved against the layer.
	exprs, err = buildAggregations(
		[]Aggregation{{Kind: AggJSON, JSONColumns: []string{"NAME"}, Alias: "attrs"}}, available, nil)
	require.NoError(t, err)
	assert.Equal(t, `json_object('name', layer."name") AS "attrs"`, exprs[0])
}

func TestBuildAggregationsErrors(t *testing.T) {
	available := []string{"id"}

	_, err := buildAggregations([]Aggregation{{Kind: "stddev", Column: "id"}}, available, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")

	_, err = buildAggregations([]Aggregation{{Kind: AggSum, Column: "bogus"}}, available, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = buildAggregations([]Aggregation{{Kind: AggJSON, JSONColumns: []string{"bogus"}}}, available, nil)
	require.Error(t, err)
}

func TestResolveColumns(t *testing.T) {
	available := []string{"id", "Name", "AREA"}

	out, err := resolveColumns([]string{"name", "area"}, available)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "AREA"}, out)

	_, err = resolveColumns([]string{"id", "bogus"}, available)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}
