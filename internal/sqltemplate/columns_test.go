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

func TestProjectColumnsAll(t *testing.T) {
	frags, err := ProjectColumns(nil, []string{"id", "Name", "AREA"}, "layer", "l1_")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "Name", "AREA"}, frags.Names)
	assert.Equal(t, `,"id", "Name", "AREA"`, frags.Quoted)
	assert.Equal(t, `,layer."id", layer."Name", layer."AREA"`, frags.Prefixed)
	assert.Equal(t, `,layer."id" "l1_id", layer."Name" "l1_Name", layer."AREA" "l1_AREA"`, frags.PrefixedAliased)
	assert.Equal(t, `,NULL "l1_id", NULL "l1_Name", NULL "l1_AREA"`, frags.NullAliased)
	assert.Equal(t, `,sub."l1_id", sub."l1_Name", sub."l1_AREA"`, frags.FromSubselect)
}

func TestProjectColumnsCaseInsensitiveKeepsSourceCasing(t *testing.T) {
	// Requested casing does not matter; output follows the layer's own
	// declared casing and order.
	frags, err := ProjectColumns([]string{"NAME", "area"}, []string{"id", "Name", "AREA", "geom"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "AREA"}, frags.Names)
	assert.Equal(t, `,"Name", "AREA"`, frags.Quoted)
}

func TestProjectColumnsMissing(t *testing.T) {
	_, err := ProjectColumns([]string{"bogus", "Name"}, []string{"id", "Name"}, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	assert.Contains(t, err.Error(), "existing columns: id, Name")
}

func TestProjectColumnsEmptySelection(t *testing.T) {
	// An explicit empty request selects no attribute columns at all; the
	// fragments collapse to empty strings so the select list stays valid.
	frags, err := ProjectColumns([]string{}, []string{"id", "Name"}, "layer", "l1_")
	require.NoError(t, err)
	assert.Empty(t, frags.Names)
	assert.Empty(t, frags.Quoted)
	assert.Empty(t, frags.PrefixedAliased)
}

func TestProjectColumnsQuotesEmbeddedQuotes(t *testing.T) {
	frags, err := ProjectColumns(nil, []string{`we"ird`}, "", "")
	require.NoError(t, err)
	assert.Equal(t, `,"we""ird"`, frags.Quoted)
}
