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
	"fmt"
	"strings"
)

// ColumnFragments holds the projection fragments needed to combine columns
// from one or two source layers inside a single SQL statement. Every
// non-empty fragment starts with a leading comma so it can be appended
// directly after the geometry expression in a select list.
type ColumnFragments struct {
	// Names are the resolved column names, in source order and source casing.
	Names []string
	// Quoted: ,"col1", "col2"
	Quoted string
	// Prefixed: ,alias."col1", alias."col2"
	Prefixed string
	// PrefixedAliased: ,alias."col1" "pfxcol1", ... (disambiguates two joined layers)
	PrefixedAliased string
	// NullAliased: ,NULL "pfxcol1", ... (outer-join branches with no match)
	NullAliased string
	// FromSubselect: ,sub."pfxcol1", ... (re-selecting from a wrapping sub-select)
	FromSubselect string
}

// ProjectColumns resolves the requested column subset against the columns
// actually present and derives the projection fragments. A nil request means
// all available columns. Matching is case-insensitive, but the output always
// follows the source layer's declared casing. Requested columns that do not
// exist are a hard error naming the offenders.
func ProjectColumns(requested, available []string, tableAlias, namePrefix string) (ColumnFragments, error) {
	columns := available
	if requested != nil {
		availableUpper := make(map[string]struct{}, len(available))
		for _, col := range available {
			availableUpper[strings.ToUpper(col)] = struct{}{}
		}
		var missing []string
		requestedUpper := make(map[string]struct{}, len(requested))
		for _, col := range requested {
			upper := strings.ToUpper(col)
			requestedUpper[upper] = struct{}{}
			if _, ok := availableUpper[upper]; !ok {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			return ColumnFragments{}, fmt.Errorf(
				"columns %s not available in layer, existing columns: %s",
				strings.Join(missing, ", "), strings.Join(available, ", "))
		}

		// Keep source order and source casing.
		columns = nil
		for _, col := range available {
			if _, ok := requestedUpper[strings.ToUpper(col)]; ok {
				columns = append(columns, col)
			}
		}
	}

	fragments := ColumnFragments{Names: columns}
	if len(columns) == 0 {
		return fragments, nil
	}

	aliasDot := ""
	if tableAlias != "" {
		aliasDot = tableAlias + "."
	}

	quoted := make([]string, 0, len(columns))
	prefixed := make([]string, 0, len(columns))
	prefixedAliased := make([]string, 0, len(columns))
	nullAliased := make([]string, 0, len(columns))
	fromSubselect := make([]string, 0, len(columns))
	for _, col := range columns {
		quoted = append(quoted, quote(col))
		prefixed = append(prefixed, aliasDot+quote(col))
		prefixedAliased = append(prefixedAliased, fmt.Sprintf("%s%s %s", aliasDot, quote(col), quote(namePrefix+col)))
		nullAliased = append(nullAliased, fmt.Sprintf("NULL %s", quote(namePrefix+col)))
		fromSubselect = append(fromSubselect, "sub."+quote(namePrefix+col))
	}

	fragments.Quoted = "," + strings.Join(quoted, ", ")
	fragments.Prefixed = "," + strings.Join(prefixed, ", ")
	fragments.PrefixedAliased = "," + strings.Join(prefixedAliased, ", ")
	fragments.NullAliased = "," + strings.Join(nullAliased, ", ")
	fragments.FromSubselect = "," + strings.Join(fromSubselect, ", ")
	return fragments, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
