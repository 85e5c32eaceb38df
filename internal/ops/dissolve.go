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
	"fmt"
	"strings"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/duckdbx"
	"github.com/cardinalhq/georunner/internal/engine"
	"github.com/cardinalhq/georunner/internal/sqltemplate"
)

// AggregationKind enumerates the supported dissolve aggregations.
type AggregationKind string

const (
	AggCount  AggregationKind = "count"
	AggSum    AggregationKind = "sum"
	AggMin    AggregationKind = "min"
	AggMax    AggregationKind = "max"
	AggAvg    AggregationKind = "avg"
	AggMedian AggregationKind = "median"
	AggConcat AggregationKind = "concat"
	// AggJSON packs columns into one JSON object per dissolved group instead
	// of aggregating a single column. JSONColumns selects which; nil means
	// every column not used for grouping.
	AggJSON AggregationKind = "json"
)

// Aggregation describes one aggregated output column of a dissolve.
type Aggregation struct {
	Kind   AggregationKind
	Column string // source column; unused for AggJSON
	Alias  string // output column name; defaults to Column, or json for AggJSON
	// Distinct aggregates over distinct values only.
	Distinct bool
	// Separator is the AggConcat join string; default ",".
	Separator string
	// JSONColumns is only read for AggJSON.
	JSONColumns []string
}

// DissolveOptions steers Dissolve beyond the shared options.
type DissolveOptions struct {
	// GroupBy lists the attribute columns features are grouped on before
	// their geometries are unioned. Empty dissolves the whole layer into one
	// feature.
	GroupBy      []string
	Aggregations []Aggregation
	Common
}

// Dissolve unions the geometries of all features sharing the same GroupBy
// values. The aggregate query is only correct over the whole layer, so it
// always runs single-threaded. Line inputs get an ST_LineMerge so shared
// points disappear instead of being re-split by a later explode.
func Dissolve(ctx context.Context, inputPath, outputPath string, opts DissolveOptions) (engine.Outcome, error) {
	c, err := container.Open(inputPath)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	defer func() { _ = c.Close() }()
	layer := opts.InputLayer
	if layer == "" {
		if layer, err = c.OnlyLayer(ctx); err != nil {
			return engine.OutcomeEmpty, err
		}
	}
	info, err := c.LayerInfo(ctx, layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	groupBy, err := resolveColumns(opts.GroupBy, info.Columns)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	aggExprs, err := buildAggregations(opts.Aggregations, info.Columns, groupBy)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	geomExpr := "ST_Union_Agg(layer.{geometrycolumn})"
	forceType := info.GeometryType.ToMulti()
	if info.GeometryType.PrimitiveID() == 2 {
		geomExpr = fmt.Sprintf("ST_LineMerge(%s)", geomExpr)
		if opts.ExplodeCollections {
			forceType = container.LineString
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + geomExpr + " AS geom")
	for _, col := range groupBy {
		sb.WriteString("\n      ,layer." + duckdbx.QuoteIdent(col))
	}
	for _, expr := range aggExprs {
		sb.WriteString("\n      ," + expr)
	}
	sb.WriteString("\n  FROM \"{input_layer}\" layer")
	if len(groupBy) > 0 {
		quoted := make([]string, 0, len(groupBy))
		for _, col := range groupBy {
			quoted = append(quoted, "layer."+duckdbx.QuoteIdent(col))
		}
		sb.WriteString("\n GROUP BY " + strings.Join(quoted, ", "))
	}

	tmpl, err := sqltemplate.New(sb.String(), "geometrycolumn", "input_layer")
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	eopts := opts.engineOptions()
	eopts.Parallelism = 1
	eopts.ForceGeometryType = forceType
	return engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  layer,
		OutputPath:  outputPath,
		OutputLayer: opts.OutputLayer,
		Operation:   "dissolve",
		Template:    tmpl,
		Options:     eopts,
	})
}

// buildAggregations renders each aggregation to a SQL expression, resolving
// column name casing against the layer and rejecting unknown kinds or
// columns up front instead of at execution time.
func buildAggregations(aggs []Aggregation, available, groupBy []string) ([]string, error) {
	exprs := make([]string, 0, len(aggs))
	for _, agg := range aggs {
		switch agg.Kind {
		case AggJSON:
			cols := agg.JSONColumns
			if cols == nil {
				for _, col := range available {
					if !containsFold(groupBy, col) {
						cols = append(cols, col)
					}
				}
			} else {
				var err error
				if cols, err = resolveColumns(cols, available); err != nil {
					return nil, err
				}
			}
			pairs := make([]string, 0, len(cols))
			for _, col := range cols {
				pairs = append(pairs, fmt.Sprintf("'%s', layer.%s", duckdbx.EscapeString(col), duckdbx.QuoteIdent(col)))
			}
			alias := agg.Alias
			if alias == "" {
				alias = "json"
			}
			exprs = append(exprs, fmt.Sprintf("json_object(%s) AS %s",
				strings.Join(pairs, ", "), duckdbx.QuoteIdent(alias)))
		case AggCount, AggSum, AggMin, AggMax, AggAvg, AggMedian, AggConcat:
			resolved, err := resolveColumns([]string{agg.Column}, available)
			if err != nil {
				return nil, err
			}
			fn := string(agg.Kind)
			extra := ""
			if agg.Kind == AggConcat {
				fn = "string_agg"
				sep := agg.Separator
				if sep == "" {
					sep = ","
				}
				extra = fmt.Sprintf(", '%s'", duckdbx.EscapeString(sep))
			}
			distinct := ""
			if agg.Distinct {
				distinct = "DISTINCT "
			}
			alias := agg.Alias
			if alias == "" {
				alias = resolved[0]
			}
			exprs = append(exprs, fmt.Sprintf("%s(%slayer.%s%s) AS %s",
				fn, distinct, duckdbx.QuoteIdent(resolved[0]), extra, duckdbx.QuoteIdent(alias)))
		default:
			return nil, fmt.Errorf("aggregation %q is not supported", agg.Kind)
		}
	}
	return exprs, nil
}

// resolveColumns matches requested column names case-insensitively against
// the layer and returns them in the layer's casing.
func resolveColumns(requested, available []string) ([]string, error) {
	out := make([]string, 0, len(requested))
	var missing []string
	for _, req := range requested {
		found := ""
		for _, col := range available {
			if strings.EqualFold(req, col) {
				found = col
				break
			}
		}
		if found == "" {
			missing = append(missing, req)
			continue
		}
		out = append(out, found)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("columns %v not available in layer, existing columns: %v", missing, available)
	}
	return out, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
