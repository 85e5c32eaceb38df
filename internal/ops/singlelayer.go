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
	"log/slog"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/engine"
	"github.com/cardinalhq/georunner/internal/sqltemplate"
)

// Buffer computes a buffer around every feature. A negative distance only
// makes sense for polygons and produces invalid slivers, so only the polygon
// pieces are extracted. Buffering always yields polygons.
func Buffer(ctx context.Context, inputPath, outputPath string, distance float64, quadrantSegments int, c Common) (engine.Outcome, error) {
	var text string
	if distance < 0 {
		// A shrunk feature can collapse to an empty polygon; those rows are
		// dropped here rather than written.
		text = fmt.Sprintf(`SELECT ST_CollectionExtract(ST_Buffer({geometrycolumn}, %[1]v, %[2]d), 3) AS geom
      {columns_to_select_str}
  FROM "{input_layer}" layer
 WHERE 1=1
   {batch_filter}
   AND NOT ST_IsEmpty(ST_Buffer({geometrycolumn}, %[1]v, %[2]d))`, distance, quadrantSegments)
	} else {
		text = fmt.Sprintf(`SELECT ST_Buffer({geometrycolumn}, %v, %d) AS geom
      {columns_to_select_str}
  FROM "{input_layer}" layer
 WHERE 1=1
   {batch_filter}`, distance, quadrantSegments)
	}
	tmpl, err := singleLayerTemplate(text)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	opts := c.engineOptions()
	opts.ForceGeometryType = container.MultiPolygon
	opts.FilterNullGeoms = true
	return engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  c.InputLayer,
		OutputPath:  outputPath,
		OutputLayer: c.OutputLayer,
		Operation:   "buffer",
		Template:    tmpl,
		Columns:     c.Columns,
		Options:     opts,
	})
}

// ConvexHull computes the convex hull of every feature. The output geometry
// type follows the input layer.
func ConvexHull(ctx context.Context, inputPath, outputPath string, c Common) (engine.Outcome, error) {
	tmpl, err := singleLayerTemplate(`SELECT ST_ConvexHull({geometrycolumn}) AS geom
      {columns_to_select_str}
  FROM "{input_layer}" layer
 WHERE 1=1
   {batch_filter}`)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	geomType, err := layerGeometryType(ctx, inputPath, c.InputLayer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	opts := c.engineOptions()
	opts.ForceGeometryType = geomType
	opts.FilterNullGeoms = true
	return engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  c.InputLayer,
		OutputPath:  outputPath,
		OutputLayer: c.OutputLayer,
		Operation:   "convexhull",
		Template:    tmpl,
		Columns:     c.Columns,
		Options:     opts,
	})
}

// Simplify reduces vertex counts with Douglas-Peucker. PreserveTopology
// keeps degenerate results as valid geometries at the cost of a looser
// tolerance guarantee. For the Lang algorithm see SimplifyLang.
func Simplify(ctx context.Context, inputPath, outputPath string, tolerance float64, preserveTopology bool, c Common) (engine.Outcome, error) {
	fn := "ST_Simplify"
	if preserveTopology {
		fn = "ST_SimplifyPreserveTopology"
	}
	tmpl, err := singleLayerTemplate(fmt.Sprintf(`SELECT %s({geometrycolumn}, %v) AS geom
      {columns_to_select_str}
  FROM "{input_layer}" layer
 WHERE 1=1
   {batch_filter}`, fn, tolerance))
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	geomType, err := layerGeometryType(ctx, inputPath, c.InputLayer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	opts := c.engineOptions()
	opts.ForceGeometryType = geomType
	opts.FilterNullGeoms = true
	return engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  c.InputLayer,
		OutputPath:  outputPath,
		OutputLayer: c.OutputLayer,
		Operation:   "simplify",
		Template:    tmpl,
		Columns:     c.Columns,
		Options:     opts,
	})
}

// DeleteDuplicates keeps the first feature of every group of byte-identical
// geometries. The query is only correct over the whole layer, so it always
// runs as a single batch.
func DeleteDuplicates(ctx context.Context, inputPath, outputPath string, c Common) (engine.Outcome, error) {
	tmpl, err := singleLayerTemplate(`SELECT {geometrycolumn} AS geom
      {columns_to_select_str}
  FROM "{input_layer}" layer
 WHERE layer.rowid IN (
    SELECT MIN(layer_sub.rowid)
      FROM "{input_layer}" layer_sub
     GROUP BY ST_AsWKB(layer_sub.{geometrycolumn})
 )`)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	geomType, err := layerGeometryType(ctx, inputPath, c.InputLayer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	opts := c.engineOptions()
	opts.Parallelism = 1
	opts.ForceGeometryType = geomType
	opts.FilterNullGeoms = true
	return engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  c.InputLayer,
		OutputPath:  outputPath,
		OutputLayer: c.OutputLayer,
		Operation:   "delete-duplicates",
		Template:    tmpl,
		Columns:     c.Columns,
		Options:     opts,
	})
}

// IsValid writes the invalid features of the input to the output and reports
// whether the layer was fully valid. No output container is written when
// every geometry is valid.
func IsValid(ctx context.Context, inputPath, outputPath string, c Common) (bool, error) {
	tmpl, err := singleLayerTemplate(`SELECT {geometrycolumn} AS geom
      ,ST_IsValid({geometrycolumn}) AS isvalid
      {columns_to_select_str}
  FROM "{input_layer}" layer
 WHERE NOT ST_IsValid({geometrycolumn})
   {batch_filter}`)
	if err != nil {
		return false, err
	}

	outcome, err := engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  c.InputLayer,
		OutputPath:  outputPath,
		OutputLayer: c.OutputLayer,
		Operation:   "isvalid",
		Template:    tmpl,
		Columns:     c.Columns,
		Options:     c.engineOptions(),
	})
	if err != nil {
		return false, err
	}
	if outcome != engine.OutcomeCreated {
		return true, nil
	}
	layer := c.OutputLayer
	if layer == "" {
		layer = container.DefaultLayer(outputPath)
	}
	n, err := container.FeatureCount(ctx, outputPath, layer)
	if err != nil {
		return false, err
	}
	slog.Info("Found invalid geometries",
		slog.Int64("count", n), slog.String("output", outputPath))
	return false, nil
}

// MakeValid repairs invalid geometries. A positive gridSize first snaps the
// coordinates to that precision. The repaired geometries are reduced to the
// layer's primitive type unless the output type is forced to a collection.
func MakeValid(ctx context.Context, inputPath, outputPath string, gridSize float64, forceOutputType container.GeometryType, c Common) (engine.Outcome, error) {
	if forceOutputType == "" {
		var err error
		if forceOutputType, err = layerGeometryType(ctx, inputPath, c.InputLayer); err != nil {
			return engine.OutcomeEmpty, err
		}
	}

	expr := "{geometrycolumn}"
	if gridSize > 0 {
		expr = fmt.Sprintf("ST_ReducePrecision({geometrycolumn}, %v)", gridSize)
	}
	expr = fmt.Sprintf("ST_MakeValid(%s)", expr)
	if forceOutputType != container.GeometryCollection {
		id, err := primitiveID(forceOutputType, inputPath, c.InputLayer)
		if err != nil {
			return engine.OutcomeEmpty, err
		}
		expr = fmt.Sprintf("ST_CollectionExtract(%s, %d)", expr, id)
	}

	tmpl, err := singleLayerTemplate(fmt.Sprintf(`SELECT %s AS geom
      {columns_to_select_str}
  FROM "{input_layer}" layer
 WHERE 1=1
   {batch_filter}`, expr))
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	opts := c.engineOptions()
	opts.ForceGeometryType = forceOutputType
	return engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  c.InputLayer,
		OutputPath:  outputPath,
		OutputLayer: c.OutputLayer,
		Operation:   "makevalid",
		Template:    tmpl,
		Columns:     c.Columns,
		Options:     opts,
	})
}

// Select runs a caller-supplied statement against the input layer. The
// statement may use the single-layer slots; it only runs in parallel when it
// carries {batch_filter}, otherwise batching would duplicate rows.
func Select(ctx context.Context, inputPath, outputPath, stmt string, forceOutputType container.GeometryType, c Common) (engine.Outcome, error) {
	tmpl, err := sqltemplate.New(stmt)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	if forceOutputType == "" {
		if forceOutputType, err = layerGeometryType(ctx, inputPath, c.InputLayer); err != nil {
			return engine.OutcomeEmpty, err
		}
	}

	opts := c.engineOptions()
	opts.ForceGeometryType = forceOutputType
	if !tmpl.Has("batch_filter") {
		opts.Parallelism = 1
	}
	return engine.RunSingleLayer(ctx, engine.SingleLayerParams{
		InputPath:   inputPath,
		InputLayer:  c.InputLayer,
		OutputPath:  outputPath,
		OutputLayer: c.OutputLayer,
		Operation:   "select",
		Template:    tmpl,
		Columns:     c.Columns,
		Options:     opts,
	})
}

func singleLayerTemplate(text string) (*sqltemplate.Template, error) {
	return sqltemplate.New(text, "geometrycolumn", "input_layer")
}
