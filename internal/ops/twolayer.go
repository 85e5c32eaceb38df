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
	"os"
	"path/filepath"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/duckdbx"
	"github.com/cardinalhq/georunner/internal/engine"
	"github.com/cardinalhq/georunner/internal/sqltemplate"
)

// spatialPairCondition matches candidate pairs that genuinely overlap:
// touching boundaries alone do not count.
const spatialPairCondition = `ST_Intersects(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn})
        AND NOT ST_Touches(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn})`

// Erase removes the parts of the input features that overlap any feature of
// the erase layer. Features without overlap pass through unchanged, which is
// why the erased union is LEFT JOINed back instead of computed inline:
// ST_Difference(geom, NULL) would be NULL.
func Erase(ctx context.Context, inputPath, erasePath, outputPath string, c TwoLayerCommon) (engine.Outcome, error) {
	geomType, err := layerGeometryType(ctx, inputPath, c.Input1Layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	id, err := primitiveID(geomType, inputPath, c.Input1Layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	// Differences can split polygons into multipolygons.
	forceType := geomType
	if forceType != container.Point {
		forceType = forceType.ToMulti()
	}

	tmpl, err := twoLayerTemplate(fmt.Sprintf(`SELECT * FROM (
  WITH layer2_unioned AS (
    SELECT layer1.rowid AS layer1_rowid
          ,ST_Union_Agg(layer2.{input2_geometrycolumn}) AS geom
      FROM {input1_databasename}."{input1_layer}" layer1
      JOIN {input2_databasename}."{input2_layer}" layer2
        ON %s
     WHERE 1=1
       {batch_filter}
     GROUP BY layer1.rowid
  )
  SELECT CASE WHEN layer2_unioned.geom IS NULL THEN layer1.{input1_geometrycolumn}
              ELSE ST_CollectionExtract(ST_Difference(layer1.{input1_geometrycolumn}, layer2_unioned.geom), %d)
         END AS geom
        {layer1_columns_prefix_alias_str}
    FROM {input1_databasename}."{input1_layer}" layer1
    LEFT JOIN layer2_unioned ON layer1.rowid = layer2_unioned.layer1_rowid
   WHERE 1=1
     {batch_filter}
) sub
WHERE sub.geom IS NOT NULL
  AND NOT ST_IsEmpty(sub.geom)`, spatialPairCondition, id))
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	opts := c.engineOptions()
	opts.ForceGeometryType = forceType
	return engine.RunTwoLayer(ctx, twoLayerParams(inputPath, erasePath, outputPath, "erase", tmpl, c, opts))
}

// Intersect computes the pairwise intersections of the two layers. Only the
// lowest common primitive type of the inputs is kept, so intersecting
// polygons with polygons never leaks point or line touch artifacts.
func Intersect(ctx context.Context, input1Path, input2Path, outputPath string, c TwoLayerCommon) (engine.Outcome, error) {
	id, err := commonPrimitiveID(ctx, input1Path, input2Path, c)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	tmpl, err := twoLayerTemplate(fmt.Sprintf(`SELECT sub.geom
     {layer1_columns_from_subselect_str}
     {layer2_columns_from_subselect_str}
  FROM
    ( SELECT ST_CollectionExtract(
               ST_Intersection(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn}),
               %d) AS geom
            {layer1_columns_prefix_alias_str}
            {layer2_columns_prefix_alias_str}
        FROM {input1_databasename}."{input1_layer}" layer1
        JOIN {input2_databasename}."{input2_layer}" layer2
          ON %s
       WHERE 1=1
         {batch_filter}
    ) sub
 WHERE sub.geom IS NOT NULL
   AND NOT ST_IsEmpty(sub.geom)`, id, spatialPairCondition))
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	opts := c.engineOptions()
	opts.ForceGeometryType = multiOfPrimitive(id)
	return engine.RunTwoLayer(ctx, twoLayerParams(input1Path, input2Path, outputPath, "intersect", tmpl, c, opts))
}

// Split is the identity overlay: every input1 feature is cut along input2,
// keeping both the intersecting pieces (with input2 attributes) and the
// remainders (with NULL input2 attributes).
func Split(ctx context.Context, input1Path, input2Path, outputPath string, c TwoLayerCommon) (engine.Outcome, error) {
	geomType, err := layerGeometryType(ctx, input1Path, c.Input1Layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	id, err := primitiveID(geomType, input1Path, c.Input1Layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	tmpl, err := twoLayerTemplate(fmt.Sprintf(`SELECT * FROM (
  WITH layer2_unioned AS (
    SELECT layer1.rowid AS layer1_rowid
          ,ST_Union_Agg(layer2.{input2_geometrycolumn}) AS geom
      FROM {input1_databasename}."{input1_layer}" layer1
      JOIN {input2_databasename}."{input2_layer}" layer2
        ON %[1]s
     WHERE 1=1
       {batch_filter}
     GROUP BY layer1.rowid
  )
  SELECT ST_CollectionExtract(
           ST_Intersection(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn}),
           %[2]d) AS geom
        {layer1_columns_prefix_alias_str}
        {layer2_columns_prefix_alias_str}
    FROM {input1_databasename}."{input1_layer}" layer1
    JOIN {input2_databasename}."{input2_layer}" layer2
      ON %[1]s
   WHERE 1=1
     {batch_filter}
  UNION ALL
  SELECT CASE WHEN layer2_unioned.geom IS NULL THEN layer1.{input1_geometrycolumn}
              ELSE ST_CollectionExtract(ST_Difference(layer1.{input1_geometrycolumn}, layer2_unioned.geom), %[2]d)
         END AS geom
        {layer1_columns_prefix_alias_str}
        {layer2_columns_prefix_alias_null_str}
    FROM {input1_databasename}."{input1_layer}" layer1
    LEFT JOIN layer2_unioned ON layer1.rowid = layer2_unioned.layer1_rowid
   WHERE 1=1
     {batch_filter}
) sub
WHERE sub.geom IS NOT NULL
  AND NOT ST_IsEmpty(sub.geom)`, spatialPairCondition, id))
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	opts := c.engineOptions()
	opts.ForceGeometryType = multiOfPrimitive(id)
	return engine.RunTwoLayer(ctx, twoLayerParams(input1Path, input2Path, outputPath, "split", tmpl, c, opts))
}

// Union is the full overlay of both layers: the split of input1 along
// input2, plus the parts of input2 outside input1. It composes Split and
// Erase into temporary containers and appends the erase result onto the
// split result before committing.
func Union(ctx context.Context, input1Path, input2Path, outputPath string, c TwoLayerCommon) (engine.Outcome, error) {
	if container.Exists(outputPath) && !c.Force {
		slog.Info("Output exists already, skipping",
			slog.String("operation", "union"), slog.String("output", outputPath))
		return engine.OutcomeSkippedExisting, nil
	}
	outputLayer := c.OutputLayer
	if outputLayer == "" {
		outputLayer = container.DefaultLayer(outputPath)
	}

	tempDir, err := container.CreateTempDir("union")
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	splitOut := filepath.Join(tempDir, "split_output.duckdb")
	splitOpts := c
	splitOpts.OutputLayer = outputLayer
	splitOpts.SkipSpatialIndex = true
	splitOpts.Force = false
	splitOutcome, err := Split(ctx, input1Path, input2Path, splitOut, splitOpts)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	// The erase side swaps the layers, so input2's columns ride in the
	// layer1 seat and keep their l2_ prefix.
	eraseOut := filepath.Join(tempDir, "erase_output.duckdb")
	eraseOpts := TwoLayerCommon{
		Input1Layer:         c.Input2Layer,
		Input1Columns:       c.Input2Columns,
		Input1ColumnsPrefix: prefixOrDefault(c.Input2ColumnsPrefix, "l2_"),
		Input2Layer:         c.Input1Layer,
		OutputLayer:         outputLayer,
		ExplodeCollections:  c.ExplodeCollections,
		SkipSpatialIndex:    true,
		Parallelism:         c.Parallelism,
		BatchSize:           c.BatchSize,
	}
	eraseOutcome, err := Erase(ctx, input2Path, input1Path, eraseOut, eraseOpts)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	var result string
	switch {
	case splitOutcome == engine.OutcomeCreated && eraseOutcome == engine.OutcomeCreated:
		if err := container.Append(ctx, eraseOut, outputLayer, splitOut, outputLayer, container.AppendOptions{}); err != nil {
			return engine.OutcomeEmpty, err
		}
		result = splitOut
	case splitOutcome == engine.OutcomeCreated:
		result = splitOut
	case eraseOutcome == engine.OutcomeCreated:
		result = eraseOut
	default:
		return engine.OutcomeEmpty, nil
	}

	if c.SkipSpatialIndex {
		if err := container.Checkpoint(ctx, result); err != nil {
			return engine.OutcomeEmpty, err
		}
	} else {
		if err := container.CreateSpatialIndex(ctx, result, outputLayer); err != nil {
			return engine.OutcomeEmpty, err
		}
	}
	if c.Force && container.Exists(outputPath) {
		if err := container.Remove(outputPath); err != nil {
			return engine.OutcomeEmpty, err
		}
	}
	if err := container.Move(result, outputPath); err != nil {
		return engine.OutcomeEmpty, err
	}
	return engine.OutcomeCreated, nil
}

// JoinByLocation joins input2 attributes onto input1 features that spatially
// overlap them. With discardNonmatching false it degrades to a left outer
// join with NULL input2 attributes. A positive minAreaIntersect drops pairs
// whose intersection area is below it; areaColumn names the emitted area
// column (default area_inters when filtering or naming is requested).
func JoinByLocation(ctx context.Context, input1Path, input2Path, outputPath string, discardNonmatching bool, minAreaIntersect float64, areaColumn string, c TwoLayerCommon) (engine.Outcome, error) {
	areaExpr := ""
	if areaColumn == "" && minAreaIntersect > 0 {
		areaColumn = "area_inters"
	}
	if areaColumn != "" {
		areaExpr = fmt.Sprintf(
			",ST_Area(ST_Intersection(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn})) AS %s",
			duckdbx.QuoteIdent(areaColumn))
	}

	var text string
	if discardNonmatching {
		text = fmt.Sprintf(`SELECT layer1.{input1_geometrycolumn} AS geom
      {layer1_columns_prefix_alias_str}
      {layer2_columns_prefix_alias_str}
      %s
      ,ST_Intersection(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn}) AS geom_intersect
  FROM {input1_databasename}."{input1_layer}" layer1
  JOIN {input2_databasename}."{input2_layer}" layer2
    ON %s
 WHERE 1=1
   {batch_filter}`, areaExpr, spatialPairCondition)
	} else {
		text = fmt.Sprintf(`SELECT layer1.{input1_geometrycolumn} AS geom
      {layer1_columns_prefix_alias_str}
      {layer2_columns_prefix_alias_str}
      %[1]s
      ,ST_Intersection(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn}) AS geom_intersect
  FROM {input1_databasename}."{input1_layer}" layer1
  JOIN {input2_databasename}."{input2_layer}" layer2
    ON %[2]s
 WHERE 1=1
   {batch_filter}
UNION ALL
SELECT layer1.{input1_geometrycolumn} AS geom
      {layer1_columns_prefix_alias_str}
      {layer2_columns_prefix_alias_null_str}
      %[3]s
      ,NULL AS geom_intersect
  FROM {input1_databasename}."{input1_layer}" layer1
 WHERE 1=1
   {batch_filter}
   AND NOT EXISTS (
     SELECT 1
       FROM {input2_databasename}."{input2_layer}" layer2
      WHERE %[2]s)`, areaExpr, spatialPairCondition, nullAreaExpr(areaColumn))
	}
	if minAreaIntersect > 0 {
		text = fmt.Sprintf(`SELECT sub.*
  FROM
    ( %s
    ) sub
 WHERE sub.%s >= %v`, text, duckdbx.QuoteIdent(areaColumn), minAreaIntersect)
	}
	tmpl, err := twoLayerTemplate(text)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	geomType, err := layerGeometryType(ctx, input1Path, c.Input1Layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	opts := c.engineOptions()
	opts.ForceGeometryType = geomType
	return engine.RunTwoLayer(ctx, twoLayerParams(input1Path, input2Path, outputPath, "join-by-location", tmpl, c, opts))
}

// ExportByLocation copies the input1 features that overlap at least one
// input2 feature, unioned per source feature. areaColumn optionally emits
// the intersection area; a positive minAreaIntersect filters on it.
func ExportByLocation(ctx context.Context, input1Path, input2Path, outputPath string, minAreaIntersect float64, areaColumn string, c TwoLayerCommon) (engine.Outcome, error) {
	areaExpr := ""
	if areaColumn == "" && minAreaIntersect > 0 {
		areaColumn = "area_inters"
	}
	if areaColumn != "" {
		areaExpr = fmt.Sprintf(
			",ST_Area(ST_Intersection(ST_Union_Agg(layer1.{input1_geometrycolumn}), ST_Union_Agg(layer2.{input2_geometrycolumn}))) AS %s",
			duckdbx.QuoteIdent(areaColumn))
	}

	text := fmt.Sprintf(`SELECT ST_Union_Agg(layer1.{input1_geometrycolumn}) AS geom
      {layer1_columns_prefix_str}
      %s
  FROM {input1_databasename}."{input1_layer}" layer1
  JOIN {input2_databasename}."{input2_layer}" layer2
    ON %s
 WHERE 1=1
   {batch_filter}
 GROUP BY layer1.rowid {layer1_columns_prefix_str}`, areaExpr, spatialPairCondition)
	if minAreaIntersect > 0 {
		text = fmt.Sprintf(`SELECT sub.*
  FROM
    ( %s
    ) sub
 WHERE sub.%s >= %v`, text, duckdbx.QuoteIdent(areaColumn), minAreaIntersect)
	}
	tmpl, err := twoLayerTemplate(text)
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	geomType, err := layerGeometryType(ctx, input1Path, c.Input1Layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	opts := c.engineOptions()
	opts.ForceGeometryType = geomType
	return engine.RunTwoLayer(ctx, twoLayerParams(input1Path, input2Path, outputPath, "export-by-location", tmpl, c, opts))
}

// ExportByDistance copies the input1 features lying within maxDistance of
// any input2 feature.
func ExportByDistance(ctx context.Context, input1Path, input2Path, outputPath string, maxDistance float64, c TwoLayerCommon) (engine.Outcome, error) {
	tmpl, err := twoLayerTemplate(fmt.Sprintf(`SELECT layer1.{input1_geometrycolumn} AS geom
      {layer1_columns_prefix_alias_str}
  FROM {input1_databasename}."{input1_layer}" layer1
 WHERE 1=1
   {batch_filter}
   AND EXISTS (
     SELECT 1
       FROM {input2_databasename}."{input2_layer}" layer2
      WHERE ST_Distance(layer1.{input1_geometrycolumn}, layer2.{input2_geometrycolumn}) <= %v)`, maxDistance))
	if err != nil {
		return engine.OutcomeEmpty, err
	}

	geomType, err := layerGeometryType(ctx, input1Path, c.Input1Layer)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	opts := c.engineOptions()
	opts.ForceGeometryType = geomType
	return engine.RunTwoLayer(ctx, twoLayerParams(input1Path, input2Path, outputPath, "export-by-distance", tmpl, c, opts))
}

// SelectTwoLayers runs a caller-supplied statement over both layers. Like
// Select, it only parallelizes when the statement carries {batch_filter}.
func SelectTwoLayers(ctx context.Context, input1Path, input2Path, outputPath, stmt string, forceOutputType container.GeometryType, c TwoLayerCommon) (engine.Outcome, error) {
	tmpl, err := sqltemplate.New(stmt)
	if err != nil {
		return engine.OutcomeEmpty, err
	}
	if forceOutputType == "" {
		if forceOutputType, err = layerGeometryType(ctx, input1Path, c.Input1Layer); err != nil {
			return engine.OutcomeEmpty, err
		}
	}

	opts := c.engineOptions()
	opts.ForceGeometryType = forceOutputType
	if !tmpl.Has("batch_filter") {
		opts.Parallelism = 1
	}
	return engine.RunTwoLayer(ctx, twoLayerParams(input1Path, input2Path, outputPath, "select-two-layers", tmpl, c, opts))
}

func twoLayerParams(input1Path, input2Path, outputPath, operation string, tmpl *sqltemplate.Template, c TwoLayerCommon, opts engine.Options) engine.TwoLayerParams {
	return engine.TwoLayerParams{
		Input1Path:          input1Path,
		Input1Layer:         c.Input1Layer,
		Input1Columns:       c.Input1Columns,
		Input1ColumnsPrefix: c.Input1ColumnsPrefix,
		Input2Path:          input2Path,
		Input2Layer:         c.Input2Layer,
		Input2Columns:       c.Input2Columns,
		Input2ColumnsPrefix: c.Input2ColumnsPrefix,
		OutputPath:          outputPath,
		OutputLayer:         c.OutputLayer,
		Operation:           operation,
		Template:            tmpl,
		Options:             opts,
	}
}

// commonPrimitiveID is the lowest primitive type of the two input layers,
// i.e. what an intersection of the two can be at most.
func commonPrimitiveID(ctx context.Context, input1Path, input2Path string, c TwoLayerCommon) (int, error) {
	t1, err := layerGeometryType(ctx, input1Path, c.Input1Layer)
	if err != nil {
		return 0, err
	}
	t2, err := layerGeometryType(ctx, input2Path, c.Input2Layer)
	if err != nil {
		return 0, err
	}
	id1, err := primitiveID(t1, input1Path, c.Input1Layer)
	if err != nil {
		return 0, err
	}
	id2, err := primitiveID(t2, input2Path, c.Input2Layer)
	if err != nil {
		return 0, err
	}
	if id2 < id1 {
		return id2, nil
	}
	return id1, nil
}

func twoLayerTemplate(text string) (*sqltemplate.Template, error) {
	return sqltemplate.New(text,
		"input1_databasename", "input2_databasename", "input1_layer", "input2_layer")
}

func prefixOrDefault(prefix, fallback string) string {
	if prefix == "" {
		return fallback
	}
	return prefix
}

// nullAreaExpr mirrors the area column in the non-matching branch of a left
// outer join so both UNION ALL branches line up.
func nullAreaExpr(areaColumn string) string {
	if areaColumn == "" {
		return ""
	}
	return fmt.Sprintf(",NULL AS %s", duckdbx.QuoteIdent(areaColumn))
}
