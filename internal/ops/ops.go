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

// Package ops is the operation catalog: each exported function composes the
// SQL template for one geometric operation and hands it to the engine. The
// templates run in DuckDB's spatial dialect; the engine decides batching,
// parallelism and merging.
package ops

import (
	"context"
	"fmt"

	"github.com/cardinalhq/georunner/internal/container"
	"github.com/cardinalhq/georunner/internal/engine"
)

// Common carries the options every single-layer operation shares.
type Common struct {
	InputLayer         string
	OutputLayer        string
	Columns            []string
	ExplodeCollections bool
	Parallelism        int
	BatchSize          int64
	Force              bool
}

func (c Common) engineOptions() engine.Options {
	return engine.Options{
		Parallelism:        c.Parallelism,
		BatchSize:          c.BatchSize,
		Force:              c.Force,
		ExplodeCollections: c.ExplodeCollections,
	}
}

// TwoLayerCommon carries the options every two-layer operation shares.
// Column prefixes default to l1_ and l2_.
type TwoLayerCommon struct {
	Input1Layer         string
	Input1Columns       []string
	Input1ColumnsPrefix string
	Input2Layer         string
	Input2Columns       []string
	Input2ColumnsPrefix string
	OutputLayer         string
	ExplodeCollections  bool
	SkipSpatialIndex    bool
	Parallelism         int
	BatchSize           int64
	Force               bool
}

func (c TwoLayerCommon) engineOptions() engine.Options {
	return engine.Options{
		Parallelism:        c.Parallelism,
		BatchSize:          c.BatchSize,
		Force:              c.Force,
		ExplodeCollections: c.ExplodeCollections,
		SkipSpatialIndex:   c.SkipSpatialIndex,
	}
}

// layerGeometryType looks up the declared geometry type of a layer, falling
// back to the container's only layer when none is named.
func layerGeometryType(ctx context.Context, path, layer string) (container.GeometryType, error) {
	c, err := container.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = c.Close() }()
	if layer == "" {
		if layer, err = c.OnlyLayer(ctx); err != nil {
			return "", err
		}
	}
	info, err := c.LayerInfo(ctx, layer)
	if err != nil {
		return "", err
	}
	return info.GeometryType, nil
}

// primitiveID resolves the primitive type used in ST_CollectionExtract
// calls. Operations that extract need a known input geometry type.
func primitiveID(t container.GeometryType, path, layer string) (int, error) {
	id := t.PrimitiveID()
	if id == 0 {
		return 0, fmt.Errorf("cannot determine geometry type of layer %s in %s", layer, path)
	}
	return id, nil
}

// multiOfPrimitive maps a primitive type id to its MULTI geometry type.
func multiOfPrimitive(id int) container.GeometryType {
	switch id {
	case 1:
		return container.MultiPoint
	case 2:
		return container.MultiLineString
	default:
		return container.MultiPolygon
	}
}
