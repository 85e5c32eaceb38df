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

import "strings"

// GeometryType is the declared geometry type of a layer or output, using the
// usual upper-case WKT names (POINT, MULTIPOLYGON, ...). The empty value
// means unknown/unforced.
type GeometryType string

const (
	Point              GeometryType = "POINT"
	MultiPoint         GeometryType = "MULTIPOINT"
	LineString         GeometryType = "LINESTRING"
	MultiLineString    GeometryType = "MULTILINESTRING"
	Polygon            GeometryType = "POLYGON"
	MultiPolygon       GeometryType = "MULTIPOLYGON"
	GeometryCollection GeometryType = "GEOMETRYCOLLECTION"
)

// ToMulti returns the multi-part variant of the type. Multi types and the
// collection type map to themselves.
func (t GeometryType) ToMulti() GeometryType {
	switch t {
	case Point:
		return MultiPoint
	case LineString:
		return MultiLineString
	case Polygon:
		return MultiPolygon
	default:
		return t
	}
}

// ToSingle returns the single-part variant of the type.
func (t GeometryType) ToSingle() GeometryType {
	switch t {
	case MultiPoint:
		return Point
	case MultiLineString:
		return LineString
	case MultiPolygon:
		return Polygon
	default:
		return t
	}
}

// PrimitiveID returns the collection-extract type id of the type's primitive:
// 1 for points, 2 for lines, 3 for polygons, 0 for unknown/collection.
func (t GeometryType) PrimitiveID() int {
	switch t.ToSingle() {
	case Point:
		return 1
	case LineString:
		return 2
	case Polygon:
		return 3
	default:
		return 0
	}
}

// IsMulti reports whether the type is a multi-part type.
func (t GeometryType) IsMulti() bool {
	return strings.HasPrefix(string(t), "MULTI")
}
