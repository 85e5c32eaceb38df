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

// Package simplify implements the Lang line simplification algorithm on orb
// geometries. Lang walks the vertex list with a sliding lookahead window and
// drops every vertex whose perpendicular distance to the window's chord stays
// within the tolerance, which preserves shape better than Douglas-Peucker at
// comparable tolerances.
package simplify

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// CoordsLangIdx returns the indices of the vertices Lang keeps, in ascending
// order. Index 0 and the last index are always kept. A lookahead below 1 or
// beyond the vertex count means an unbounded window.
func CoordsLangIdx(coords []orb.Point, tolerance float64, lookahead int) []int {
	n := len(coords)
	if n <= 2 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	last := n - 1
	window := lookahead
	if window < 1 || window > last {
		window = last
	}

	keep := make([]int, 0, n)
	keep = append(keep, 0)
	key := 0
	for key < last {
		end := key + window
		if end > last {
			end = last
		}
		for end > key+1 && maxChordDistance(coords, key, end) > tolerance {
			end--
		}
		keep = append(keep, end)
		key = end
	}
	return keep
}

// CoordsLang simplifies a vertex list with Lang, always keeping the
// endpoints.
func CoordsLang(coords []orb.Point, tolerance float64, lookahead int) []orb.Point {
	idx := CoordsLangIdx(coords, tolerance, lookahead)
	out := make([]orb.Point, 0, len(idx))
	for _, i := range idx {
		out = append(out, coords[i])
	}
	return out
}

// maxChordDistance is the largest perpendicular distance from the interior
// vertices of coords[from..to] to the chord coords[from]-coords[to].
func maxChordDistance(coords []orb.Point, from, to int) float64 {
	a, b := coords[from], coords[to]
	maxDist := 0.0
	for i := from + 1; i < to; i++ {
		d := perpendicularDistance(coords[i], a, b)
		if d > maxDist {
			maxDist = d
		}
	}
	return maxDist
}

// perpendicularDistance measures point p against segment a-b. A degenerate
// or non-finite chord yields +Inf so the caller shrinks its window instead
// of dropping vertices it cannot judge.
func perpendicularDistance(p, a, b orb.Point) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Inf(1)
	}
	d := math.Abs(dy*(p[0]-a[0])-dx*(p[1]-a[1])) / math.Sqrt(lenSq)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return math.Inf(1)
	}
	return d
}

// Options steers Geometry.
type Options struct {
	Tolerance float64
	// Lookahead bounds the Lang window; values below 1 mean unbounded.
	Lookahead int
	// KeepGeometry pins every input vertex intersecting it so the vertex
	// survives simplification even when Lang would drop it, e.g. a tile
	// boundary line whose shared nodes must stay put.
	KeepGeometry orb.Geometry
	// PreserveTopology keeps a ring or line that would degenerate below the
	// minimum vertex count instead of dropping it.
	PreserveTopology bool
}

// Geometry simplifies any orb geometry with Lang. Lines or rings that
// collapse below the minimum vertex count are dropped, or kept unsimplified
// when PreserveTopology is set. Points pass through untouched. A fully
// collapsed geometry comes back nil.
func Geometry(g orb.Geometry, opts Options) orb.Geometry {
	switch geom := g.(type) {
	case orb.Point, orb.MultiPoint:
		return geom
	case orb.LineString:
		return simplifyLine(geom, opts)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(geom))
		for _, ls := range geom {
			if s := simplifyLine(ls, opts); s != nil {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Ring:
		return simplifyRing(geom, opts)
	case orb.Polygon:
		return simplifyPolygon(geom, opts)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(geom))
		for _, poly := range geom {
			if s := simplifyPolygon(poly, opts); s != nil {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, 0, len(geom))
		for _, child := range geom {
			if s := Geometry(child, opts); s != nil {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return g
	}
}

// pointIntersects reports whether p lies on or inside g. Orb has no generic
// intersects predicate, so this dispatches to the planar helpers per type.
func pointIntersects(g orb.Geometry, p orb.Point) bool {
	switch geom := g.(type) {
	case orb.Point:
		return geom == p
	case orb.MultiPoint:
		for _, q := range geom {
			if q == p {
				return true
			}
		}
		return false
	case orb.LineString:
		return len(geom) > 0 && planar.DistanceFrom(geom, p) == 0
	case orb.MultiLineString:
		for _, ls := range geom {
			if pointIntersects(ls, p) {
				return true
			}
		}
		return false
	case orb.Ring:
		return planar.RingContains(geom, p)
	case orb.Polygon:
		return planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p)
	case orb.Collection:
		for _, child := range geom {
			if pointIntersects(child, p) {
				return true
			}
		}
		return false
	case orb.Bound:
		return geom.Contains(p)
	default:
		return false
	}
}

// simplifyCoords merges the Lang survivors with the vertices pinned by the
// keep geometry, in original vertex order.
func simplifyCoords(coords []orb.Point, opts Options) []orb.Point {
	idx := CoordsLangIdx(coords, opts.Tolerance, opts.Lookahead)
	if opts.KeepGeometry != nil {
		kept := make(map[int]struct{}, len(idx))
		for _, i := range idx {
			kept[i] = struct{}{}
		}
		for i, c := range coords {
			if pointIntersects(opts.KeepGeometry, c) {
				kept[i] = struct{}{}
			}
		}
		idx = idx[:0]
		for i := range kept {
			idx = append(idx, i)
		}
		sort.Ints(idx)
	}
	out := make([]orb.Point, 0, len(idx))
	for _, i := range idx {
		out = append(out, coords[i])
	}
	return out
}

func simplifyLine(ls orb.LineString, opts Options) orb.LineString {
	out := simplifyCoords(ls, opts)
	if len(out) < 2 {
		if opts.PreserveTopology {
			return ls
		}
		return nil
	}
	return out
}

func simplifyRing(r orb.Ring, opts Options) orb.Ring {
	out := simplifyCoords(r, opts)
	// A closed ring needs at least a triangle.
	if len(out) < 4 {
		if opts.PreserveTopology {
			return r
		}
		return nil
	}
	return out
}

func simplifyPolygon(poly orb.Polygon, opts Options) orb.Polygon {
	if len(poly) == 0 {
		return nil
	}
	outer := simplifyRing(poly[0], opts)
	if outer == nil {
		return nil
	}
	out := orb.Polygon{outer}
	for _, hole := range poly[1:] {
		if s := simplifyRing(hole, opts); s != nil {
			out = append(out, s)
		}
	}
	return out
}
