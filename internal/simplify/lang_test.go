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

package simplify

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordsLangIdxShortInputs(t *testing.T) {
	assert.Empty(t, CoordsLangIdx(nil, 1, 8))
	assert.Equal(t, []int{0}, CoordsLangIdx([]orb.Point{{0, 0}}, 1, 8))
	assert.Equal(t, []int{0, 1}, CoordsLangIdx([]orb.Point{{0, 0}, {1, 1}}, 1, 8))
}

func TestCoordsLangIdxCollinear(t *testing.T) {
	coords := []orb.Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}
	assert.Equal(t, []int{0, 4}, CoordsLangIdx(coords, 0.5, -1))
}

func TestCoordsLangIdxKeepsDeviatingVertex(t *testing.T) {
	// The middle vertex sits 2 above the chord, well outside tolerance 0.5,
	// so the window shrinks until that vertex becomes a window endpoint.
	coords := []orb.Point{{0, 0}, {1, 0}, {2, 2}, {3, 0}, {4, 0}}
	idx := CoordsLangIdx(coords, 0.5, -1)
	assert.Contains(t, idx, 2)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, 4, idx[len(idx)-1])
}

func TestCoordsLangIdxLookaheadWindow(t *testing.T) {
	coords := []orb.Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}, {6, 0}}
	// Window of 2 can only skip one vertex at a time.
	assert.Equal(t, []int{0, 2, 4, 6}, CoordsLangIdx(coords, 0.5, 2))
	// Unbounded window collapses the whole collinear run.
	assert.Equal(t, []int{0, 6}, CoordsLangIdx(coords, 0.5, 0))
}

func TestCoordsLang(t *testing.T) {
	coords := []orb.Point{{0, 0}, {1, 0.01}, {2, 0}, {3, -0.01}, {4, 0}}
	out := CoordsLang(coords, 0.1, -1)
	assert.Equal(t, []orb.Point{{0, 0}, {4, 0}}, out)
}

func TestPerpendicularDistance(t *testing.T) {
	assert.InDelta(t, 1.0, perpendicularDistance(orb.Point{1, 1}, orb.Point{0, 0}, orb.Point{2, 0}), 1e-12)
	assert.InDelta(t, 0.0, perpendicularDistance(orb.Point{1, 0}, orb.Point{0, 0}, orb.Point{2, 0}), 1e-12)
	// A zero-length chord gives no usable distance, so it reports +Inf to
	// force the window to shrink.
	assert.True(t, math.IsInf(perpendicularDistance(orb.Point{3, 4}, orb.Point{0, 0}, orb.Point{0, 0}), 1))
}

func TestCoordsLangIdxClosedRing(t *testing.T) {
	// With an unbounded window the first chord of a closed ring runs from the
	// first vertex to its duplicate at the end. That chord is degenerate, so
	// the window must shrink vertex by vertex instead of judging the interior
	// against it and collapsing the ring to its two identical endpoints.
	coords := []orb.Point{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}
	assert.Equal(t, []int{0, 3, 4}, CoordsLangIdx(coords, 10, -1))
}

func TestGeometryLineString(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	got := Geometry(line, Options{Tolerance: 0.5})
	assert.Equal(t, orb.LineString{{0, 0}, {3, 0}}, got)
}

func TestGeometryPointsUntouched(t *testing.T) {
	p := orb.Point{1, 2}
	assert.Equal(t, p, Geometry(p, Options{Tolerance: 10}))
	mp := orb.MultiPoint{{1, 2}, {3, 4}}
	assert.Equal(t, mp, Geometry(mp, Options{Tolerance: 10}))
}

func TestGeometryPolygonNotch(t *testing.T) {
	// A square with one shallow notch vertex on the top edge. Lang removes the
	// notch but keeps the corners.
	ring := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {5, 9.9}, {0, 10}, {0, 0}}
	poly := orb.Polygon{ring}
	got := Geometry(poly, Options{Tolerance: 0.5})
	require.IsType(t, orb.Polygon{}, got)
	outer := got.(orb.Polygon)[0]
	assert.Equal(t, orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}, outer)
}

func TestGeometryRingCollapse(t *testing.T) {
	// A sliver triangle within tolerance collapses below 4 vertices.
	ring := orb.Ring{{0, 0}, {5, 0.01}, {10, 0}, {0, 0}}
	assert.Nil(t, Geometry(ring, Options{Tolerance: 1}))
	// PreserveTopology keeps the original ring instead.
	kept := Geometry(ring, Options{Tolerance: 1, PreserveTopology: true})
	assert.Equal(t, ring, kept)
}

func TestGeometryLineCollapsePreserveTopology(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}}
	// Two vertices always survive regardless of tolerance.
	assert.Equal(t, line, Geometry(line, Options{Tolerance: 100}))
}

func TestGeometryMultiPolygonDropsCollapsed(t *testing.T) {
	big := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	sliver := orb.Polygon{{{20, 0}, {25, 0.01}, {30, 0}, {20, 0}}}
	got := Geometry(orb.MultiPolygon{big, sliver}, Options{Tolerance: 1})
	require.IsType(t, orb.MultiPolygon{}, got)
	assert.Len(t, got.(orb.MultiPolygon), 1)
}

func TestGeometryKeepGeometryPoint(t *testing.T) {
	// The pinned vertex survives even though Lang would drop it.
	coords := orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}
	got := Geometry(coords, Options{
		Tolerance:    0.5,
		KeepGeometry: orb.Point{2, 0},
	})
	assert.Equal(t, orb.LineString{{0, 0}, {2, 0}, {4, 0}}, got)
}

func TestGeometryKeepGeometryLine(t *testing.T) {
	// Vertices lying on the keep line are pinned, e.g. nodes shared with a
	// neighbouring tile boundary.
	coords := orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}
	got := Geometry(coords, Options{
		Tolerance:    0.5,
		KeepGeometry: orb.LineString{{2, -1}, {2, 1}},
	})
	assert.Equal(t, orb.LineString{{0, 0}, {2, 0}, {4, 0}}, got)
}

func TestGeometryKeepGeometryRegion(t *testing.T) {
	// A keep polygon pins every vertex inside it.
	coords := orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}
	region := orb.Polygon{{{0.5, -1}, {3.5, -1}, {3.5, 1}, {0.5, 1}, {0.5, -1}}}
	got := Geometry(coords, Options{
		Tolerance:    0.5,
		KeepGeometry: region,
	})
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}, got)
}

func TestPointIntersects(t *testing.T) {
	assert.True(t, pointIntersects(orb.MultiPoint{{0, 0}, {1, 1}}, orb.Point{1, 1}))
	assert.False(t, pointIntersects(orb.MultiPoint{{0, 0}}, orb.Point{1, 1}))
	assert.True(t, pointIntersects(orb.LineString{{0, 0}, {2, 0}}, orb.Point{1, 0}))
	assert.False(t, pointIntersects(orb.LineString{{0, 0}, {2, 0}}, orb.Point{1, 1}))
	square := orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}
	assert.True(t, pointIntersects(square, orb.Point{1, 1}))
	assert.False(t, pointIntersects(square, orb.Point{3, 3}))
	assert.True(t, pointIntersects(orb.Collection{orb.Point{5, 5}, square}, orb.Point{5, 5}))
}

func TestGeometryCollection(t *testing.T) {
	coll := orb.Collection{
		orb.Point{1, 1},
		orb.LineString{{0, 0}, {1, 0}, {2, 0}},
	}
	got := Geometry(coll, Options{Tolerance: 0.5})
	require.IsType(t, orb.Collection{}, got)
	c := got.(orb.Collection)
	require.Len(t, c, 2)
	assert.Equal(t, orb.LineString{{0, 0}, {2, 0}}, c[1])
}
