package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeometryDisjoint(t *testing.T) {
	square := NewPolygon(Point{0, 0}, Point{10, 0}, Point{10, 10}, Point{0, 10})
	line := func(pts ...Point) *Geometry { return &Geometry{Kind: GeometryLine, Points: pts} }

	cases := []struct {
		name     string
		a, b     *Geometry
		disjoint bool
	}{
		{"point inside", NewPoint(5, 5), square, false},
		{"point on edge", NewPoint(10, 3), square, false},
		{"point on vertex", NewPoint(0, 0), square, false},
		{"point outside", NewPoint(11, 5), square, true},
		{"point in bbox of triangle but outside", NewPoint(9, 9), NewPolygon(Point{0, 0}, Point{10, 0}, Point{0, 10}), true},
		{"crossing line", line(Point{-5, 5}, Point{15, 5}), square, false},
		{"touching line", line(Point{10, -5}, Point{10, 0}), square, false},
		{"line outside", line(Point{11, -5}, Point{11, 15}), square, true},
		{"polygon inside polygon", NewPolygon(Point{2, 2}, Point{3, 2}, Point{3, 3}), square, false},
		{"polygon around polygon", square, NewPolygon(Point{2, 2}, Point{3, 2}, Point{3, 3}), false},
		{"separate polygons", NewPolygon(Point{20, 20}, Point{30, 20}, Point{30, 30}), square, true},
		{"same point", NewPoint(1, 2), NewPoint(1, 2), false},
		{"different points", NewPoint(1, 2), NewPoint(2, 1), true},
		{"nil", nil, square, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.disjoint, tc.a.Disjoint(tc.b))
		})
	}
}
