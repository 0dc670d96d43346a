package domain

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersector"
)

// GeometryKind is the shape of a feature geometry.
type GeometryKind string

const (
	GeometryPoint   GeometryKind = "Point"
	GeometryLine    GeometryKind = "LineString"
	GeometryPolygon GeometryKind = "Polygon"
)

// Point is a 2D coordinate (x = longitude, y = latitude for geographic CRS).
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Geometry is a point, line string or simple polygon (exterior ring only,
// closing vertex optional).
type Geometry struct {
	Kind   GeometryKind `json:"kind" yaml:"kind"`
	Points []Point      `json:"points" yaml:"points"`
}

// NewPoint returns a point geometry.
func NewPoint(x, y float64) *Geometry {
	return &Geometry{Kind: GeometryPoint, Points: []Point{{X: x, Y: y}}}
}

// NewPolygon returns a polygon geometry from its exterior ring.
func NewPolygon(ring ...Point) *Geometry {
	return &Geometry{Kind: GeometryPolygon, Points: ring}
}

// Bounds returns the bounding box of the geometry.
func (g *Geometry) Bounds() BBox {
	box := EmptyBBox()
	if g == nil {
		return box
	}
	for _, p := range g.Points {
		box = box.Extend(p)
	}
	return box
}

// Disjoint reports whether g and other share no point. Points on a
// boundary count as shared.
func (g *Geometry) Disjoint(other *Geometry) bool {
	if g == nil || other == nil || len(g.Points) == 0 || len(other.Points) == 0 {
		return true
	}
	if !g.Bounds().Intersects(other.Bounds()) {
		return true
	}
	for _, a := range g.segments() {
		for _, b := range other.segments() {
			if segmentsTouch(a, b) {
				return false
			}
		}
	}
	if other.Kind == GeometryPolygon && xy.IsPointInRing(geom.XY, g.Points[0].coord(), other.ring()) {
		return false
	}
	if g.Kind == GeometryPolygon && xy.IsPointInRing(geom.XY, other.Points[0].coord(), g.ring()) {
		return false
	}
	return true
}

func (p Point) coord() geom.Coord { return geom.Coord{p.X, p.Y} }

// ring returns the flat closed exterior ring.
func (g *Geometry) ring() []float64 {
	flat := make([]float64, 0, 2*len(g.Points)+2)
	for _, p := range g.Points {
		flat = append(flat, p.X, p.Y)
	}
	if first, last := g.Points[0], g.Points[len(g.Points)-1]; first != last {
		flat = append(flat, first.X, first.Y)
	}
	return flat
}

func (g *Geometry) segments() [][2]Point {
	pts := g.Points
	if len(pts) == 1 {
		return [][2]Point{{pts[0], pts[0]}}
	}
	var segs [][2]Point
	for i := 0; i+1 < len(pts); i++ {
		segs = append(segs, [2]Point{pts[i], pts[i+1]})
	}
	if g.Kind == GeometryPolygon && pts[0] != pts[len(pts)-1] {
		segs = append(segs, [2]Point{pts[len(pts)-1], pts[0]})
	}
	return segs
}

var segmentIntersector = &lineintersector.RobustLineIntersector{}

// segmentsTouch reports whether two segments share a point. A segment with
// equal ends stands for a point.
func segmentsTouch(a, b [2]Point) bool {
	aPoint, bPoint := a[0] == a[1], b[0] == b[1]
	switch {
	case aPoint && bPoint:
		return a[0] == b[0]
	case aPoint:
		return lineintersector.PointIntersectsLine(segmentIntersector, a[0].coord(), b[0].coord(), b[1].coord())
	case bPoint:
		return lineintersector.PointIntersectsLine(segmentIntersector, b[0].coord(), a[0].coord(), a[1].coord())
	}
	result := lineintersector.LineIntersectsLine(segmentIntersector, a[0].coord(), a[1].coord(), b[0].coord(), b[1].coord())
	return result.HasIntersection()
}

// BBox is an axis-aligned bounding box.
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// EmptyBBox returns a box that contains nothing and grows on Extend.
func EmptyBBox() BBox {
	return BBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}

// IsEmpty reports whether no point was ever added.
func (b BBox) IsEmpty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

// Extend grows the box to include p.
func (b BBox) Extend(p Point) BBox {
	return BBox{
		MinX: math.Min(b.MinX, p.X),
		MinY: math.Min(b.MinY, p.Y),
		MaxX: math.Max(b.MaxX, p.X),
		MaxY: math.Max(b.MaxY, p.Y),
	}
}

// Merge grows the box to include other.
func (b BBox) Merge(other BBox) BBox {
	if other.IsEmpty() {
		return b
	}
	return b.Extend(Point{X: other.MinX, Y: other.MinY}).Extend(Point{X: other.MaxX, Y: other.MaxY})
}

// Intersects reports whether both boxes overlap.
func (b BBox) Intersects(other BBox) bool {
	if b.IsEmpty() || other.IsEmpty() {
		return false
	}
	return b.MinX <= other.MaxX && other.MinX <= b.MaxX && b.MinY <= other.MaxY && other.MinY <= b.MaxY
}

// Feature is a feature of interest: the real-world object being observed.
type Feature struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description"`
	Geometry    *Geometry         `json:"geometry,omitempty" yaml:"geometry"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties"`
}

// FoiFilter selects features by id and/or region of interest. The zero
// value selects every feature.
type FoiFilter struct {
	IDs []string
	ROI *Geometry
}

// Matches reports whether f passes the filter.
func (ff FoiFilter) Matches(f Feature) bool {
	if len(ff.IDs) > 0 && !containsString(ff.IDs, f.ID) {
		return false
	}
	if ff.ROI != nil && ff.ROI.Disjoint(f.Geometry) {
		return false
	}
	return true
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
