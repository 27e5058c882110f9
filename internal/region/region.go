// Package region implements the composable 2D area wl_region exposes:
// a tree of rectangle, union, intersect and inverse nodes, queried by
// point containment. Not consulted by the compositor's render or input
// path, but
// the object model is still built and torn down for protocol
// completeness, since several toolkits call set_opaque_region
// unconditionally.
package region

// Rect is an axis-aligned rectangle in surface-local coordinates.
type Rect struct {
	X, Y, W, H int32
}

func (r Rect) contains(x, y int32) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// node is the recursive expression tree backing a Region.
type node interface {
	contains(x, y int32) bool
}

type rectNode struct{ r Rect }

func (n rectNode) contains(x, y int32) bool { return n.r.contains(x, y) }

type unionNode struct{ a, b node }

func (n unionNode) contains(x, y int32) bool {
	return n.a.contains(x, y) || n.b.contains(x, y)
}

type intersectNode struct{ a, b node }

func (n intersectNode) contains(x, y int32) bool {
	return n.a.contains(x, y) && n.b.contains(x, y)
}

type inverseNode struct{ inner node }

func (n inverseNode) contains(x, y int32) bool {
	return !n.inner.contains(x, y)
}

// Region is a boolean area over R^2, built incrementally by Add and
// Subtract and evaluated bottom-up by Contains.
type Region struct {
	root node // nil means the empty region
}

// New returns an empty region.
func New() *Region {
	return &Region{}
}

// Add unions the given rectangle into the region.
func (reg *Region) Add(x, y, w, h int32) {
	r := rectNode{Rect{X: x, Y: y, W: w, H: h}}
	if reg.root == nil {
		reg.root = r
		return
	}
	reg.root = unionNode{a: reg.root, b: r}
}

// Subtract intersects the region with the inverse of the given
// rectangle, removing it from the area.
func (reg *Region) Subtract(x, y, w, h int32) {
	r := rectNode{Rect{X: x, Y: y, W: w, H: h}}
	if reg.root == nil {
		return
	}
	reg.root = intersectNode{a: reg.root, b: inverseNode{inner: r}}
}

// Contains reports whether the point lies within the region.
func (reg *Region) Contains(x, y int32) bool {
	if reg.root == nil {
		return false
	}
	return reg.root.contains(x, y)
}
