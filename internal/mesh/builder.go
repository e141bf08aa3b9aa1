package mesh

import (
	"math"

	"github.com/pspoerri/tilemesh/internal/affine"
)

type vertex struct {
	px, py   float64
	lon, lat float64
	valid    bool
}

type triangle struct {
	v     [3]uint32
	depth int
	alive bool
}

// edgeKey identifies an undirected edge by its vertex pair.
type edgeKey struct{ a, b uint32 }

func newEdgeKey(a, b uint32) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// builder owns the vertex arena and the triangle list for one mesh.
type builder struct {
	w, h float64
	pipe *affine.Pipeline
	opts Options

	verts []vertex
	tris  []triangle

	mids  map[edgeKey]uint32   // split edge -> midpoint vertex
	edges map[edgeKey][2]int32 // edge -> up to two live triangles

	pending []int32 // triangles awaiting the error test
	hanging []int32 // triangles that may carry a split neighbour edge
}

func newBuilder(w, h float64, pipe *affine.Pipeline, opts Options) *builder {
	b := &builder{
		w:     w,
		h:     h,
		pipe:  pipe,
		opts:  opts,
		mids:  make(map[edgeKey]uint32),
		edges: make(map[edgeKey][2]int32),
	}

	// Corners in the order (0,0), (w,0), (0,h), (w,h).
	c0 := b.addVertex(0, 0)
	c1 := b.addVertex(w, 0)
	c2 := b.addVertex(0, h)
	c3 := b.addVertex(w, h)
	b.addTriangle([3]uint32{c0, c1, c2}, 0)
	b.addTriangle([3]uint32{c1, c3, c2}, 0)
	return b
}

func (b *builder) addVertex(px, py float64) uint32 {
	lon, lat := b.pipe.Forward(px, py)
	b.verts = append(b.verts, vertex{
		px: px, py: py,
		lon: lon, lat: lat,
		valid: finite(lon) && finite(lat),
	})
	return uint32(len(b.verts) - 1)
}

// midpoint returns the welded midpoint of edge (a, b).
func (b *builder) midpoint(a, c uint32) uint32 {
	k := newEdgeKey(a, c)
	if m, ok := b.mids[k]; ok {
		return m
	}
	va, vc := b.verts[a], b.verts[c]
	m := b.addVertex((va.px+vc.px)/2, (va.py+vc.py)/2)
	b.mids[k] = m
	return m
}

func (b *builder) addTriangle(v [3]uint32, depth int) int32 {
	b.tris = append(b.tris, triangle{v: v, depth: depth, alive: true})
	id := int32(len(b.tris) - 1)
	for i := 0; i < 3; i++ {
		k := newEdgeKey(v[i], v[(i+1)%3])
		slots, ok := b.edges[k]
		if !ok {
			slots = [2]int32{-1, -1}
		}
		if slots[0] < 0 {
			slots[0] = id
		} else {
			slots[1] = id
		}
		b.edges[k] = slots
	}
	b.pending = append(b.pending, id)
	return id
}

func (b *builder) removeTriangle(id int32) {
	t := &b.tris[id]
	t.alive = false
	for i := 0; i < 3; i++ {
		k := newEdgeKey(t.v[i], t.v[(i+1)%3])
		slots := b.edges[k]
		if slots[0] == id {
			slots[0] = -1
		}
		if slots[1] == id {
			slots[1] = -1
		}
		if slots[0] < 0 && slots[1] < 0 {
			delete(b.edges, k)
		} else {
			b.edges[k] = slots
		}
	}
}

// bisect splits triangle id at its longest edge. The triangle on the other
// side of that edge, if any, is queued for the conformity check.
func (b *builder) bisect(id int32) {
	t := b.tris[id]
	i := b.longestEdge(t.v)
	a, c, opp := t.v[i], t.v[(i+1)%3], t.v[(i+2)%3]

	m := b.midpoint(a, c)
	b.removeTriangle(id)

	if slots, ok := b.edges[newEdgeKey(a, c)]; ok {
		for _, n := range slots {
			if n >= 0 {
				b.hanging = append(b.hanging, n)
			}
		}
	}

	// Children keep the parent's winding.
	t1 := b.addTriangle([3]uint32{a, m, opp}, t.depth+1)
	t2 := b.addTriangle([3]uint32{m, c, opp}, t.depth+1)
	b.hanging = append(b.hanging, t1, t2)
}

// longestEdge returns i such that edge (v[i], v[i+1]) is the longest in
// pixel space. Ties go to the lowest index.
func (b *builder) longestEdge(v [3]uint32) int {
	best, bestLen := 0, -1.0
	for i := 0; i < 3; i++ {
		p, q := b.verts[v[i]], b.verts[v[(i+1)%3]]
		l := (p.px-q.px)*(p.px-q.px) + (p.py-q.py)*(p.py-q.py)
		if l > bestLen {
			best, bestLen = i, l
		}
	}
	return best
}

// nonConforming reports whether a neighbour already split one of the
// triangle's edges.
func (b *builder) nonConforming(v [3]uint32) bool {
	for i := 0; i < 3; i++ {
		if _, ok := b.mids[newEdgeKey(v[i], v[(i+1)%3])]; ok {
			return true
		}
	}
	return false
}

// refine drains both work stacks, conformity fixes first.
func (b *builder) refine() {
	for len(b.pending) > 0 || len(b.hanging) > 0 {
		if n := len(b.hanging); n > 0 {
			id := b.hanging[n-1]
			b.hanging = b.hanging[:n-1]
			if b.tris[id].alive && b.nonConforming(b.tris[id].v) {
				b.bisect(id)
			}
			continue
		}

		n := len(b.pending)
		id := b.pending[n-1]
		b.pending = b.pending[:n-1]
		t := b.tris[id]
		if !t.alive || t.depth >= b.opts.MaxDepth {
			continue
		}
		if b.triangleError(t.v) > b.opts.MaxError {
			b.bisect(id)
		}
	}
}

// triangleError is the largest deviation between exact and interpolated
// positions at the edge midpoints and the centroid. Triangles with some
// but not all vertices out of domain report +Inf so the domain boundary
// gets refined; fully out-of-domain triangles report 0.
func (b *builder) triangleError(v [3]uint32) float64 {
	p0, p1, p2 := b.verts[v[0]], b.verts[v[1]], b.verts[v[2]]
	switch n := countValid(p0, p1, p2); {
	case n == 0:
		return 0
	case n < 3:
		return math.Inf(1)
	}

	third := 1.0 / 3
	samples := [4][3]float64{
		{0.5, 0.5, 0},
		{0, 0.5, 0.5},
		{0.5, 0, 0.5},
		{third, third, third},
	}

	var maxErr float64
	for _, w := range samples {
		px := w[0]*p0.px + w[1]*p1.px + w[2]*p2.px
		py := w[0]*p0.py + w[1]*p1.py + w[2]*p2.py
		lon, lat := b.pipe.Forward(px, py)
		if !finite(lon) || !finite(lat) {
			return math.Inf(1)
		}
		ilon := w[0]*p0.lon + w[1]*p1.lon + w[2]*p2.lon
		ilat := w[0]*p0.lat + w[1]*p1.lat + w[2]*p2.lat
		if d := math.Hypot(lon-ilon, lat-ilat); d > maxErr {
			maxErr = d
		}
	}
	return maxErr
}

// output compacts the arena. Out-of-domain vertices and every triangle
// touching one are dropped.
func (b *builder) output() *Mesh {
	remap := make([]int64, len(b.verts))
	m := &Mesh{}
	for i, v := range b.verts {
		if !v.valid {
			remap[i] = -1
			continue
		}
		remap[i] = int64(len(m.Positions))
		m.Positions = append(m.Positions, [3]float64{v.lon, v.lat, 0})
		m.UVs = append(m.UVs, [2]float32{float32(v.px / b.w), float32(v.py / b.h)})
	}

	for _, t := range b.tris {
		if !t.alive {
			continue
		}
		i0, i1, i2 := remap[t.v[0]], remap[t.v[1]], remap[t.v[2]]
		if i0 < 0 || i1 < 0 || i2 < 0 {
			continue
		}
		m.Triangles = append(m.Triangles, [3]uint32{uint32(i0), uint32(i1), uint32(i2)})
	}
	return m
}

func countValid(vs ...vertex) int {
	n := 0
	for _, v := range vs {
		if v.valid {
			n++
		}
	}
	return n
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
