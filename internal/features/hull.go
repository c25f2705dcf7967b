package features

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

type hullFace struct {
	a, b, c int
	normal  r3.Vec // unit, pointing out of the hull
	offset  float64
}

// HullArea returns the surface area of the 3D convex hull of points.
//
// Fewer than four points, or points that are collinear or coplanar within
// numerical tolerance, have no volume hull and yield 0.
//
// Algorithm: incremental hull. Start from a maximal tetrahedron, then for each
// remaining point remove the faces it can see and stitch the horizon edges to
// it. Subsets here hold at most a few dozen points, so the quadratic cost is
// irrelevant.
func HullArea(points []types.Point3D) float64 {
	pts := make([]r3.Vec, len(points))
	for i, p := range points {
		pts[i] = r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
	}
	faces, ok := convexHull(pts)
	if !ok {
		return 0
	}

	var area float64
	for _, f := range faces {
		area += 0.5 * r3.Norm(r3.Cross(r3.Sub(pts[f.b], pts[f.a]), r3.Sub(pts[f.c], pts[f.a])))
	}
	return area
}

func convexHull(pts []r3.Vec) ([]hullFace, bool) {
	if len(pts) < 4 {
		return nil, false
	}
	for _, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) ||
			math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || math.IsInf(p.Z, 0) {
			return nil, false
		}
	}

	lo, hi := pts[0], pts[0]
	for _, p := range pts[1:] {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	extent := r3.Norm(r3.Sub(hi, lo))
	if extent == 0 {
		return nil, false
	}
	eps := 1e-10 * extent

	i0, i1, i2, i3, ok := initialSimplex(pts, eps)
	if !ok {
		return nil, false
	}
	interior := r3.Scale(0.25, r3.Add(r3.Add(pts[i0], pts[i1]), r3.Add(pts[i2], pts[i3])))

	faces := []hullFace{
		orientFace(pts, i0, i1, i2, interior),
		orientFace(pts, i0, i1, i3, interior),
		orientFace(pts, i0, i2, i3, interior),
		orientFace(pts, i1, i2, i3, interior),
	}

	for i, p := range pts {
		if i == i0 || i == i1 || i == i2 || i == i3 {
			continue
		}

		edges := make(map[[2]int]bool)
		kept := faces[:0:0]
		for _, f := range faces {
			if r3.Dot(f.normal, p)-f.offset > eps {
				edges[[2]int{f.a, f.b}] = true
				edges[[2]int{f.b, f.c}] = true
				edges[[2]int{f.c, f.a}] = true
				continue
			}
			kept = append(kept, f)
		}
		if len(edges) == 0 {
			continue // inside
		}

		for e := range edges {
			if edges[[2]int{e[1], e[0]}] {
				continue // interior edge of the visible region
			}
			kept = append(kept, orientFace(pts, e[0], e[1], i, interior))
		}
		faces = kept
	}
	return faces, true
}

// initialSimplex picks four points spanning a non-degenerate tetrahedron.
func initialSimplex(pts []r3.Vec, eps float64) (int, int, int, int, bool) {
	i0 := 0

	i1, best := -1, 0.0
	for i, p := range pts {
		if d := r3.Norm(r3.Sub(p, pts[i0])); d > best {
			i1, best = i, d
		}
	}
	if i1 < 0 || best <= eps {
		return 0, 0, 0, 0, false
	}

	axis := r3.Sub(pts[i1], pts[i0])
	i2, best := -1, 0.0
	for i, p := range pts {
		if d := r3.Norm(r3.Cross(axis, r3.Sub(p, pts[i0]))) / r3.Norm(axis); d > best {
			i2, best = i, d
		}
	}
	if i2 < 0 || best <= eps {
		return 0, 0, 0, 0, false
	}

	normal := r3.Unit(r3.Cross(axis, r3.Sub(pts[i2], pts[i0])))
	i3, best := -1, 0.0
	for i, p := range pts {
		if d := math.Abs(r3.Dot(normal, r3.Sub(p, pts[i0]))); d > best {
			i3, best = i, d
		}
	}
	if i3 < 0 || best <= eps {
		return 0, 0, 0, 0, false
	}
	return i0, i1, i2, i3, true
}

// orientFace builds a face whose normal points away from interior.
func orientFace(pts []r3.Vec, a, b, c int, interior r3.Vec) hullFace {
	n := r3.Cross(r3.Sub(pts[b], pts[a]), r3.Sub(pts[c], pts[a]))
	if r3.Dot(n, r3.Sub(interior, pts[a])) > 0 {
		b, c = c, b
		n = r3.Scale(-1, n)
	}
	if norm := r3.Norm(n); norm > 0 {
		n = r3.Scale(1/norm, n)
	}
	return hullFace{a: a, b: b, c: c, normal: n, offset: r3.Dot(n, pts[a])}
}
