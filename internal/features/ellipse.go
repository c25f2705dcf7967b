package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Conic holds the coefficients of A·x² + B·xy + C·y² + D·x + E·y + F = 0.
type Conic struct {
	A, B, C, D, E, F float64
}

// FitEllipse estimates the least-squares ellipse through 2D points
// (Halir & Flusser direct fit). Points are centered and scaled before the fit;
// the returned conic is expressed in those normalized coordinates, which
// preserves the axis ratio.
//
// ok is false for fewer than five points, a singular system, or a solution that
// is not a real ellipse.
func FitEllipse(xs, ys []float64) (Conic, bool) {
	n := len(xs)
	if n < 5 || len(ys) != n {
		return Conic{}, false
	}

	var mx, my float64
	for i := 0; i < n; i++ {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) || math.IsInf(xs[i], 0) || math.IsInf(ys[i], 0) {
			return Conic{}, false
		}
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var spread float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		spread += dx*dx + dy*dy
	}
	spread = math.Sqrt(spread / float64(n))
	if spread == 0 {
		return Conic{}, false
	}

	d1 := mat.NewDense(n, 3, nil)
	d2 := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		x := (xs[i] - mx) / spread
		y := (ys[i] - my) / spread
		d1.SetRow(i, []float64{x * x, x * y, y * y})
		d2.SetRow(i, []float64{x, y, 1})
	}

	var s1, s2, s3 mat.Dense
	s1.Mul(d1.T(), d1)
	s2.Mul(d1.T(), d2)
	s3.Mul(d2.T(), d2)

	var s3inv mat.Dense
	if err := s3inv.Inverse(&s3); err != nil {
		return Conic{}, false
	}

	// T = -S3⁻¹ S2ᵀ ; M = S1 + S2 T
	var t mat.Dense
	t.Mul(&s3inv, s2.T())
	t.Scale(-1, &t)

	var m mat.Dense
	m.Mul(&s2, &t)
	m.Add(&s1, &m)

	// Premultiply by the inverse of the constraint matrix C1 = [[0,0,2],[0,-1,0],[2,0,0]].
	reduced := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		reduced.Set(0, j, m.At(2, j)/2)
		reduced.Set(1, j, -m.At(1, j))
		reduced.Set(2, j, m.At(0, j)/2)
	}

	var eig mat.Eigen
	if !eig.Factorize(reduced, mat.EigenRight) {
		return Conic{}, false
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	best := -1
	var a1 [3]float64
	for k := 0; k < 3; k++ {
		v := [3]complex128{vecs.At(0, k), vecs.At(1, k), vecs.At(2, k)}
		if math.Abs(imag(v[0]))+math.Abs(imag(v[1]))+math.Abs(imag(v[2])) > 1e-9*(cmplx.Abs(v[0])+cmplx.Abs(v[1])+cmplx.Abs(v[2])) {
			continue
		}
		a, b, c := real(v[0]), real(v[1]), real(v[2])
		if 4*a*c-b*b > 0 {
			best = k
			a1 = [3]float64{a, b, c}
			break
		}
	}
	if best < 0 {
		return Conic{}, false
	}

	a1v := mat.NewVecDense(3, a1[:])
	var a2 mat.VecDense
	a2.MulVec(&t, a1v)

	conic := Conic{
		A: a1[0], B: a1[1], C: a1[2],
		D: a2.AtVec(0), E: a2.AtVec(1), F: a2.AtVec(2),
	}
	if !conic.isRealEllipse() {
		return Conic{}, false
	}
	return conic, true
}

// quadraticEigen returns the eigenvalues of [[A, B/2], [B/2, C]], larger first.
func (c Conic) quadraticEigen() (float64, float64) {
	mean := (c.A + c.C) / 2
	r := math.Hypot((c.A-c.C)/2, c.B/2)
	return mean + r, mean - r
}

func (c Conic) isRealEllipse() bool {
	det := 4*c.A*c.C - c.B*c.B
	if det <= 0 {
		return false
	}
	// Value of the conic at its center must have the opposite sign of A.
	x0 := (c.B*c.E - 2*c.C*c.D) / det
	y0 := (c.B*c.D - 2*c.A*c.E) / det
	f0 := c.A*x0*x0 + c.B*x0*y0 + c.C*y0*y0 + c.D*x0 + c.E*y0 + c.F
	return f0*c.A < 0
}

// AxisRatio returns the major/minor semi-axis ratio (always >= 1).
func (c Conic) AxisRatio() float64 {
	l1, l2 := c.quadraticEigen()
	l1, l2 = math.Abs(l1), math.Abs(l2)
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	if l2 == 0 {
		return math.Inf(1)
	}
	// Semi-axes scale with 1/sqrt(λ); the small eigenvalue belongs to the major axis.
	return math.Sqrt(l1 / l2)
}

// EllipseAxisRatio fits an ellipse and returns its major/minor axis ratio.
func EllipseAxisRatio(xs, ys []float64) (float64, bool) {
	c, ok := FitEllipse(xs, ys)
	if !ok {
		return 0, false
	}
	r := c.AxisRatio()
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return 0, false
	}
	return r, true
}
