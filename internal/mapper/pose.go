package mapper

import (
	"math"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// EulerZYX decomposes a rotation matrix as R = Rz(z)·Ry(y)·Rx(x)
// (intrinsic z, then y, then x) and returns the angles in degrees.
//
// At gimbal lock (|y| = 90°) x is fixed to 0 and the remaining rotation is
// attributed to z.
func EulerZYX(r [3][3]float64) (z, y, x float64) {
	sy := -r[2][0]
	sy = math.Max(-1, math.Min(1, sy))
	y = math.Asin(sy)

	if math.Abs(sy) < 1-1e-9 {
		z = math.Atan2(r[1][0], r[0][0])
		x = math.Atan2(r[2][1], r[2][2])
	} else {
		z = math.Atan2(-r[0][1], r[1][1])
		x = 0
	}
	return deg(z), deg(y), deg(x)
}

func deg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// facePose converts a head transform into the engine's position and angle
// convention: X and Z translation negated; angles X=-y, Y=-x, Z=z.
func facePose(t types.Transform) (pos [3]float64, angle [3]float64) {
	tr := t.Translation()
	pos = [3]float64{-tr[0], tr[1], -tr[2]}

	z, y, x := EulerZYX(t.Rotation())
	angle = [3]float64{-y, -x, z}
	return pos, angle
}
