package features

import (
	"sort"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// LandmarkSubset is a named, fixed set of landmark indices.
type LandmarkSubset struct {
	Name    string
	indices []int
}

func newSubset(name string, indices ...int) LandmarkSubset {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	return LandmarkSubset{Name: name, indices: sorted}
}

// Size is the declared cardinality of the subset.
func (s LandmarkSubset) Size() int {
	return len(s.indices)
}

// Indices returns a copy of the subset's landmark indices in ascending order.
func (s LandmarkSubset) Indices() []int {
	return append([]int(nil), s.indices...)
}

// Collect gathers the subset's points from a landmark list in ascending index
// order. ok is false when the list does not contain every index of the subset.
func (s LandmarkSubset) Collect(landmarks []types.Point3D) (points []types.Point3D, ok bool) {
	points = make([]types.Point3D, 0, len(s.indices))
	for _, idx := range s.indices {
		if idx >= len(landmarks) {
			break
		}
		points = append(points, landmarks[idx])
	}
	return points, len(points) == len(s.indices)
}

// Subsets of the 468-point face mesh. "Left" and "right" are the subject's.
var (
	LeftEye = newSubset("left_eye",
		384, 385, 386, 387, 388, 390, 263, 362,
		398, 466, 373, 374, 249, 380, 381, 382,
	)

	RightEye = newSubset("right_eye",
		160, 33, 161, 163, 133, 7, 173, 144,
		145, 246, 153, 154, 155, 157, 158, 159,
	)

	FaceOval = newSubset("face_oval",
		132, 389, 136, 10, 397, 400, 148, 149, 150, 21, 152, 284,
		288, 162, 297, 172, 176, 54, 58, 323, 67, 454, 332, 338,
		93, 356, 103, 361, 234, 365, 109, 251, 377, 378, 379, 127,
	)

	Lips = newSubset("lips",
		0, 267, 269, 270, 14, 13, 17, 146, 402, 405, 409, 415, 291, 37,
		39, 40, 178, 308, 181, 310, 311, 312, 185, 314, 61, 317, 318, 191,
		321, 324, 78, 80, 81, 82, 84, 87, 88, 91, 95, 375,
	)
)
