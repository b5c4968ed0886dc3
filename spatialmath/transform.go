// Package spatialmath implements the rigid-motion algebra used by calibration and servoing:
// rotation matrices, axis angles, quaternions and 4x4 homogeneous transforms.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// RigidTransform is a proper rotation followed by a translation. It maps points expressed in a
// child frame into its parent frame: p_parent = R·p_child + t.
type RigidTransform struct {
	rotation    *RotationMatrix
	translation r3.Vector
}

// NewRigidTransform builds a transform from its parts. A nil rotation is the identity.
func NewRigidTransform(rotation *RotationMatrix, translation r3.Vector) *RigidTransform {
	if rotation == nil {
		rotation = NewIdentityRotation()
	}
	return &RigidTransform{rotation: rotation, translation: translation}
}

// NewIdentityTransform returns the transform that changes nothing.
func NewIdentityTransform() *RigidTransform {
	return NewRigidTransform(nil, r3.Vector{})
}

// NewRigidTransformFromAxisAngle builds a transform from an axis angle and a translation.
func NewRigidTransformFromAxisAngle(aa *R4AA, translation r3.Vector) *RigidTransform {
	return NewRigidTransform(aa.RotationMatrix(), translation)
}

// NewRigidTransformFromHomogeneous validates a 4x4 homogeneous matrix and converts it.
func NewRigidTransformFromHomogeneous(m mat.Matrix) (*RigidTransform, error) {
	rot, t, err := Decompose(m)
	if err != nil {
		return nil, err
	}
	return NewRigidTransform(rot, t), nil
}

// Decompose splits a 4x4 homogeneous matrix into its rotation block and translation column.
// It fails with a *MalformedTransformError if the matrix is not exactly 4x4, holds a non-finite
// value, or its rotation block is not a proper rotation within OrthonormalityTolerance. The
// bottom row is not checked.
func Decompose(m mat.Matrix) (*RotationMatrix, r3.Vector, error) {
	if m == nil {
		return nil, r3.Vector{}, NewMalformedTransformError("nil matrix")
	}
	rows, cols := m.Dims()
	if rows != 4 || cols != 4 {
		return nil, r3.Vector{}, NewMalformedTransformError("expected a 4x4 matrix, got %dx%d", rows, cols)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			if v := m.At(r, c); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, r3.Vector{}, NewMalformedTransformError("non-finite element at (%d, %d)", r, c)
			}
		}
	}

	rot := rotationFromDense(m)
	if e := rot.OrthonormalityError(); e >= OrthonormalityTolerance {
		return nil, r3.Vector{}, NewMalformedTransformError(
			"rotation is not orthonormal (|RᵀR - I| = %.3g, tolerance %.3g)", e, OrthonormalityTolerance)
	}
	if det := rot.Det(); det <= 0 {
		return nil, r3.Vector{}, NewMalformedTransformError("rotation has determinant %.3f, not a proper rotation", det)
	}
	return rot, r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}, nil
}

// Rotation returns the rotation part.
func (t *RigidTransform) Rotation() *RotationMatrix {
	return t.rotation
}

// Translation returns the translation part.
func (t *RigidTransform) Translation() r3.Vector {
	return t.translation
}

// Apply maps a point from the child frame into the parent frame.
func (t *RigidTransform) Apply(p r3.Vector) r3.Vector {
	return t.rotation.MulVec(p).Add(t.translation)
}

// Inverse returns the transform mapping parent coordinates back into the child frame.
func (t *RigidTransform) Inverse() *RigidTransform {
	rt := t.rotation.Transpose()
	return &RigidTransform{rotation: rt, translation: rt.MulVec(t.translation).Mul(-1)}
}

// Homogeneous returns the 4x4 homogeneous matrix form.
func (t *RigidTransform) Homogeneous() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Set(r, c, t.rotation.At(r, c))
		}
	}
	out.Set(0, 3, t.translation.X)
	out.Set(1, 3, t.translation.Y)
	out.Set(2, 3, t.translation.Z)
	out.Set(3, 3, 1)
	return out
}

func (t *RigidTransform) String() string {
	return fmt.Sprintf("{R: %v, t: %v}", t.rotation, t.translation)
}

// Compose returns a·b, the transform that applies b first and then a.
func Compose(a, b *RigidTransform) *RigidTransform {
	return &RigidTransform{
		rotation:    a.rotation.Mul(b.rotation),
		translation: a.rotation.MulVec(b.translation).Add(a.translation),
	}
}

// RotationAngleBetween returns the angle in radians of the rotation taking a's orientation to b's.
func RotationAngleBetween(a, b *RigidTransform) float64 {
	return a.rotation.Transpose().Mul(b.rotation).Angle()
}

// TransformAlmostEqual reports whether two transforms differ by less than rotTol radians of
// rotation and transTol of translation distance.
func TransformAlmostEqual(a, b *RigidTransform, rotTol, transTol float64) bool {
	return RotationAngleBetween(a, b) < rotTol && a.translation.Sub(b.translation).Norm() < transTol
}
