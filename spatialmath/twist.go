package spatialmath

import (
	"github.com/golang/geo/r3"
)

// TwistToFrame re-expresses a twist (linear velocity v, angular velocity w) given in a child frame
// as the twist of the parent frame origin, where x is the pose of the child in the parent. This is
// the adjoint map: w' = R·w, v' = R·v + t × (R·w).
func TwistToFrame(x *RigidTransform, v, w r3.Vector) (r3.Vector, r3.Vector) {
	wParent := x.rotation.MulVec(w)
	vParent := x.rotation.MulVec(v).Add(x.translation.Cross(wParent))
	return vParent, wParent
}

// TwistSliceToFrame is TwistToFrame over a 6-vector laid out as [vx vy vz wx wy wz].
func TwistSliceToFrame(x *RigidTransform, twist []float64) []float64 {
	v, w := TwistToFrame(x,
		r3.Vector{X: twist[0], Y: twist[1], Z: twist[2]},
		r3.Vector{X: twist[3], Y: twist[4], Z: twist[5]})
	return []float64{v.X, v.Y, v.Z, w.X, w.Y, w.Z}
}
