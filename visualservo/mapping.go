package visualservo

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultDOF is the degree of freedom count of a 6-axis arm or a spatial twist.
const DefaultDOF = 6

// VelocityMapping turns an image error into an actuator-space vector, before gain and sign.
type VelocityMapping interface {
	Map(e ErrorVector) (VelocityCommand, error)
	DOF() int
}

// TruncateMapping takes the first DOF error components as the command and zero pads a shorter
// error. It ignores how features actually move with the actuator and serves as the baseline law.
type TruncateMapping struct {
	dof int
}

// NewTruncateMapping returns a TruncateMapping with dof outputs.
func NewTruncateMapping(dof int) (*TruncateMapping, error) {
	if dof <= 0 {
		return nil, errors.Errorf("degrees of freedom must be positive, got %d", dof)
	}
	return &TruncateMapping{dof: dof}, nil
}

// DOF returns the command length.
func (m *TruncateMapping) DOF() int {
	return m.dof
}

// Map implements VelocityMapping.
func (m *TruncateMapping) Map(e ErrorVector) (VelocityCommand, error) {
	out := make(VelocityCommand, m.dof)
	copy(out, e)
	return out, nil
}

// PseudoInverseMapping maps image error through the pseudo-inverse of an interaction matrix L,
// where ė = L·v for actuator (or camera) velocity v.
type PseudoInverseMapping struct {
	pinv *mat.Dense
	rows int
	rank int
}

// pinvTolerance is the singular value cutoff, relative to the largest, when inverting L.
const pinvTolerance = 1e-9

// NewPseudoInverseMapping precomputes L⁺ for a 2N x DOF interaction matrix. A rank deficient L is
// accepted; its unobservable directions receive no velocity.
func NewPseudoInverseMapping(l mat.Matrix) (*PseudoInverseMapping, error) {
	rows, cols := l.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.New("empty interaction matrix")
	}
	if rows%2 != 0 {
		return nil, errors.Errorf("interaction matrix needs two rows per point, got %d rows", rows)
	}
	var svd mat.SVD
	if ok := svd.Factorize(l, mat.SVDThin); !ok {
		return nil, errors.New("interaction matrix SVD failed to factorize")
	}
	rank := svd.Rank(pinvTolerance)
	if rank == 0 {
		return nil, errors.New("interaction matrix is zero")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	// L⁺ = V·Σ⁺·Uᵀ over the retained singular values.
	sigmaInv := mat.NewDiagDense(rank, nil)
	for i := 0; i < rank; i++ {
		sigmaInv.SetDiag(i, 1/values[i])
	}
	var tmp, pinv mat.Dense
	tmp.Mul(v.Slice(0, cols, 0, rank), sigmaInv)
	pinv.Mul(&tmp, u.Slice(0, rows, 0, rank).T())
	return &PseudoInverseMapping{pinv: &pinv, rows: rows, rank: rank}, nil
}

// DOF returns the command length.
func (m *PseudoInverseMapping) DOF() int {
	r, _ := m.pinv.Dims()
	return r
}

// Rank returns the rank of the interaction matrix.
func (m *PseudoInverseMapping) Rank() int {
	return m.rank
}

// Map implements VelocityMapping.
func (m *PseudoInverseMapping) Map(e ErrorVector) (VelocityCommand, error) {
	if len(e) != m.rows {
		return nil, errors.Errorf("error has %d components but the interaction matrix has %d rows", len(e), m.rows)
	}
	var out mat.VecDense
	out.MulVec(m.pinv, mat.NewVecDense(len(e), append([]float64(nil), e...)))
	return VelocityCommand(out.RawVector().Data), nil
}

// PointInteractionMatrix returns the 2N x 6 interaction matrix of normalized image points at the
// given depths, relating their motion to the camera twist [vx vy vz wx wy wz].
func PointInteractionMatrix(points ImagePointSet, depths []float64) (*mat.Dense, error) {
	if len(points) != len(depths) {
		return nil, errors.Errorf("%d points but %d depths", len(points), len(depths))
	}
	if len(points) == 0 {
		return nil, errors.New("no points")
	}
	l := mat.NewDense(2*len(points), DefaultDOF, nil)
	for i, p := range points {
		z := depths[i]
		if z <= 0 {
			return nil, errors.Errorf("point %d has non-positive depth %v", i, z)
		}
		x, y := p.X, p.Y
		l.SetRow(2*i, []float64{-1 / z, 0, x / z, x * y, -(1 + x*x), y})
		l.SetRow(2*i+1, []float64{0, -1 / z, y / z, 1 + y*y, -x * y, -x})
	}
	return l, nil
}
