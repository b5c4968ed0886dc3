package visualservo

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestTruncateMapping(t *testing.T) {
	_, err := NewTruncateMapping(0)
	test.That(t, err, test.ShouldNotBeNil)

	m, err := NewTruncateMapping(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.DOF(), test.ShouldEqual, 3)

	e := ErrorVector{1, 2, 3, 4, 5}
	out, err := m.Map(e)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, VelocityCommand{1, 2, 3})

	out[0] = 100
	test.That(t, e[0], test.ShouldEqual, 1)

	out, err = m.Map(ErrorVector{7, 8})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, VelocityCommand{7, 8, 0})
}

func TestPseudoInverseMapping(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		_, err := NewPseudoInverseMapping(mat.NewDense(3, 2, nil))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "two rows per point")

		_, err = NewPseudoInverseMapping(mat.NewDense(4, 2, nil))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "zero")
	})

	t.Run("known inverse", func(t *testing.T) {
		l := mat.NewDense(4, 2, []float64{
			2, 0,
			0, 4,
			0, 0,
			0, 0,
		})
		m, err := NewPseudoInverseMapping(l)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.DOF(), test.ShouldEqual, 2)
		test.That(t, m.Rank(), test.ShouldEqual, 2)

		out, err := m.Map(ErrorVector{1, 1, 5, 5})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldHaveLength, 2)
		test.That(t, out[0], test.ShouldAlmostEqual, 0.5)
		test.That(t, out[1], test.ShouldAlmostEqual, 0.25)

		_, err = m.Map(ErrorVector{1, 1})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "has 4 rows")
	})

	t.Run("rank deficient", func(t *testing.T) {
		l := mat.NewDense(2, 2, []float64{
			1, 1,
			1, 1,
		})
		m, err := NewPseudoInverseMapping(l)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Rank(), test.ShouldEqual, 1)
		out, err := m.Map(ErrorVector{2, 2})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out[0], test.ShouldAlmostEqual, 1)
		test.That(t, out[1], test.ShouldAlmostEqual, 1)
	})
}

func TestPointInteractionMatrix(t *testing.T) {
	points := ImagePointSet{{X: -0.1, Y: -0.1}, {X: 0.1, Y: -0.1}, {X: 0.1, Y: 0.1}, {X: -0.1, Y: 0.15}}
	depths := []float64{1, 1.2, 0.9, 1.1}

	l, err := PointInteractionMatrix(points, depths)
	test.That(t, err, test.ShouldBeNil)
	r, c := l.Dims()
	test.That(t, r, test.ShouldEqual, 8)
	test.That(t, c, test.ShouldEqual, 6)
	test.That(t, mat.Row(nil, 2, l), test.ShouldResemble, []float64{-1 / 1.2, 0, 0.1 / 1.2, 0.1 * -0.1, -(1 + 0.1*0.1), -0.1})

	// For a full rank L the pseudo-inverse recovers the twist that produced the feature motion.
	m, err := NewPseudoInverseMapping(l)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Rank(), test.ShouldEqual, 6)
	twist := mat.NewVecDense(6, []float64{0.01, -0.02, 0.03, 0.001, 0.002, -0.003})
	var motion mat.VecDense
	motion.MulVec(l, twist)
	out, err := m.Map(ErrorVector(motion.RawVector().Data))
	test.That(t, err, test.ShouldBeNil)
	for i := range out {
		test.That(t, out[i], test.ShouldAlmostEqual, twist.AtVec(i), 1e-9)
	}

	_, err = PointInteractionMatrix(points, depths[:3])
	test.That(t, err, test.ShouldNotBeNil)
	_, err = PointInteractionMatrix(ImagePointSet{r2.Point{}}, []float64{0})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "non-positive depth")
	_, err = PointInteractionMatrix(ImagePointSet{}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}
