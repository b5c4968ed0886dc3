package handeye

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/handeye/logging"
	"go.viam.com/handeye/spatialmath"
)

// Method selects the rotation estimator.
type Method string

// Pairing selects which sample pairs form the relative motions.
type Pairing string

const (
	// MethodTsai is the Tsai–Lenz estimator on modified Rodrigues parameters.
	MethodTsai Method = "tsai"
	// MethodPark is the Park–Martin estimator on rotation logarithms.
	MethodPark Method = "park"

	// PairingAll uses every pair i < j.
	PairingAll Pairing = "all"
	// PairingConsecutive uses pairs (i, i+1) only.
	PairingConsecutive Pairing = "consecutive"

	// DefaultMaxConditionNumber is the largest accepted 2-norm condition number of either linear
	// system before a result is flagged degenerate.
	DefaultMaxConditionNumber = 1e3
)

// rankTolerance is the singular value cutoff, relative to the largest, used for least squares.
const rankTolerance = 1e-10

// SolverConfig configures a Solver. Zero values select the defaults.
type SolverConfig struct {
	Method             Method
	Pairing            Pairing
	MaxConditionNumber float64
}

// DefaultSolverConfig returns the configuration Calibrate uses.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{Method: MethodTsai, Pairing: PairingAll, MaxConditionNumber: DefaultMaxConditionNumber}
}

func (cfg SolverConfig) withDefaults() SolverConfig {
	if cfg.Method == "" {
		cfg.Method = MethodTsai
	}
	if cfg.Pairing == "" {
		cfg.Pairing = PairingAll
	}
	if cfg.MaxConditionNumber == 0 {
		cfg.MaxConditionNumber = DefaultMaxConditionNumber
	}
	return cfg
}

// Validate ensures all parts of the config are valid.
func (cfg SolverConfig) Validate() error {
	cfg = cfg.withDefaults()
	switch cfg.Method {
	case MethodTsai, MethodPark:
	default:
		return errors.Errorf("unknown calibration method %q", cfg.Method)
	}
	switch cfg.Pairing {
	case PairingAll, PairingConsecutive:
	default:
		return errors.Errorf("unknown motion pairing %q", cfg.Pairing)
	}
	if cfg.MaxConditionNumber < 1 {
		return errors.Errorf("max condition number must be at least 1, got %v", cfg.MaxConditionNumber)
	}
	return nil
}

// Solver solves AX = XB for the camera-to-gripper transform X. It holds no state between calls.
type Solver struct {
	cfg    SolverConfig
	logger logging.Logger
}

// NewSolver returns a solver, or an error if cfg is invalid.
func NewSolver(cfg SolverConfig, logger logging.Logger) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Solver{cfg: cfg.withDefaults(), logger: logger}, nil
}

// Calibrate solves ds with the default configuration.
func Calibrate(ds *PoseDataset) (*CalibrationResult, error) {
	s, err := NewSolver(DefaultSolverConfig(), logging.Global().Sublogger("handeye"))
	if err != nil {
		return nil, err
	}
	return s.Solve(ds)
}

// motion is one relative motion pair with A·X = X·B.
type motion struct {
	a *spatialmath.RigidTransform
	b *spatialmath.RigidTransform
}

// Solve estimates X from ds. When either linear system is ill-conditioned it still returns the
// result, with Quality.Degenerate set, together with a *DegenerateMotionError; callers decide
// whether to reject it.
func (s *Solver) Solve(ds *PoseDataset) (*CalibrationResult, error) {
	if ds == nil {
		return nil, errors.New("nil pose dataset")
	}
	if ds.Len() < MinSamples {
		return nil, &InsufficientDataError{Got: ds.Len(), Need: MinSamples}
	}

	motions := s.motions(ds)
	rotCond, err := rotationDiversity(motions)
	if err != nil {
		return nil, err
	}

	method := s.cfg.Method
	var rot *spatialmath.RotationMatrix
	switch method {
	case MethodPark:
		rot, err = solveRotationPark(motions)
	default:
		var tsaiCond float64
		rot, tsaiCond, err = solveRotationTsai(motions)
		// Tsai's system is singular when X turns by close to π, whatever the motions. Park has no
		// such pole.
		if err == nil && tsaiCond > s.cfg.MaxConditionNumber && rotCond <= s.cfg.MaxConditionNumber {
			s.logger.Debugw("tsai rotation system is singular for well spread motions, solving with park",
				"tsai_condition", tsaiCond, "rotation_condition", rotCond)
			method = MethodPark
			rot, err = solveRotationPark(motions)
		}
	}
	if err != nil {
		return nil, err
	}
	trans, transCond, err := solveTranslation(motions, rot)
	if err != nil {
		return nil, err
	}
	x := spatialmath.NewRigidTransform(rot, trans)

	quality, err := residuals(motions, x)
	if err != nil {
		return nil, err
	}
	quality.RotationConditionNumber = rotCond
	quality.TranslationConditionNumber = transCond

	var warning error
	switch {
	case rotCond > s.cfg.MaxConditionNumber:
		warning = &DegenerateMotionError{System: "rotation", ConditionNumber: rotCond, Threshold: s.cfg.MaxConditionNumber}
	case transCond > s.cfg.MaxConditionNumber:
		warning = &DegenerateMotionError{System: "translation", ConditionNumber: transCond, Threshold: s.cfg.MaxConditionNumber}
	}
	quality.Degenerate = warning != nil

	result := &CalibrationResult{CameraToGripper: x, Quality: quality, Method: method, Pairing: s.cfg.Pairing}
	s.logger.Debugw("hand-eye solve",
		"method", method,
		"pairing", s.cfg.Pairing,
		"samples", ds.Len(),
		"motions", len(motions),
		"rotation_rms_deg", quality.RotationRMS*180/math.Pi,
		"translation_rms", quality.TranslationRMS,
		"rotation_condition", rotCond,
		"translation_condition", transCond,
	)
	if warning != nil {
		s.logger.Warnw("calibration is degenerate", "error", warning)
		return result, warning
	}
	return result, nil
}

func (s *Solver) motions(ds *PoseDataset) []motion {
	var idx [][2]int
	n := ds.Len()
	for i := 0; i < n-1; i++ {
		if s.cfg.Pairing == PairingConsecutive {
			idx = append(idx, [2]int{i, i + 1})
			continue
		}
		for j := i + 1; j < n; j++ {
			idx = append(idx, [2]int{i, j})
		}
	}
	return lo.Map(idx, func(p [2]int, _ int) motion {
		gi, ci := ds.Pair(p[0])
		gj, cj := ds.Pair(p[1])
		return motion{
			a: spatialmath.Compose(gj.Inverse(), gi),
			b: spatialmath.Compose(cj, ci.Inverse()),
		}
	})
}

// modifiedRodrigues returns 2·sin(θ/2)·axis.
func modifiedRodrigues(rm *spatialmath.RotationMatrix) r3.Vector {
	q := rm.Quaternion()
	if q.Real < 0 {
		q = spatialmath.Flip(q)
	}
	return r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}.Mul(2)
}

func skew(v r3.Vector) []float64 {
	return []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	}
}

// rotationDiversity returns the condition number of the stacked skew(α) blocks, α the rotation
// logarithm of each gripper motion. The stack loses rank only when every motion turns about the
// same axis, and it does not depend on X.
func rotationDiversity(motions []motion) (float64, error) {
	axes := mat.NewDense(3*len(motions), 3, nil)
	for k, m := range motions {
		alpha := m.a.Rotation().AxisAngles().ToR3()
		axes.Slice(3*k, 3*k+3, 0, 3).(*mat.Dense).Copy(mat.NewDense(3, 3, skew(alpha)))
	}
	var svd mat.SVD
	if ok := svd.Factorize(axes, mat.SVDNone); !ok {
		return 0, errors.New("rotation axes SVD failed to factorize")
	}
	return svd.Cond(), nil
}

// solveRotationTsai stacks skew(Pa + Pb)·g = Pb − Pa over all motions, with P the modified
// Rodrigues vectors, and recovers X's rotation from g = tan(θ/2)·axis. It also returns the condition
// number of that system.
func solveRotationTsai(motions []motion) (*spatialmath.RotationMatrix, float64, error) {
	lhs := mat.NewDense(3*len(motions), 3, nil)
	rhs := mat.NewDense(3*len(motions), 1, nil)
	for k, m := range motions {
		pa := modifiedRodrigues(m.a.Rotation())
		pb := modifiedRodrigues(m.b.Rotation())
		lhs.Slice(3*k, 3*k+3, 0, 3).(*mat.Dense).Copy(mat.NewDense(3, 3, skew(pa.Add(pb))))
		d := pb.Sub(pa)
		rhs.Set(3*k, 0, d.X)
		rhs.Set(3*k+1, 0, d.Y)
		rhs.Set(3*k+2, 0, d.Z)
	}
	g, cond, err := leastSquares(lhs, rhs)
	if err != nil {
		return nil, 0, errors.Wrap(err, "solving rotation")
	}
	q := quat.Number{Real: 1, Imag: g[0], Jmag: g[1], Kmag: g[2]}
	return spatialmath.QuatToRotationMatrix(q), cond, nil
}

// solveRotationPark fits R minimizing Σ|R·β − α|² where α and β are the rotation logarithms of
// A and B: with M = Σ β·αᵀ = U·S·Vᵀ, R = (MᵀM)^(-1/2)·Mᵀ = V·Uᵀ.
func solveRotationPark(motions []motion) (*spatialmath.RotationMatrix, error) {
	m := mat.NewDense(3, 3, nil)
	for _, mo := range motions {
		alpha := mo.a.Rotation().AxisAngles().ToR3()
		beta := mo.b.Rotation().AxisAngles().ToR3()
		var outer mat.Dense
		outer.Outer(1, mat.NewVecDense(3, []float64{beta.X, beta.Y, beta.Z}),
			mat.NewVecDense(3, []float64{alpha.X, alpha.Y, alpha.Z}))
		m.Add(m, &outer)
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("rotation SVD failed to factorize")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		// Closest proper rotation: flip the direction of least support.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}
	return spatialmath.NewRotationMatrix(r.RawMatrix().Data)
}

// solveTranslation stacks (R_A − I)·t = R·t_B − t_A over all motions.
func solveTranslation(motions []motion, rot *spatialmath.RotationMatrix) (r3.Vector, float64, error) {
	lhs := mat.NewDense(3*len(motions), 3, nil)
	rhs := mat.NewDense(3*len(motions), 1, nil)
	for k, m := range motions {
		ra := m.a.Rotation()
		d := rot.MulVec(m.b.Translation()).Sub(m.a.Translation())
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				v := ra.At(r, c)
				if r == c {
					v--
				}
				lhs.Set(3*k+r, c, v)
			}
		}
		rhs.Set(3*k, 0, d.X)
		rhs.Set(3*k+1, 0, d.Y)
		rhs.Set(3*k+2, 0, d.Z)
	}
	t, cond, err := leastSquares(lhs, rhs)
	if err != nil {
		return r3.Vector{}, 0, errors.Wrap(err, "solving translation")
	}
	return r3.Vector{X: t[0], Y: t[1], Z: t[2]}, cond, nil
}

// leastSquares returns the minimum norm least squares solution of a·x = b and the 2-norm condition
// number of a. Singular values below rankTolerance of the largest are treated as zero, so a rank
// deficient system still yields a solution; its condition number is then very large or +Inf.
func leastSquares(a, b *mat.Dense) ([]float64, float64, error) {
	_, cols := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, 0, errors.New("SVD failed to factorize")
	}
	cond := svd.Cond()
	rank := svd.Rank(rankTolerance)
	if rank == 0 {
		return make([]float64, cols), math.Inf(1), nil
	}
	var x mat.Dense
	svd.SolveTo(&x, b, rank)
	return mat.Col(nil, 0, &x), cond, nil
}

// residuals measures how well x satisfies A·X = X·B over the motions.
func residuals(motions []motion, x *spatialmath.RigidTransform) (Quality, error) {
	rotErrs := make([]float64, 0, len(motions))
	transErrs := make([]float64, 0, len(motions))
	for _, m := range motions {
		lhs := spatialmath.Compose(m.a, x)
		rhs := spatialmath.Compose(x, m.b)
		rotErrs = append(rotErrs, spatialmath.RotationAngleBetween(lhs, rhs))
		transErrs = append(transErrs, lhs.Translation().Sub(rhs.Translation()).Norm())
	}

	var q Quality
	var err error
	q.MotionPairs = len(motions)
	if q.RotationRMS, err = rootMeanSquare(rotErrs); err != nil {
		return Quality{}, errors.Wrap(err, "rotation residual")
	}
	if q.RotationMax, err = stats.Max(rotErrs); err != nil {
		return Quality{}, errors.Wrap(err, "rotation residual")
	}
	if q.TranslationRMS, err = rootMeanSquare(transErrs); err != nil {
		return Quality{}, errors.Wrap(err, "translation residual")
	}
	if q.TranslationMax, err = stats.Max(transErrs); err != nil {
		return Quality{}, errors.Wrap(err, "translation residual")
	}
	return q, nil
}

func rootMeanSquare(values []float64) (float64, error) {
	meanSquare, err := stats.Mean(lo.Map(values, func(v float64, _ int) float64 { return v * v }))
	if err != nil {
		return 0, err
	}
	return math.Sqrt(meanSquare), nil
}
