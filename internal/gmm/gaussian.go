package gmm

import (
	"fmt"
	"math"

	"github.com/book-expert/hntm-service/internal/binio"
	"gonum.org/v1/gonum/mat"
)

const symmetryTolerance = 1e-9

var log2Pi = math.Log(2 * math.Pi)

// Component is one multivariate Gaussian. In diagonal mode Covariance is a
// single-row matrix of variances; in full mode it is the d×d covariance
// matrix and the inverse and log-determinant are kept alongside it. The
// normalisation constant is computed once by refresh, never per call.
type Component struct {
	Mean       []float64
	Covariance *mat.Dense

	diagonal bool
	inverse  *mat.SymDense
	logDet   float64
	logNorm  float64
}

// NewComponent returns a standard normal component: zero mean, unit variance.
func NewComponent(dim int, diagonal bool) (*Component, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidDimension, dim)
	}

	var covariance []float64

	if diagonal {
		covariance = make([]float64, dim)
		for i := range covariance {
			covariance[i] = 1
		}
	} else {
		covariance = make([]float64, dim*dim)
		for i := range dim {
			covariance[i*dim+i] = 1
		}
	}

	return NewComponentFromCluster(make([]float64, dim), covariance, diagonal)
}

// NewComponentFromCluster builds a component from externally estimated
// statistics. covariance holds d variances in diagonal mode or the d×d
// matrix in row-major order in full mode. The inputs are copied.
func NewComponentFromCluster(mean, covariance []float64, diagonal bool) (*Component, error) {
	dim := len(mean)
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty mean", ErrInvalidDimension)
	}

	rows, want := 1, dim
	if !diagonal {
		rows, want = dim, dim*dim
	}

	if len(covariance) != want {
		return nil, fmt.Errorf("%w: covariance has %d values, want %d", ErrInvalidDimension, len(covariance), want)
	}

	c := &Component{
		Mean:       append([]float64(nil), mean...),
		Covariance: mat.NewDense(rows, dim, append([]float64(nil), covariance...)),
		diagonal:   diagonal,
	}

	err := c.refresh()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// refresh recomputes the cached inverse, determinant and normalisation constant.
func (c *Component) refresh() error {
	dim := len(c.Mean)

	if c.diagonal {
		logDet := 0.0

		for i, v := range c.Covariance.RawRowView(0) {
			if !(v > 0) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: variance %d is %g", ErrInvalidCovariance, i, v)
			}

			logDet += math.Log(v)
		}

		c.logDet = logDet
		c.inverse = nil
	} else {
		sym, err := symmetric(c.Covariance)
		if err != nil {
			return err
		}

		var chol mat.Cholesky
		if !chol.Factorize(sym) {
			return fmt.Errorf("%w: matrix is not positive definite", ErrInvalidCovariance)
		}

		inverse := mat.NewSymDense(dim, nil)

		err = chol.InverseTo(inverse)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCovariance, err)
		}

		c.logDet = chol.LogDet()
		c.inverse = inverse
	}

	c.logNorm = -0.5 * (float64(dim)*log2Pi + c.logDet)

	return nil
}

func symmetric(m *mat.Dense) (*mat.SymDense, error) {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)

	for i := range n {
		for j := i; j < n; j++ {
			a, b := m.At(i, j), m.At(j, i)
			if math.Abs(a-b) > symmetryTolerance*math.Max(1, math.Abs(a)) {
				return nil, fmt.Errorf("%w: not symmetric at (%d,%d)", ErrInvalidCovariance, i, j)
			}

			sym.SetSym(i, j, a)
		}
	}

	return sym, nil
}

// FeatureDimension returns the length of the mean vector.
func (c *Component) FeatureDimension() int {
	return len(c.Mean)
}

// IsDiagonal reports the covariance mode.
func (c *Component) IsDiagonal() bool {
	return c.diagonal
}

// Variances returns the diagonal of the covariance matrix.
func (c *Component) Variances() []float64 {
	if c.diagonal {
		return append([]float64(nil), c.Covariance.RawRowView(0)...)
	}

	variances := make([]float64, len(c.Mean))
	for i := range variances {
		variances[i] = c.Covariance.At(i, i)
	}

	return variances
}

// Determinant returns the determinant of the covariance matrix.
func (c *Component) Determinant() float64 {
	return math.Exp(c.logDet)
}

// ConstantTerm returns the cached normalisation constant 1/sqrt((2π)^d |Σ|).
func (c *Component) ConstantTerm() float64 {
	return math.Exp(c.logNorm)
}

// LogProbability returns the log density at x.
func (c *Component) LogProbability(x []float64) (float64, error) {
	if len(x) != len(c.Mean) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(x), len(c.Mean))
	}

	if c.diagonal {
		variances := c.Covariance.RawRowView(0)
		mahalanobis := 0.0

		for i, xi := range x {
			d := xi - c.Mean[i]
			mahalanobis += d * d / variances[i]
		}

		return c.logNorm - 0.5*mahalanobis, nil
	}

	diff := make([]float64, len(x))
	for i, xi := range x {
		diff[i] = xi - c.Mean[i]
	}

	v := mat.NewVecDense(len(diff), diff)

	return c.logNorm - 0.5*mat.Inner(v, c.inverse, v), nil
}

// Probability returns the density at x.
func (c *Component) Probability(x []float64) (float64, error) {
	logP, err := c.LogProbability(x)
	if err != nil {
		return 0, err
	}

	return math.Exp(logP), nil
}

// Clone returns a deep copy.
func (c *Component) Clone() *Component {
	clone := *c
	clone.Mean = append([]float64(nil), c.Mean...)
	clone.Covariance = mat.DenseCopyOf(c.Covariance)

	if c.inverse != nil {
		clone.inverse = mat.NewSymDense(len(c.Mean), nil)
		clone.inverse.CopySym(c.inverse)
	}

	return &clone
}

// write encodes the mean followed by the variances or the full matrix.
// The inverse and determinant are not stored.
func (c *Component) write(w *binio.Writer) {
	w.Float64s(c.Mean)

	rows, _ := c.Covariance.Dims()
	for i := range rows {
		w.Float64s(c.Covariance.RawRowView(i))
	}
}

func readComponent(r *binio.Reader, dim int, diagonal bool) (*Component, error) {
	mean, err := r.Float64s(dim)
	if err != nil {
		return nil, fmt.Errorf("mean: %w", err)
	}

	n := dim
	if !diagonal {
		n = dim * dim
	}

	covariance, err := r.Float64s(n)
	if err != nil {
		return nil, fmt.Errorf("covariance: %w", err)
	}

	return NewComponentFromCluster(mean, covariance, diagonal)
}
