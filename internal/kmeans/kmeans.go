// Package kmeans clusters feature vectors with Lloyd's algorithm and reports
// per-cluster statistics suitable for seeding a Gaussian mixture.
package kmeans

import (
	"errors"
	"fmt"
	"math"
)

// Defaults used when Config fields are left at zero.
const (
	DefaultMaxIterations  = 100
	DefaultMinChangeRatio = 0.001
	DefaultVarianceFloor  = 1e-4
)

var (
	// ErrNoData is returned when there is nothing to cluster.
	ErrNoData = errors.New("no data to cluster")
	// ErrInvalidK is returned when K is not within [1, len(data)].
	ErrInvalidK = errors.New("invalid number of clusters")
	// ErrRaggedData is returned when the vectors do not share one dimension.
	ErrRaggedData = errors.New("vectors differ in dimension")
)

// Config controls a clustering run.
type Config struct {
	K              int
	MaxIterations  int
	MinChangeRatio float64 // stop once fewer than this share of vectors change cluster
	Diagonal       bool
	VarianceFloor  float64
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}

	if c.MinChangeRatio <= 0 {
		c.MinChangeRatio = DefaultMinChangeRatio
	}

	if c.VarianceFloor <= 0 {
		c.VarianceFloor = DefaultVarianceFloor
	}

	return c
}

// Result holds the outcome of Train.
type Result struct {
	Means       [][]float64
	Covariances [][]float64 // d variances, or a row-major d×d matrix
	Sizes       []int
	Assignments []int
	Iterations  int

	dim      int
	diagonal bool
}

// NumClusters returns K.
func (r *Result) NumClusters() int { return len(r.Means) }

// FeatureDimension returns the vector dimension.
func (r *Result) FeatureDimension() int { return r.dim }

// IsDiagonal reports whether covariances are diagonal.
func (r *Result) IsDiagonal() bool { return r.diagonal }

// ClusterMean returns the centroid of cluster i.
func (r *Result) ClusterMean(i int) []float64 { return r.Means[i] }

// ClusterCovariance returns the covariance of cluster i.
func (r *Result) ClusterCovariance(i int) []float64 { return r.Covariances[i] }

// ClusterSize returns the number of vectors assigned to cluster i.
func (r *Result) ClusterSize(i int) int { return r.Sizes[i] }

// Train clusters data into cfg.K groups. Initial centres are chosen by
// farthest-point traversal starting from the first vector, so runs are
// reproducible.
func Train(data [][]float64, cfg Config) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrNoData
	}

	if cfg.K <= 0 || cfg.K > len(data) {
		return nil, fmt.Errorf("%w: K=%d for %d vectors", ErrInvalidK, cfg.K, len(data))
	}

	dim := len(data[0])
	for i, x := range data {
		if len(x) != dim || dim == 0 {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrRaggedData, i, len(x), dim)
		}
	}

	cfg = cfg.withDefaults()
	means := initialCentres(data, cfg.K)
	assignments := make([]int, len(data))

	for i := range assignments {
		assignments[i] = -1
	}

	iterations := 0

	for iterations < cfg.MaxIterations {
		iterations++

		changed := assign(data, means, assignments)
		updateMeans(data, assignments, means)

		if float64(changed)/float64(len(data)) < cfg.MinChangeRatio {
			break
		}
	}

	result := &Result{
		Means:       means,
		Covariances: make([][]float64, cfg.K),
		Sizes:       make([]int, cfg.K),
		Assignments: assignments,
		Iterations:  iterations,
		dim:         dim,
		diagonal:    cfg.Diagonal,
	}

	for _, a := range assignments {
		result.Sizes[a]++
	}

	for k := range cfg.K {
		result.Covariances[k] = covariance(data, assignments, k, means[k], cfg.Diagonal, cfg.VarianceFloor)
	}

	return result, nil
}

func initialCentres(data [][]float64, k int) [][]float64 {
	centres := [][]float64{append([]float64(nil), data[0]...)}
	nearest := make([]float64, len(data))

	for i, x := range data {
		nearest[i] = squaredDistance(x, centres[0])
	}

	for len(centres) < k {
		best := 0
		for i := range data {
			if nearest[i] > nearest[best] {
				best = i
			}
		}

		centre := append([]float64(nil), data[best]...)
		centres = append(centres, centre)

		for i, x := range data {
			nearest[i] = math.Min(nearest[i], squaredDistance(x, centre))
		}
	}

	return centres
}

// assign moves every vector to its nearest centre and returns how many moved.
func assign(data, means [][]float64, assignments []int) int {
	changed := 0

	for i, x := range data {
		best, bestDist := 0, math.Inf(1)

		for k, m := range means {
			d := squaredDistance(x, m)
			if d < bestDist {
				best, bestDist = k, d
			}
		}

		if assignments[i] != best {
			assignments[i] = best
			changed++
		}
	}

	return changed
}

// updateMeans recomputes centroids. A cluster that lost all its vectors keeps
// its previous centre.
func updateMeans(data [][]float64, assignments []int, means [][]float64) {
	dim := len(means[0])
	sums := make([][]float64, len(means))
	counts := make([]int, len(means))

	for k := range sums {
		sums[k] = make([]float64, dim)
	}

	for i, x := range data {
		k := assignments[i]
		counts[k]++

		for d, v := range x {
			sums[k][d] += v
		}
	}

	for k := range means {
		if counts[k] == 0 {
			continue
		}

		for d := range dim {
			means[k][d] = sums[k][d] / float64(counts[k])
		}
	}
}

// covariance estimates the spread of cluster k. Diagonal variances are
// floored; a full matrix gets the floor added to its diagonal so it stays
// positive definite.
func covariance(data [][]float64, assignments []int, k int, mean []float64, diagonal bool, floor float64) []float64 {
	dim := len(mean)
	n := 0

	size := dim
	if !diagonal {
		size = dim * dim
	}

	acc := make([]float64, size)

	for i, x := range data {
		if assignments[i] != k {
			continue
		}

		n++

		for a := range dim {
			da := x[a] - mean[a]
			if diagonal {
				acc[a] += da * da

				continue
			}

			for b := range dim {
				acc[a*dim+b] += da * (x[b] - mean[b])
			}
		}
	}

	if n > 0 {
		for i := range acc {
			acc[i] /= float64(n)
		}
	}

	for a := range dim {
		if diagonal {
			acc[a] = math.Max(acc[a], floor)
		} else {
			acc[a*dim+a] += floor
		}
	}

	return acc
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}
