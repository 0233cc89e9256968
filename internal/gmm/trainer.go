package gmm

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/hntm-service/internal/kmeans"
)

var _ ClusterSource = (*kmeans.Result)(nil)

// Trainer defaults.
const (
	DefaultEMIterations  = 50
	DefaultTolerance     = 1e-4
	DefaultVarianceFloor = 1e-4
	// minOccupancy is the responsibility mass below which a component keeps
	// its previous parameters instead of being re-estimated.
	minOccupancy = 1e-8
)

// ErrNoTrainingData is returned when Train receives no vectors.
var ErrNoTrainingData = errors.New("no training data")

// TrainerConfig controls Train.
type TrainerConfig struct {
	Components       int
	Diagonal         bool
	MaxIterations    int
	KMeansIterations int
	Tolerance        float64 // stop when the average log-likelihood improves by less
	VarianceFloor    float64
	Info             string
}

// TrainResult is the outcome of Train.
type TrainResult struct {
	Model                *GMM
	AverageLogLikelihood float64
	Iterations           int
	Converged            bool
}

func (c TrainerConfig) withDefaults() TrainerConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultEMIterations
	}

	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}

	if c.VarianceFloor <= 0 {
		c.VarianceFloor = DefaultVarianceFloor
	}

	return c
}

// Train fits a mixture to data: K-means seeds the components and their
// occupancy weights, then expectation-maximisation refines all parameters.
func Train(data [][]float64, cfg TrainerConfig) (*TrainResult, error) {
	if len(data) == 0 {
		return nil, ErrNoTrainingData
	}

	cfg = cfg.withDefaults()

	clusters, err := kmeans.Train(data, kmeans.Config{
		K:             cfg.Components,
		MaxIterations: cfg.KMeansIterations,
		Diagonal:      cfg.Diagonal,
		VarianceFloor: cfg.VarianceFloor,
	})
	if err != nil {
		return nil, fmt.Errorf("k-means initialisation: %w", err)
	}

	model, err := NewFromClusters(clusters)
	if err != nil {
		return nil, err
	}

	err = model.WeightsFromOccupancy(clusters)
	if err != nil {
		return nil, err
	}

	model.Info = cfg.Info
	result := &TrainResult{Model: model, AverageLogLikelihood: math.Inf(-1)}

	for result.Iterations < cfg.MaxIterations {
		result.Iterations++

		avgLL, stepErr := emStep(model, data, cfg.VarianceFloor)
		if stepErr != nil {
			return nil, fmt.Errorf("EM iteration %d: %w", result.Iterations, stepErr)
		}

		improvement := avgLL - result.AverageLogLikelihood
		result.AverageLogLikelihood = avgLL

		if improvement < cfg.Tolerance {
			result.Converged = true

			break
		}
	}

	return result, nil
}

// emStep performs one expectation-maximisation update of g in place and
// returns the average log-likelihood of data under the model before the update.
func emStep(g *GMM, data [][]float64, floor float64) (float64, error) {
	k := len(g.Components)
	dim := g.FeatureDimension
	occupancy := make([]float64, k)
	firstMoments := make([][]float64, k)
	secondMoments := make([][]float64, k)

	secondSize := dim
	if !g.Diagonal {
		secondSize = dim * dim
	}

	for i := range k {
		firstMoments[i] = make([]float64, dim)
		secondMoments[i] = make([]float64, secondSize)
	}

	totalLL := 0.0

	for _, x := range data {
		logDensities, err := g.weightedLogDensities(x)
		if err != nil {
			return 0, err
		}

		lse := logSumExp(logDensities)
		if math.IsInf(lse, -1) {
			return 0, fmt.Errorf("%w for a training vector", ErrDegenerateDensity)
		}

		totalLL += lse

		for i, ld := range logDensities {
			gamma := math.Exp(ld - lse)
			occupancy[i] += gamma

			for a := range dim {
				firstMoments[i][a] += gamma * x[a]

				if g.Diagonal {
					secondMoments[i][a] += gamma * x[a] * x[a]

					continue
				}

				for b := range dim {
					secondMoments[i][a*dim+b] += gamma * x[a] * x[b]
				}
			}
		}
	}

	n := float64(len(data))

	for i := range k {
		g.Weights[i] = occupancy[i] / n
		if occupancy[i] < minOccupancy {
			continue
		}

		mean := make([]float64, dim)
		for a := range dim {
			mean[a] = firstMoments[i][a] / occupancy[i]
		}

		cov := secondMoments[i]
		for a := range dim {
			if g.Diagonal {
				cov[a] = math.Max(cov[a]/occupancy[i]-mean[a]*mean[a], floor)

				continue
			}

			for b := range dim {
				cov[a*dim+b] = cov[a*dim+b]/occupancy[i] - mean[a]*mean[b]
			}
		}

		if !g.Diagonal {
			symmetrize(cov, dim)

			for a := range dim {
				cov[a*dim+a] += floor
			}
		}

		c, err := NewComponentFromCluster(mean, cov, g.Diagonal)
		if err != nil {
			return 0, fmt.Errorf("component %d: %w", i, err)
		}

		g.Components[i] = c
	}

	err := g.NormalizeWeights()
	if err != nil {
		return 0, err
	}

	return totalLL / n, nil
}

// symmetrize averages m with its transpose to remove rounding asymmetry.
func symmetrize(m []float64, dim int) {
	for a := range dim {
		for b := a + 1; b < dim; b++ {
			avg := 0.5 * (m[a*dim+b] + m[b*dim+a])
			m[a*dim+b] = avg
			m[b*dim+a] = avg
		}
	}
}
