// Package gmm implements Gaussian mixture models: per-component densities
// with diagonal or full covariance, mixture densities and posteriors,
// construction from clusters, EM training and binary persistence.
package gmm

import (
	"errors"
	"fmt"
	"math"
)

const weightSumTolerance = 1e-6

var (
	// ErrInvalidDimension is returned when a vector or matrix does not match the feature dimension.
	ErrInvalidDimension = errors.New("invalid dimension")
	// ErrInvalidCovariance is returned for non-positive variances or a non positive-definite matrix.
	ErrInvalidCovariance = errors.New("invalid covariance")
	// ErrDegenerateDensity is returned when no component assigns a finite log density to a vector.
	ErrDegenerateDensity = errors.New("degenerate density: no component has a finite log density")
	// ErrInconsistentModel is returned when weights, components and header disagree.
	ErrInconsistentModel = errors.New("inconsistent mixture model")
	// ErrEmptyModel is returned when a density is requested from a model without components.
	ErrEmptyModel = errors.New("mixture has no components")
)

// ClusterSource exposes the statistics of a finished clustering run. The
// mixture copies what it needs and keeps no reference to the source.
type ClusterSource interface {
	NumClusters() int
	FeatureDimension() int
	IsDiagonal() bool
	ClusterMean(i int) []float64
	// ClusterCovariance returns d variances (diagonal) or a row-major d×d matrix.
	ClusterCovariance(i int) []float64
	ClusterSize(i int) int
}

// GMM is a weighted mixture of Gaussian components. It exclusively owns its
// components.
type GMM struct {
	Weights          []float64
	Components       []*Component
	FeatureDimension int
	Diagonal         bool
	Info             string
}

// New returns an empty mixture.
func New() *GMM {
	return &GMM{}
}

// NewUniform returns total standard normal components with equal weights.
func NewUniform(total, dim int, diagonal bool) (*GMM, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: %d components", ErrInconsistentModel, total)
	}

	g := &GMM{
		Weights:          uniformWeights(total),
		Components:       make([]*Component, total),
		FeatureDimension: dim,
		Diagonal:         diagonal,
	}

	for i := range g.Components {
		c, err := NewComponent(dim, diagonal)
		if err != nil {
			return nil, err
		}

		g.Components[i] = c
	}

	return g, nil
}

// NewFromClusters creates one component per cluster from its mean and
// covariance. Mixture weights are set uniform, not from cluster occupancy;
// call WeightsFromOccupancy to weight components by cluster size.
func NewFromClusters(src ClusterSource) (*GMM, error) {
	total := src.NumClusters()
	if total <= 0 {
		return nil, fmt.Errorf("%w: %d clusters", ErrInconsistentModel, total)
	}

	g := &GMM{
		Weights:          uniformWeights(total),
		Components:       make([]*Component, total),
		FeatureDimension: src.FeatureDimension(),
		Diagonal:         src.IsDiagonal(),
	}

	for i := range total {
		mean := src.ClusterMean(i)
		if len(mean) != g.FeatureDimension {
			return nil, fmt.Errorf("%w: cluster %d mean has %d values", ErrInvalidDimension, i, len(mean))
		}

		c, err := NewComponentFromCluster(mean, src.ClusterCovariance(i), g.Diagonal)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}

		g.Components[i] = c
	}

	return g, nil
}

// WeightsFromOccupancy sets each weight to the cluster's share of all samples.
func (g *GMM) WeightsFromOccupancy(src ClusterSource) error {
	if src.NumClusters() != len(g.Components) {
		return fmt.Errorf("%w: %d clusters for %d components", ErrInconsistentModel, src.NumClusters(), len(g.Components))
	}

	total := 0
	for i := range src.NumClusters() {
		total += src.ClusterSize(i)
	}

	if total <= 0 {
		return fmt.Errorf("%w: clusters hold no samples", ErrInconsistentModel)
	}

	for i := range g.Weights {
		g.Weights[i] = float64(src.ClusterSize(i)) / float64(total)
	}

	return nil
}

func uniformWeights(total int) []float64 {
	weights := make([]float64, total)
	for i := range weights {
		weights[i] = 1 / float64(total)
	}

	return weights
}

// TotalComponents returns the number of components.
func (g *GMM) TotalComponents() int {
	return len(g.Components)
}

// Clone returns a deep copy.
func (g *GMM) Clone() *GMM {
	clone := &GMM{
		Weights:          append([]float64(nil), g.Weights...),
		Components:       make([]*Component, len(g.Components)),
		FeatureDimension: g.FeatureDimension,
		Diagonal:         g.Diagonal,
		Info:             g.Info,
	}

	for i, c := range g.Components {
		clone.Components[i] = c.Clone()
	}

	return clone
}

// Validate checks that header, weights and components agree.
func (g *GMM) Validate() error {
	if g.FeatureDimension <= 0 {
		return fmt.Errorf("%w: feature dimension %d", ErrInconsistentModel, g.FeatureDimension)
	}

	if len(g.Weights) != len(g.Components) {
		return fmt.Errorf("%w: %d weights for %d components", ErrInconsistentModel, len(g.Weights), len(g.Components))
	}

	sum := 0.0

	for i, c := range g.Components {
		if c == nil {
			return fmt.Errorf("%w: component %d is nil", ErrInconsistentModel, i)
		}

		if c.FeatureDimension() != g.FeatureDimension || c.IsDiagonal() != g.Diagonal {
			return fmt.Errorf("%w: component %d does not match the mixture header", ErrInconsistentModel, i)
		}

		if g.Weights[i] < 0 || math.IsNaN(g.Weights[i]) {
			return fmt.Errorf("%w: weight %d is %g", ErrInconsistentModel, i, g.Weights[i])
		}

		sum += g.Weights[i]
	}

	if len(g.Components) > 0 && math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("%w: weights sum to %g", ErrInconsistentModel, sum)
	}

	return nil
}

// NormalizeWeights rescales the weights to sum to one.
func (g *GMM) NormalizeWeights() error {
	sum := 0.0
	for _, w := range g.Weights {
		sum += w
	}

	if !(sum > 0) || math.IsInf(sum, 0) {
		return fmt.Errorf("%w: weights sum to %g", ErrInconsistentModel, sum)
	}

	for i := range g.Weights {
		g.Weights[i] /= sum
	}

	return nil
}

// Probability returns the mixture density Σ wᵢ·pᵢ(x). It is a density and
// may exceed one.
func (g *GMM) Probability(x []float64) (float64, error) {
	densities, err := g.weightedDensities(x)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, d := range densities {
		total += d
	}

	return total, nil
}

// LogProbability returns the log mixture density, computed in the log domain
// so that it stays finite where Probability underflows.
func (g *GMM) LogProbability(x []float64) (float64, error) {
	logDensities, err := g.weightedLogDensities(x)
	if err != nil {
		return 0, err
	}

	return logSumExp(logDensities), nil
}

// ComponentProbabilities returns the posterior probability of each
// component given x. The result sums to one. Normalisation runs in the log
// domain, so vectors far from every mean still get posteriors.
// ErrDegenerateDensity is returned only when no component has a finite
// weighted log density.
func (g *GMM) ComponentProbabilities(x []float64) ([]float64, error) {
	logDensities, err := g.weightedLogDensities(x)
	if err != nil {
		return nil, err
	}

	logTotal := logSumExp(logDensities)
	if math.IsInf(logTotal, 0) || math.IsNaN(logTotal) {
		return nil, fmt.Errorf("%w (log total %g)", ErrDegenerateDensity, logTotal)
	}

	for i, ld := range logDensities {
		logDensities[i] = math.Exp(ld - logTotal)
	}

	return logDensities, nil
}

func (g *GMM) weightedDensities(x []float64) ([]float64, error) {
	logDensities, err := g.weightedLogDensities(x)
	if err != nil {
		return nil, err
	}

	for i, ld := range logDensities {
		logDensities[i] = math.Exp(ld)
	}

	return logDensities, nil
}

func (g *GMM) weightedLogDensities(x []float64) ([]float64, error) {
	if len(g.Components) == 0 {
		return nil, ErrEmptyModel
	}

	if len(g.Weights) != len(g.Components) {
		return nil, fmt.Errorf("%w: %d weights for %d components", ErrInconsistentModel, len(g.Weights), len(g.Components))
	}

	if len(x) != g.FeatureDimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(x), g.FeatureDimension)
	}

	out := make([]float64, len(g.Components))

	for i, c := range g.Components {
		logP, err := c.LogProbability(x)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}

		out[i] = math.Log(g.Weights[i]) + logP
	}

	return out, nil
}

func logSumExp(values []float64) float64 {
	peak := math.Inf(-1)
	for _, v := range values {
		peak = math.Max(peak, v)
	}

	if math.IsInf(peak, -1) {
		return peak
	}

	sum := 0.0
	for _, v := range values {
		sum += math.Exp(v - peak)
	}

	return peak + math.Log(sum)
}
