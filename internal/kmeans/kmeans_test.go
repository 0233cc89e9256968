package kmeans_test

import (
	"testing"

	"github.com/book-expert/hntm-service/internal/kmeans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs returns points spread around (0,0) and (10,10).
func twoBlobs() [][]float64 {
	offsets := [][]float64{{0.1, 0}, {-0.1, 0}, {0, 0.1}, {0, -0.1}}

	var data [][]float64

	for _, centre := range [][]float64{{0, 0}, {10, 10}} {
		for _, o := range offsets {
			data = append(data, []float64{centre[0] + o[0], centre[1] + o[1]})
		}
	}

	return data
}

func TestTrain_SeparatesBlobs(t *testing.T) {
	t.Parallel()

	result, err := kmeans.Train(twoBlobs(), kmeans.Config{K: 2, Diagonal: true})
	require.NoError(t, err)

	require.Equal(t, 2, result.NumClusters())
	assert.Equal(t, 2, result.FeatureDimension())
	assert.True(t, result.IsDiagonal())

	// The first centre is seeded from the first vector, which sits in the origin blob.
	assert.InDeltaSlice(t, []float64{0, 0}, result.ClusterMean(0), 1e-9)
	assert.InDeltaSlice(t, []float64{10, 10}, result.ClusterMean(1), 1e-9)
	assert.Equal(t, 4, result.ClusterSize(0))
	assert.Equal(t, 4, result.ClusterSize(1))

	// Each coordinate takes ±0.1 in two of four points: variance 0.005.
	assert.InDeltaSlice(t, []float64{0.005, 0.005}, result.ClusterCovariance(0), 1e-9)
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, result.Assignments)
}

func TestTrain_FullCovarianceFloor(t *testing.T) {
	t.Parallel()

	result, err := kmeans.Train(twoBlobs(), kmeans.Config{K: 2, VarianceFloor: 0.5})
	require.NoError(t, err)

	cov := result.ClusterCovariance(1)
	require.Len(t, cov, 4)
	assert.InDelta(t, 0.505, cov[0], 1e-9)
	assert.InDelta(t, 0.0, cov[1], 1e-9)
	assert.InDelta(t, 0.0, cov[2], 1e-9)
	assert.InDelta(t, 0.505, cov[3], 1e-9)
}

func TestTrain_SingletonClusterUsesFloor(t *testing.T) {
	t.Parallel()

	data := [][]float64{{0}, {0.1}, {5}}

	result, err := kmeans.Train(data, kmeans.Config{K: 2, Diagonal: true, VarianceFloor: 0.01})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClusterSize(1))
	assert.InDeltaSlice(t, []float64{0.01}, result.ClusterCovariance(1), 1e-12)
}

func TestTrain_Errors(t *testing.T) {
	t.Parallel()

	_, err := kmeans.Train(nil, kmeans.Config{K: 1})
	require.ErrorIs(t, err, kmeans.ErrNoData)

	_, err = kmeans.Train([][]float64{{1}}, kmeans.Config{K: 2})
	require.ErrorIs(t, err, kmeans.ErrInvalidK)

	_, err = kmeans.Train([][]float64{{1, 2}, {3}}, kmeans.Config{K: 1})
	require.ErrorIs(t, err, kmeans.ErrRaggedData)
}
