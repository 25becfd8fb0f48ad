// Package iforest implements an isolation forest over dense feature vectors.
package iforest

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

const eulerGamma = 0.5772156649

// ErrNoData is returned by Fit when there is nothing to train on.
var ErrNoData = errors.New("iforest: no data")

// node is one split, or a leaf holding the number of points that reached it.
type node struct {
	feature     int
	split       float64
	left, right *node
	size        int
	leaf        bool
}

// Forest is an ensemble of isolation trees. A Forest is not safe for concurrent Fit calls;
// Score may be called concurrently once Fit has returned.
type Forest struct {
	numTrees   int
	sampleSize int
	maxDepth   int
	seed       int64

	rng        *rand.Rand
	trees      []*node
	normalizer float64
	dims       int
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option {
	return func(f *Forest) { f.numTrees = n }
}

// WithSampleSize sets the subsample size (psi) drawn for each tree.
func WithSampleSize(n int) Option {
	return func(f *Forest) { f.sampleSize = n }
}

// WithMaxDepth caps tree height. Zero means ceil(log2(psi)).
func WithMaxDepth(d int) Option {
	return func(f *Forest) { f.maxDepth = d }
}

// WithSeed fixes the random source. Zero seeds from the clock.
func WithSeed(seed int64) Option {
	return func(f *Forest) { f.seed = seed }
}

// New creates an untrained forest with 100 trees and a subsample size of 256 unless overridden.
func New(opts ...Option) *Forest {
	f := &Forest{numTrees: 100, sampleSize: 256}
	for _, opt := range opts {
		opt(f)
	}
	seed := f.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	f.rng = rand.New(rand.NewSource(seed))
	return f
}

// Fit builds the ensemble from data, replacing any earlier fit. Every row must have the same length.
func (f *Forest) Fit(data [][]float64) error {
	if len(data) == 0 || len(data[0]) == 0 {
		return ErrNoData
	}
	f.dims = len(data[0])
	for _, row := range data {
		if len(row) != f.dims {
			return errors.New("iforest: ragged feature matrix")
		}
	}

	psi := min(f.sampleSize, len(data))
	depth := f.maxDepth
	if depth <= 0 {
		depth = int(math.Ceil(math.Log2(float64(max(psi, 2)))))
	}

	f.trees = make([]*node, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		f.trees = append(f.trees, f.grow(f.subsample(data, psi), 0, depth))
	}
	f.normalizer = averagePathLength(psi)
	return nil
}

// Score returns the anomaly score of x in (0, 1]. Higher means easier to isolate.
// An unfitted forest scores everything 0.5.
func (f *Forest) Score(x []float64) float64 {
	if len(f.trees) == 0 || f.normalizer == 0 {
		return 0.5
	}
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/f.normalizer)
}

// ScoreAll scores every row.
func (f *Forest) ScoreAll(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, x := range data {
		scores[i] = f.Score(x)
	}
	return scores
}

// subsample draws n rows without replacement using a partial Fisher-Yates shuffle.
func (f *Forest) subsample(data [][]float64, n int) [][]float64 {
	shuffled := make([][]float64, len(data))
	copy(shuffled, data)
	for i := 0; i < n; i++ {
		j := i + f.rng.Intn(len(shuffled)-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

func (f *Forest) grow(data [][]float64, depth, limit int) *node {
	if len(data) <= 1 || depth >= limit {
		return &node{size: len(data), leaf: true}
	}

	// only split on features that still vary within this partition
	candidates := make([]int, 0, f.dims)
	lo := make([]float64, f.dims)
	hi := make([]float64, f.dims)
	for d := 0; d < f.dims; d++ {
		lo[d], hi[d] = featureRange(data, d)
		if hi[d] > lo[d] {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(data), leaf: true}
	}

	feature := candidates[f.rng.Intn(len(candidates))]
	split := lo[feature] + f.rng.Float64()*(hi[feature]-lo[feature])

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &node{size: len(data), leaf: true}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    f.grow(left, depth+1, limit),
		right:   f.grow(right, depth+1, limit),
		size:    len(data),
	}
}

func featureRange(data [][]float64, d int) (lo, hi float64) {
	lo, hi = data[0][d], data[0][d]
	for _, row := range data[1:] {
		lo = min(lo, row[d])
		hi = max(hi, row[d])
	}
	return lo, hi
}

func pathLength(n *node, x []float64, depth int) float64 {
	for !n.leaf {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}
