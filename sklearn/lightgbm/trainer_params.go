package lightgbm

import (
	"math/rand/v2"
	"sort"
)

// SamplingStrategy handles row bagging and per-tree feature sampling.
// Both draw from one generator seeded by TrainingParams.Seed, so a run is
// reproducible for a fixed seed.
type SamplingStrategy struct {
	rng             *rand.Rand
	featureFraction float64
	baggingFraction float64
	baggingFreq     int

	bag []int
}

// NewSamplingStrategy creates a new sampling strategy
func NewSamplingStrategy(params TrainingParams) *SamplingStrategy {
	seed := uint64(params.Seed)
	return &SamplingStrategy{
		rng:             rand.New(rand.NewPCG(seed, seed)),
		featureFraction: params.FeatureFraction,
		baggingFraction: params.BaggingFraction,
		baggingFreq:     params.BaggingFreq,
	}
}

// SampleFeatures returns the sorted feature indices available to one tree.
func (s *SamplingStrategy) SampleFeatures(numFeatures int) []int {
	if s.featureFraction >= 1.0 || s.featureFraction <= 0 {
		return identity(numFeatures)
	}
	numSample := int(float64(numFeatures) * s.featureFraction)
	if numSample < 1 {
		numSample = 1
	}
	out := s.partialShuffle(numFeatures, numSample)
	sort.Ints(out)
	return out
}

// SampleInstances returns the sorted rows used to grow the tree of the given
// iteration. A new bag is drawn every baggingFreq iterations and reused in
// between.
func (s *SamplingStrategy) SampleInstances(numInstances int, iteration int) []int {
	if s.baggingFreq <= 0 || s.baggingFraction >= 1.0 || s.baggingFraction <= 0 {
		return identity(numInstances)
	}
	if s.bag != nil && iteration%s.baggingFreq != 0 {
		return s.bag
	}

	numSample := int(float64(numInstances) * s.baggingFraction)
	if numSample < 1 {
		numSample = 1
	}
	s.bag = s.partialShuffle(numInstances, numSample)
	sort.Ints(s.bag)
	return s.bag
}

// partialShuffle draws k of n indices without replacement (Fisher-Yates).
func (s *SamplingStrategy) partialShuffle(n, k int) []int {
	perm := identity(n)
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k]
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// RegularizationStrategy handles L1/L2 regularization
type RegularizationStrategy struct {
	lambdaL1 float64
	lambdaL2 float64
}

// NewRegularizationStrategy creates a new regularization strategy
func NewRegularizationStrategy(params TrainingParams) *RegularizationStrategy {
	return &RegularizationStrategy{
		lambdaL1: params.Alpha,
		lambdaL2: params.Lambda,
	}
}

// thresholdL1 は勾配和にソフト閾値処理を適用する
func (r *RegularizationStrategy) thresholdL1(sumGrad float64) float64 {
	switch {
	case sumGrad > r.lambdaL1:
		return sumGrad - r.lambdaL1
	case sumGrad < -r.lambdaL1:
		return sumGrad + r.lambdaL1
	default:
		return 0
	}
}

// LeafValue returns the regularised optimal leaf output -T(G)/(H+λ2).
func (r *RegularizationStrategy) LeafValue(sumGrad, sumHess float64) float64 {
	const epsilon = 1e-10
	return -r.thresholdL1(sumGrad) / (sumHess + r.lambdaL2 + epsilon)
}

// SplitGain returns score(left) + score(right) - score(parent).
func (r *RegularizationStrategy) SplitGain(
	leftGrad, leftHess, rightGrad, rightHess, parentGrad, parentHess float64) float64 {
	return r.score(leftGrad, leftHess) + r.score(rightGrad, rightHess) - r.score(parentGrad, parentHess)
}

// score = T(G)^2 / (H + lambda)
func (r *RegularizationStrategy) score(sumGrad, sumHess float64) float64 {
	const epsilon = 1e-10
	g := r.thresholdL1(sumGrad)
	return g * g / (sumHess + r.lambdaL2 + epsilon)
}
