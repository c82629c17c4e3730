package model_selection

import (
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// ParamDistribution draws one hyperparameter value.
type ParamDistribution interface {
	Sample(r *rand.Rand) interface{}
}

// RandInt samples an int uniformly from [Low, High).
type RandInt struct {
	Low, High int
}

// Sample implements ParamDistribution.
func (d RandInt) Sample(r *rand.Rand) interface{} {
	return d.Low + r.IntN(d.High-d.Low)
}

// Uniform samples a float64 uniformly from [Low, High).
type Uniform struct {
	Low, High float64
}

// Sample implements ParamDistribution.
func (d Uniform) Sample(r *rand.Rand) interface{} {
	return d.Low + r.Float64()*(d.High-d.Low)
}

// Choice picks one of Values with equal probability.
type Choice struct {
	Values []interface{}
}

// Sample implements ParamDistribution.
func (d Choice) Sample(r *rand.Rand) interface{} {
	return d.Values[r.IntN(len(d.Values))]
}

// ParamSpace maps hyperparameter names to their distributions.
type ParamSpace map[string]ParamDistribution

// Validate rejects empty ranges so that Sample cannot panic.
func (s ParamSpace) Validate() error {
	if len(s) == 0 {
		return errors.NewValidationError("param_distributions", "must not be empty", nil)
	}
	for name, dist := range s {
		switch d := dist.(type) {
		case RandInt:
			if d.High <= d.Low {
				return errors.NewValidationError(name, "randint needs low < high", d)
			}
		case Uniform:
			if d.High < d.Low {
				return errors.NewValidationError(name, "uniform needs low <= high", d)
			}
		case Choice:
			if len(d.Values) == 0 {
				return errors.NewValidationError(name, "choice needs at least one value", d)
			}
		case nil:
			return errors.NewValidationError(name, "nil distribution", nil)
		}
	}
	return nil
}

// Names returns the parameter names in sorted order.
func (s ParamSpace) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sample draws one candidate. Names are visited in sorted order so the
// same generator state always yields the same candidate.
func (s ParamSpace) Sample(r *rand.Rand) map[string]interface{} {
	params := make(map[string]interface{}, len(s))
	for _, name := range s.Names() {
		params[name] = s[name].Sample(r)
	}
	return params
}

// ParameterSampler draws nIter candidates from one generator seeded with seed.
func ParameterSampler(space ParamSpace, nIter int, seed int64) []map[string]interface{} {
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	out := make([]map[string]interface{}, nIter)
	for i := range out {
		out[i] = space.Sample(r)
	}
	return out
}
