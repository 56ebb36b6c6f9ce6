package inference

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/brensch/cubezero/cube"
)

// Predictor is the oracle contract shared with the search: a policy over the
// actions and a scalar value for one feature vector.
type Predictor interface {
	Predict(features []float32) ([]float32, float32, error)
}

// DefaultUniformValue is the constant value estimate used without a model.
const DefaultUniformValue = 0.01

// Uniform is a model-free oracle: every action equally likely and a constant
// value.
type Uniform struct {
	Actions int
	Value   float32
}

func NewUniform() Uniform {
	return Uniform{Actions: cube.NumActions, Value: DefaultUniformValue}
}

func (u Uniform) Predict([]float32) ([]float32, float32, error) {
	policy := make([]float32, u.Actions)
	for i := range policy {
		policy[i] = 1 / float32(u.Actions)
	}
	return policy, u.Value, nil
}

// Symmetric evaluates a randomly rotated copy of the cube and maps the policy
// back, so the inner predictor sees every orientation.
type Symmetric struct {
	inner     Predictor
	rotations []cube.Rotation

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSymmetric(inner Predictor, seed uint64) *Symmetric {
	return &Symmetric{
		inner:     inner,
		rotations: cube.Rotations(),
		rng:       rand.New(rand.NewPCG(seed, seed+1)),
	}
}

func (s *Symmetric) Predict(features []float32) ([]float32, float32, error) {
	s.mu.Lock()
	r := s.rotations[s.rng.IntN(len(s.rotations))]
	s.mu.Unlock()
	return s.predictWith(r, features)
}

func (s *Symmetric) predictWith(r cube.Rotation, features []float32) ([]float32, float32, error) {
	if len(features) != cube.FeatureSize {
		return nil, 0, fmt.Errorf("symmetric: got %d features, want %d", len(features), cube.FeatureSize)
	}
	rotated := make([]float32, cube.FeatureSize)
	r.TransformFeatures(rotated, features)

	policy, value, err := s.inner.Predict(rotated)
	if err != nil {
		return nil, 0, err
	}
	if len(policy) != cube.NumActions {
		return nil, 0, fmt.Errorf("symmetric: got %d policy entries, want %d", len(policy), cube.NumActions)
	}

	perm := r.ActionPermutation()
	out := make([]float32, cube.NumActions)
	for a := range out {
		out[a] = policy[perm[a]]
	}
	return out, value, nil
}
