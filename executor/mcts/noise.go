package mcts

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distmv"
)

// NoiseSource draws the exploration noise mixed into root priors. Sample must
// return n non-negative values summing to 1.
type NoiseSource interface {
	Sample(n int) []float64
}

// DirichletNoise samples a symmetric Dirichlet distribution.
type DirichletNoise struct {
	alpha float64
	src   rand.Source
	dists map[int]*distmv.Dirichlet
}

// NewDirichletNoise returns a Dirichlet(alpha, ..., alpha) source. A zero
// seed picks one from the clock.
func NewDirichletNoise(alpha float64, seed uint64) *DirichletNoise {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &DirichletNoise{
		alpha: alpha,
		src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		dists: make(map[int]*distmv.Dirichlet),
	}
}

func (d *DirichletNoise) Sample(n int) []float64 {
	dist, ok := d.dists[n]
	if !ok {
		alpha := make([]float64, n)
		for i := range alpha {
			alpha[i] = d.alpha
		}
		dist = distmv.NewDirichlet(alpha, d.src)
		d.dists[n] = dist
	}
	return dist.Rand(nil)
}
