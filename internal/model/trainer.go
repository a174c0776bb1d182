package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/chenzhangda16/riskpipe/internal/dataset"
	"github.com/chenzhangda16/riskpipe/internal/feature"
)

type FitConfig struct {
	MinExamples int     // default 100
	Epochs      int     // default 200
	LearnRate   float64 // default 0.1
	Seed        int64   // shuffle seed, default 1
}

func (c *FitConfig) defaults() {
	if c.MinExamples <= 0 {
		c.MinExamples = 100
	}
	if c.Epochs <= 0 {
		c.Epochs = 200
	}
	if c.LearnRate <= 0 {
		c.LearnRate = 0.1
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
}

// Fit trains a logistic model with SGD on max-abs scaled features. It
// refuses degenerate datasets: too few examples or a single label class.
func Fit(examples []dataset.Example, cfg FitConfig) (Logistic, error) {
	cfg.defaults()
	if len(examples) < cfg.MinExamples {
		return Logistic{}, fmt.Errorf("model: %d examples, need at least %d", len(examples), cfg.MinExamples)
	}
	pos := 0
	for _, ex := range examples {
		if ex.Y == 1 {
			pos++
		}
	}
	if pos == 0 || pos == len(examples) {
		return Logistic{}, fmt.Errorf("model: single-class dataset (%d/%d positive)", pos, len(examples))
	}

	var m Logistic
	for i := 0; i < feature.VectorLen; i++ {
		maxAbs := 0.0
		for _, ex := range examples {
			if a := math.Abs(float64(ex.X[i])); a > maxAbs {
				maxAbs = a
			}
		}
		if maxAbs == 0 {
			maxAbs = 1
		}
		m.Scale[i] = maxAbs
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}

	var scaled [feature.VectorLen]float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			ex := examples[idx]
			z := m.Bias
			for i := 0; i < feature.VectorLen; i++ {
				scaled[i] = float64(ex.X[i]) / m.Scale[i]
				z += m.Weights[i] * scaled[i]
			}
			g := sigmoid(z) - float64(ex.Y)
			for i := 0; i < feature.VectorLen; i++ {
				m.Weights[i] -= cfg.LearnRate * g * scaled[i]
			}
			m.Bias -= cfg.LearnRate * g
		}
	}

	for _, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return Logistic{}, fmt.Errorf("model: training diverged")
		}
	}
	return m, nil
}
