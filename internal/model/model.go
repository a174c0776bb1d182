// Package model holds the logistic scoring model: its wire codec, the redis
// store with hot-swap notifications, and the trainer that fits new versions.
package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/feature"
)

// Envelope is the stored model record.
type Envelope struct {
	ModelID   string `json:"model_id"`
	Buffer    string `json:"buffer"` // base64 JSON Logistic
	CreatedAt int64  `json:"created_at"`
}

// Logistic is the scoring payload. Scale divides each input component
// before the dot product; a zero entry means unscaled.
type Logistic struct {
	Weights [feature.VectorLen]float64 `json:"weights"`
	Bias    float64                    `json:"bias"`
	Scale   [feature.VectorLen]float64 `json:"feature_scale,omitempty"`
}

// Encode wraps the payload into a stored envelope.
func Encode(id string, m Logistic, createdAt time.Time) ([]byte, error) {
	inner, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("model: marshal payload: %w", err)
	}
	return json.Marshal(Envelope{
		ModelID:   id,
		Buffer:    base64.StdEncoding.EncodeToString(inner),
		CreatedAt: createdAt.UnixMilli(),
	})
}

// Decode parses a stored envelope and validates the payload.
func Decode(raw []byte) (string, Logistic, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", Logistic{}, fmt.Errorf("model: unmarshal envelope: %w", err)
	}
	if env.ModelID == "" {
		return "", Logistic{}, fmt.Errorf("model: envelope missing model_id")
	}
	inner, err := base64.StdEncoding.DecodeString(env.Buffer)
	if err != nil {
		return "", Logistic{}, fmt.Errorf("model: decode buffer: %w", err)
	}
	var m Logistic
	if err := json.Unmarshal(inner, &m); err != nil {
		return "", Logistic{}, fmt.Errorf("model: unmarshal payload: %w", err)
	}
	for _, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return "", Logistic{}, fmt.Errorf("model: non-finite weight")
		}
	}
	return env.ModelID, m, nil
}

// Prob returns the predicted probability of a successful settlement.
func (m Logistic) Prob(x feature.Vector) float64 {
	z := m.Bias
	for i, w := range m.Weights {
		v := float64(x[i])
		if s := m.Scale[i]; s != 0 {
			v /= s
		}
		z += w * v
	}
	return sigmoid(z)
}

// MaxScore is the top of the risk scale.
const MaxScore = 999

// Score maps the success probability onto the 0..999 risk scale, higher
// meaning riskier.
func (m Logistic) Score(x feature.Vector) int {
	return int(math.Round((1 - m.Prob(x)) * MaxScore))
}

func sigmoid(z float64) float64 {
	// clamp so exp cannot overflow
	if z > 40 {
		return 1
	}
	if z < -40 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
