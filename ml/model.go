package ml

import (
	"errors"
	"time"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrNotTrained    = errors.New("model not trained")
	ErrFeatureCount  = errors.New("feature count mismatch")
)

// Classifier is the inference contract of a trained artifact. Implementations are
// read-only after loading and safe for concurrent use.
type Classifier interface {
	Predict(features []float64) (int, error)
	// PredictProba returns one probability per entry of Classes, in that order.
	PredictProba(features []float64) ([]float64, error)
	Classes() []int
	Info() ModelInfo
}

// ModelInfo describes a loaded artifact.
type ModelInfo struct {
	Type         string    `json:"type"`
	Classes      []int     `json:"classes"`
	FeatureNames []string  `json:"feature_names,omitempty"`
	NFeatures    int       `json:"n_features"`
	Trees        int       `json:"trees"`
	Metrics      *Metrics  `json:"metrics,omitempty"`
	TrainedAt    time.Time `json:"trained_at,omitempty"`
}

// ClassProbability returns the probability the model assigns to class, or an error when
// the model does not know the class.
func ClassProbability(c Classifier, proba []float64, class int) (float64, error) {
	for i, known := range c.Classes() {
		if known == class {
			if i >= len(proba) {
				return 0, errors.New("probability vector shorter than class list")
			}
			return proba[i], nil
		}
	}
	return 0, errors.New("unknown class")
}
