package ml

import (
	"errors"
	"math/rand"
)

// Metrics scores a classifier against labelled rows.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Samples   int     `json:"samples"`
	// Positive is the class counted as a positive detection.
	Positive int `json:"positive"`
}

// Evaluate scores model on a labelled set. Rows the model fails on count as misses.
func Evaluate(model Classifier, testX [][]float64, testY []int, positive int) (Metrics, error) {
	if len(testX) != len(testY) {
		return Metrics{}, errors.New("features and labels size mismatch")
	}
	m := Metrics{Samples: len(testX), Positive: positive}
	if len(testX) == 0 {
		return m, nil
	}

	var correct, truePositive, predictedPositive, actualPositive int
	for i, feature := range testX {
		label, err := model.Predict(feature)
		if err != nil {
			label = -1
		}
		if label == testY[i] {
			correct++
		}
		if label == positive {
			predictedPositive++
		}
		if testY[i] == positive {
			actualPositive++
			if label == positive {
				truePositive++
			}
		}
	}

	m.Accuracy = float64(correct) / float64(len(testX))
	if predictedPositive > 0 {
		m.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		m.Recall = float64(truePositive) / float64(actualPositive)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// SplitDataset shuffles with seed and holds out testRatio of the rows.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(float64(len(features))*(1-testRatio) + 0.5)
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}
