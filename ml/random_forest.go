package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// RandomForest averages the class distributions of bootstrap-trained trees.
type RandomForest struct {
	trees        []*DecisionTree
	classes      []int
	featureNames []string
	nFeatures    int
	metrics      *Metrics
	trainedAt    time.Time
	cfg          ForestConfig
}

// ForestConfig holds the forest hyperparameters.
type ForestConfig struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures per split; 0 selects sqrt(n).
	MaxFeatures int
	Seed        int64
	// Workers bounds concurrent tree training; 0 uses GOMAXPROCS.
	Workers int
}

// DefaultForestConfig returns 100 trees of depth 10, seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

// NewRandomForest returns an untrained forest.
func NewRandomForest(cfg ForestConfig) *RandomForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	return &RandomForest{cfg: cfg}
}

// Train fits every tree on its own bootstrap sample. Results are reproducible for a
// given Seed regardless of Workers.
func (rf *RandomForest) Train(ctx context.Context, features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}

	classes := uniqueLabels(labels)
	width := len(features[0])
	maxFeatures := rf.cfg.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(width)))))
	}
	workers := rf.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*DecisionTree, rf.cfg.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seed := rf.cfg.Seed + int64(i)*7919
			sampleX, sampleY := bootstrap(features, labels, rand.New(rand.NewSource(seed)))
			tree := NewDecisionTree(TreeConfig{
				MaxDepth:        rf.cfg.MaxDepth,
				MinSamplesSplit: rf.cfg.MinSamplesSplit,
				MaxFeatures:     maxFeatures,
				Seed:            seed + 1,
			})
			if err := tree.train(sampleX, sampleY, classes); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.trees = trees
	rf.classes = classes
	rf.nFeatures = width
	rf.trainedAt = time.Now().UTC()
	return nil
}

// Predict returns the class with the highest averaged probability.
func (rf *RandomForest) Predict(features []float64) (int, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return rf.classes[argmax(proba)], nil
}

// PredictProba averages the tree probabilities.
func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	if rf.nFeatures > 0 && len(features) != rf.nFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(features), rf.nFeatures)
	}

	sum := make([]float64, len(rf.classes))
	for i, tree := range rf.trees {
		leaf, err := tree.leaf(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		for j, v := range leaf.Value {
			sum[j] += v
		}
	}
	for j := range sum {
		sum[j] /= float64(len(rf.trees))
	}
	return sum, nil
}

func (rf *RandomForest) Classes() []int {
	return append([]int(nil), rf.classes...)
}

func (rf *RandomForest) Info() ModelInfo {
	return ModelInfo{
		Type:         TypeRandomForest,
		Classes:      rf.Classes(),
		FeatureNames: append([]string(nil), rf.featureNames...),
		NFeatures:    rf.nFeatures,
		Trees:        len(rf.trees),
		Metrics:      rf.metrics,
		TrainedAt:    rf.trainedAt,
	}
}

// SetFeatureNames records the column order used for training.
func (rf *RandomForest) SetFeatureNames(names []string) {
	rf.featureNames = append([]string(nil), names...)
}

func (rf *RandomForest) SetMetrics(m Metrics) {
	rf.metrics = &m
}

// Save writes the forest as a JSON artifact.
func (rf *RandomForest) Save(path string) error {
	if len(rf.trees) == 0 {
		return ErrNotTrained
	}
	trees := make([]treeArtifact, len(rf.trees))
	for i, tree := range rf.trees {
		trees[i] = treeArtifact{Nodes: tree.nodes}
	}
	return writeArtifact(path, &artifact{
		Type:         TypeRandomForest,
		Version:      artifactVersion,
		Classes:      rf.classes,
		FeatureNames: rf.featureNames,
		NFeatures:    rf.nFeatures,
		Trees:        trees,
		Metrics:      rf.metrics,
		TrainedAt:    rf.trainedAt,
	})
}

func bootstrap(features [][]float64, labels []int, rng *rand.Rand) ([][]float64, []int) {
	n := len(features)
	sampleX := make([][]float64, n)
	sampleY := make([]int, n)
	for i := 0; i < n; i++ {
		idx := rng.Intn(n)
		sampleX[i] = features[idx]
		sampleY[i] = labels[idx]
	}
	return sampleX, sampleY
}
