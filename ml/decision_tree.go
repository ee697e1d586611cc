package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree is a CART classifier stored as a flat node array.
type DecisionTree struct {
	nodes     []TreeNode
	classes   []int
	nFeatures int
	cfg       TreeConfig
	rng       *rand.Rand
}

// TreeNode is a split or, when IsLeaf is set, a prediction.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
	// Value is the class distribution of the training samples reaching the node,
	// indexed like the tree's class list.
	Value []float64 `json:"value"`
}

// TreeConfig bounds tree growth.
type TreeConfig struct {
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures is the number of features examined per split; 0 means all.
	MaxFeatures int
	Seed        int64
}

// NewDecisionTree returns an untrained tree.
func NewDecisionTree(cfg TreeConfig) *DecisionTree {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	return &DecisionTree{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Train fits the tree. Class order is taken from the sorted distinct labels.
func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	return dt.train(features, labels, uniqueLabels(labels))
}

func (dt *DecisionTree) train(features [][]float64, labels []int, classes []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}
	if dt.rng == nil {
		*dt = *NewDecisionTree(dt.cfg)
	}

	dt.classes = classes
	dt.nFeatures = width
	dt.nodes = dt.buildNode(features, labels, 0)
	return nil
}

// Predict returns the majority class of the reached leaf.
func (dt *DecisionTree) Predict(features []float64) (int, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, err
	}
	return leaf.ClassLabel, nil
}

// PredictProba returns the class distribution of the reached leaf.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), leaf.Value...), nil
}

func (dt *DecisionTree) Classes() []int {
	return append([]int(nil), dt.classes...)
}

func (dt *DecisionTree) Info() ModelInfo {
	return ModelInfo{
		Type:      TypeDecisionTree,
		Classes:   dt.Classes(),
		NFeatures: dt.nFeatures,
		Trees:     1,
	}
}

// Save writes the tree as a JSON artifact.
func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return ErrNotTrained
	}
	return writeArtifact(path, &artifact{
		Type:      TypeDecisionTree,
		Version:   artifactVersion,
		Classes:   dt.classes,
		NFeatures: dt.nFeatures,
		Trees:     []treeArtifact{{Nodes: dt.nodes}},
	})
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	if dt.nFeatures > 0 && len(features) != dt.nFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(features), dt.nFeatures)
	}
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := &dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
	return nil, errors.New("tree contains a cycle")
}

// validate checks a deserialised node list before it is used for inference.
func (dt *DecisionTree) validate() error {
	if len(dt.nodes) == 0 {
		return ErrNotTrained
	}
	for i, node := range dt.nodes {
		if node.IsLeaf {
			if len(node.Value) != len(dt.classes) {
				return fmt.Errorf("node %d: %d class values, want %d", i, len(node.Value), len(dt.classes))
			}
			continue
		}
		if node.LeftChild <= i || node.LeftChild >= len(dt.nodes) ||
			node.RightChild <= i || node.RightChild >= len(dt.nodes) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
		if node.FeatureIdx < 0 || (dt.nFeatures > 0 && node.FeatureIdx >= dt.nFeatures) {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
	}
	return nil
}

func (dt *DecisionTree) buildNode(features [][]float64, labels []int, depth int) []TreeNode {
	value := classDistribution(labels, dt.classes)
	leaf := TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		ClassLabel: dt.classes[argmax(value)],
		IsLeaf:     true,
		Value:      value,
	}
	if depth >= dt.cfg.MaxDepth || len(labels) < dt.cfg.MinSamplesSplit || isPure(labels) {
		return []TreeNode{leaf}
	}

	bestFeature, threshold, ok := dt.findBestSplit(features, labels)
	if !ok {
		return []TreeNode{leaf}
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return []TreeNode{leaf}
	}

	leftNodes := dt.buildNode(leftFeatures, leftLabels, depth+1)
	rightNodes := dt.buildNode(rightFeatures, rightLabels, depth+1)

	root := leaf
	root.FeatureIdx = bestFeature
	root.Threshold = threshold
	root.LeftChild = 1
	root.RightChild = 1 + len(leftNodes)
	root.IsLeaf = false

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetChildren(leftNodes, 1)...)
	nodes = append(nodes, offsetChildren(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetChildren rebases child indices of a subtree placed at offset.
func offsetChildren(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

func (dt *DecisionTree) candidateFeatures(count int) []int {
	if dt.cfg.MaxFeatures <= 0 || dt.cfg.MaxFeatures >= count {
		all := make([]int, count)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return dt.rng.Perm(count)[:dt.cfg.MaxFeatures]
}

func (dt *DecisionTree) findBestSplit(features [][]float64, labels []int) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	for _, featureIdx := range dt.candidateFeatures(len(features[0])) {
		for _, threshold := range midpoints(features, featureIdx) {
			leftLabels, rightLabels := splitLabels(features, labels, featureIdx, threshold)
			if len(leftLabels) == 0 || len(rightLabels) == 0 {
				continue
			}
			impurity := weightedGini(leftLabels, rightLabels)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// midpoints returns the thresholds halfway between consecutive distinct values.
func midpoints(features [][]float64, featureIdx int) []float64 {
	values := make([]float64, len(features))
	for i := range features {
		values[i] = features[i][featureIdx]
	}
	sort.Float64s(values)

	out := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			out = append(out, (values[i]+values[i-1])/2)
		}
	}
	return out
}

func splitData(features [][]float64, labels []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func splitLabels(features [][]float64, labels []int, featureIdx int, threshold float64) ([]int, []int) {
	leftLabels := make([]int, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftLabels, rightLabels
}

func weightedGini(leftLabels, rightLabels []int) float64 {
	leftWeight := float64(len(leftLabels))
	rightWeight := float64(len(rightLabels))
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(leftLabels) + (rightWeight/total)*gini(rightLabels)
}

func gini(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, label := range labels {
		counts[label]++
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(len(labels))
		impurity -= prob * prob
	}
	return impurity
}

func classDistribution(labels []int, classes []int) []float64 {
	value := make([]float64, len(classes))
	if len(labels) == 0 {
		return value
	}
	for _, label := range labels {
		for i, class := range classes {
			if class == label {
				value[i]++
				break
			}
		}
	}
	for i := range value {
		value[i] /= float64(len(labels))
	}
	return value
}

// argmax returns the first index holding the largest value.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func uniqueLabels(labels []int) []int {
	seen := make(map[int]bool)
	out := make([]int, 0, 2)
	for _, label := range labels {
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	sort.Ints(out)
	return out
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}
