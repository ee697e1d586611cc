package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	TypeDecisionTree = "decision_tree"
	TypeRandomForest = "random_forest"

	artifactVersion = 1
)

type artifact struct {
	Type         string         `json:"type"`
	Version      int            `json:"version"`
	Classes      []int          `json:"classes"`
	FeatureNames []string       `json:"feature_names,omitempty"`
	NFeatures    int            `json:"n_features"`
	Trees        []treeArtifact `json:"trees"`
	Metrics      *Metrics       `json:"metrics,omitempty"`
	TrainedAt    time.Time      `json:"trained_at,omitempty"`
}

type treeArtifact struct {
	Nodes []TreeNode `json:"nodes"`
}

// LoadModel reads a serialised classifier. A missing file yields an error wrapping
// ErrModelNotFound.
func LoadModel(path string) (Classifier, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, err
	}

	var a artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if a.Version > artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if len(a.Classes) == 0 {
		return nil, errors.New("artifact declares no classes")
	}
	if len(a.Trees) == 0 {
		return nil, ErrNotTrained
	}

	trees := make([]*DecisionTree, len(a.Trees))
	for i, t := range a.Trees {
		tree := &DecisionTree{nodes: t.Nodes, classes: a.Classes, nFeatures: a.NFeatures}
		if err := tree.validate(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = tree
	}

	switch a.Type {
	case TypeDecisionTree:
		if len(trees) != 1 {
			return nil, fmt.Errorf("decision tree artifact holds %d trees", len(trees))
		}
		return trees[0], nil
	case TypeRandomForest:
		return &RandomForest{
			trees:        trees,
			classes:      a.Classes,
			featureNames: a.FeatureNames,
			nFeatures:    a.NFeatures,
			metrics:      a.Metrics,
			trainedAt:    a.TrainedAt,
		}, nil
	default:
		return nil, errors.New("unsupported model type")
	}
}

func writeArtifact(path string, a *artifact) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// Readers only ever observe a complete file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
