package lightgbm

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/core/parallel"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// ModelFile is the artifact name of a native model.
const ModelFile = "model.json"

// modelVersion is bumped when the JSON layout changes.
const modelVersion = "1"

// NodeType represents the type of a tree node
type NodeType int

const (
	// LeafNode represents a terminal node with a value
	LeafNode NodeType = iota
	// NumericalNode represents a node with numerical split
	NumericalNode
	// CategoricalNode represents a node with categorical split
	CategoricalNode
)

// Node represents a single node in a decision tree.
type Node struct {
	NodeID     int      `json:"node_id"`
	ParentID   int      `json:"parent_id"`
	LeftChild  int      `json:"left_child"`
	RightChild int      `json:"right_child"`
	NodeType   NodeType `json:"node_type"`

	SplitFeature int     `json:"split_feature,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	Categories   []int   `json:"categories,omitempty"` // sorted, go left
	DefaultLeft  bool    `json:"default_left,omitempty"`
	Gain         float64 `json:"gain,omitempty"`

	LeafValue float64 `json:"leaf_value,omitempty"`
	LeafCount int     `json:"leaf_count"`
}

// IsLeaf returns true if the node is a leaf node
func (n *Node) IsLeaf() bool {
	return n.LeftChild == -1 && n.RightChild == -1
}

// Tree represents a single decision tree in the ensemble.
type Tree struct {
	TreeIndex     int     `json:"tree_index"`
	NumLeaves     int     `json:"num_leaves"`
	ShrinkageRate float64 `json:"shrinkage"`
	Nodes         []Node  `json:"nodes"`
}

// Predict returns the shrunk leaf value for one row of raw features.
// Missing numeric values follow DefaultLeft; missing or unseen categories go right.
func (t *Tree) Predict(features []float64) float64 {
	nodeID := 0
	for nodeID >= 0 && nodeID < len(t.Nodes) {
		node := &t.Nodes[nodeID]
		if node.IsLeaf() {
			return node.LeafValue * t.ShrinkageRate
		}

		v := features[node.SplitFeature]
		if math.IsNaN(v) {
			if node.DefaultLeft {
				nodeID = node.LeftChild
			} else {
				nodeID = node.RightChild
			}
			continue
		}

		switch node.NodeType {
		case NumericalNode:
			if v <= node.Threshold {
				nodeID = node.LeftChild
			} else {
				nodeID = node.RightChild
			}
		case CategoricalNode:
			if v == math.Trunc(v) && containsCategory(node.Categories, int(v)) {
				nodeID = node.LeftChild
			} else {
				nodeID = node.RightChild
			}
		default:
			return 0
		}
	}
	return 0
}

// Model is a trained gradient boosting ensemble for binary classification.
type Model struct {
	Version             string       `json:"version"`
	Objective           string       `json:"objective"`
	FeatureNames        []string     `json:"feature_names"`
	CategoricalFeatures []int        `json:"categorical_features"`
	InitScore           float64      `json:"init_score"`
	LearningRate        float64      `json:"learning_rate"`
	NumLeaves           int          `json:"num_leaves"`
	BestIter            int          `json:"best_iteration"`
	Trees               []Tree       `json:"trees"`
	Params              model.Params `json:"params"`

	objective ObjectiveFunction
}

var _ model.Model = (*Model)(nil)

// NumTrees returns the number of trees kept in the ensemble.
func (m *Model) NumTrees() int {
	return len(m.Trees)
}

// PredictRaw returns raw log-odds for each row of X.
func (m *Model) PredictRaw(X mat.Matrix) ([]float64, error) {
	if X == nil {
		return nil, errors.NewValueError("lightgbm.Predict", "nil matrix")
	}
	if d, ok := X.(*mat.Dense); ok && d.IsEmpty() {
		return []float64{}, nil
	}
	rows, cols := X.Dims()
	if cols != len(m.FeatureNames) {
		return nil, errors.NewDimensionError("lightgbm.Predict", len(m.FeatureNames), cols, 1)
	}

	out := make([]float64, rows)
	err := parallel.ParallelizeWithThreshold(context.Background(), rows, 1000, 0, func(_ context.Context, start, end int) error {
		row := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			out[i] = m.predictRow(row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Model) predictRow(row []float64) float64 {
	s := m.InitScore
	for t := range m.Trees {
		s += m.Trees[t].Predict(row)
	}
	return s
}

// Predict returns the positive-class probability for each row of X.
func (m *Model) Predict(X mat.Matrix) ([]float64, error) {
	raw, err := m.PredictRaw(X)
	if err != nil {
		return nil, err
	}
	for i, r := range raw {
		raw[i] = m.objective.Transform(r)
	}
	return raw, nil
}

// FeatureName returns the training feature order.
func (m *Model) FeatureName() []string {
	return append([]string(nil), m.FeatureNames...)
}

// BestIteration is the 1-based round selected on the validation set, 0 when
// no validation set or early stopping was configured.
func (m *Model) BestIteration() int {
	return m.BestIter
}

// FeatureImportance sums split gains or counts splits per feature over the kept trees.
func (m *Model) FeatureImportance(kind model.ImportanceType) ([]float64, error) {
	if kind != model.ImportanceGain && kind != model.ImportanceSplit {
		return nil, errors.NewValidationError("importance_type", "must be gain or split", kind)
	}
	imp := make([]float64, len(m.FeatureNames))
	for t := range m.Trees {
		for _, node := range m.Trees[t].Nodes {
			if node.IsLeaf() {
				continue
			}
			if kind == model.ImportanceGain {
				imp[node.SplitFeature] += node.Gain
			} else {
				imp[node.SplitFeature]++
			}
		}
	}
	return imp, nil
}

// Save writes the model as JSON.
func (m *Model) Save(path string) error {
	if err := model.SaveJSON(m, path); err != nil {
		return errors.NewModelError("lightgbm.Save", "persistence", err)
	}
	return nil
}

// validate checks structural consistency of a decoded model.
func (m *Model) validate() error {
	if m.Version != modelVersion {
		return errors.NewValidationError("version", "unsupported model version", m.Version)
	}
	if len(m.FeatureNames) == 0 {
		return errors.NewValueError("lightgbm.LoadModel", "model has no features")
	}
	for t := range m.Trees {
		nodes := m.Trees[t].Nodes
		if len(nodes) == 0 {
			return errors.Newf("tree %d has no nodes", t)
		}
		for _, n := range nodes {
			if n.IsLeaf() {
				continue
			}
			if n.SplitFeature < 0 || n.SplitFeature >= len(m.FeatureNames) {
				return errors.Newf("tree %d node %d splits on feature %d", t, n.NodeID, n.SplitFeature)
			}
			if n.LeftChild <= n.NodeID || n.RightChild <= n.NodeID ||
				n.LeftChild >= len(nodes) || n.RightChild >= len(nodes) {
				return errors.Newf("tree %d node %d has invalid children", t, n.NodeID)
			}
		}
	}
	return nil
}

// LoadModel reads a model written by Save.
func LoadModel(path string) (*Model, error) {
	var m Model
	if err := model.LoadJSON(&m, path); err != nil {
		return nil, errors.NewModelError("lightgbm.LoadModel", "persistence", err)
	}
	if err := m.validate(); err != nil {
		return nil, errors.NewModelError("lightgbm.LoadModel", "validation", err)
	}
	obj, err := CreateObjectiveFunction(m.Objective)
	if err != nil {
		return nil, err
	}
	m.objective = obj
	return &m, nil
}
