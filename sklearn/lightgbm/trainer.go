package lightgbm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/core/parallel"
	"github.com/YuminosukeSato/otpboost/metrics"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/sklearn/model_selection"
)

// Evaluation set names used in the metric history.
const (
	TrainSetName = "train"
	ValidSetName = "valid"
)

// Trainer fits histogram-based gradient boosted trees with leaf-wise growth.
// A Trainer holds no per-fit state and may be reused.
type Trainer struct {
	logger    log.Logger
	callbacks []Callback
}

var _ model.Trainer = (*Trainer)(nil)

// NewTrainer creates a trainer that logs through logger.
func NewTrainer(logger log.Logger) *Trainer {
	if logger == nil {
		logger = log.GetLoggerWithName("lightgbm")
	}
	return &Trainer{logger: logger}
}

// WithCallbacks adds callbacks run after each round, before early stopping.
func (t *Trainer) WithCallbacks(callbacks ...Callback) *Trainer {
	t.callbacks = append(t.callbacks, callbacks...)
	return t
}

// Train implements model.Trainer.
func (t *Trainer) Train(ctx context.Context, train, valid *model.Dataset, params model.Params) (model.Model, model.History, error) {
	m, h, err := t.Fit(ctx, train, valid, params)
	if err != nil {
		return nil, nil, err
	}
	return m, h, nil
}

// Fit trains a model on train, evaluating on valid after every round when
// valid is non-nil. Early stopping watches the first configured metric on valid.
func (t *Trainer) Fit(ctx context.Context, train, valid *model.Dataset, params model.Params) (m *Model, history model.History, err error) {
	defer errors.Recover(&err, "lightgbm.Fit")

	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	if err := checkDataset("lightgbm.Fit", train, -1); err != nil {
		return nil, nil, err
	}
	_, nFeatures := train.X.Dims()
	if valid != nil {
		if err := checkDataset("lightgbm.Fit(valid)", valid, nFeatures); err != nil {
			return nil, nil, err
		}
	}

	b, err := newBooster(ctx, train, valid, params)
	if err != nil {
		return nil, nil, err
	}

	logger := t.logger.With(
		log.OperationKey, log.OperationFit,
		log.SamplesKey, train.Rows(),
		log.FeaturesKey, nFeatures,
	)
	logger.Info("Training started",
		log.LearningRateKey, params.LearningRate,
		log.NumLeavesKey, params.NumLeaves,
		log.RandomSeedKey, params.Seed,
	)
	start := time.Now()

	history = make(model.History)
	callbacks := []Callback{RecordEvaluation(history), LogEvaluation(logger, params.LogPeriod)}
	callbacks = append(callbacks, t.callbacks...)
	var es *EarlyStopping
	if valid != nil && params.EarlyStoppingRounds > 0 {
		es = NewEarlyStopping(params.EarlyStoppingRounds, ValidSetName, params.FirstMetric())
		callbacks = append(callbacks, es.Callback())
	}

	trees := make([]Tree, 0, params.NumBoostRound)
	for iter := 0; iter < params.NumBoostRound; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.Wrapf(err, "boosting round %d", iter+1)
		}
		begin := time.Now()

		b.computeGradients()
		b.sampleBag(iter)
		features := b.sampleFeatures()

		tree, err := b.growTree(ctx, iter, features)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "boosting round %d", iter+1)
		}
		trees = append(trees, tree)
		if err := b.updateScores(ctx, &tree); err != nil {
			return nil, nil, err
		}

		env := &CallbackEnv{
			Iteration:   iter,
			BeginTime:   begin,
			EndTime:     time.Now(),
			EvalResults: b.evaluate(),
		}
		for _, cb := range callbacks {
			if err := cb(env); err != nil {
				return nil, nil, errors.Wrapf(err, "callback at round %d", iter+1)
			}
		}
		if env.StopTraining {
			break
		}
	}

	m = &Model{
		Version:             modelVersion,
		Objective:           b.obj.Name(),
		FeatureNames:        featureNames(train, nFeatures),
		CategoricalFeatures: append([]int(nil), train.Categorical...),
		InitScore:           b.initScore,
		LearningRate:        params.LearningRate,
		NumLeaves:           params.NumLeaves,
		Params:              params,
		objective:           b.obj,
	}
	// the best observed round wins even when the patience window never ran out
	if es != nil && es.BestIteration > 0 {
		trees = trees[:es.BestIteration]
		m.BestIter = es.BestIteration
		msg := "Best iteration kept"
		if es.Stopped {
			msg = "Early stopping"
		}
		logger.Info(msg,
			log.BestIterationKey, es.BestIteration,
			es.Metric, es.BestScore,
		)
	}
	m.Trees = trees

	logger.Info("Training completed",
		"trees", len(trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return m, history, nil
}

func checkDataset(op string, d *model.Dataset, nFeatures int) error {
	if d.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	_, cols := d.X.Dims()
	if nFeatures >= 0 && cols != nFeatures {
		return errors.NewDimensionError(op, nFeatures, cols, 1)
	}
	if len(d.Y) != d.Rows() {
		return errors.NewDimensionError(op, d.Rows(), len(d.Y), 0)
	}
	for _, y := range d.Y {
		if y != 0 && y != 1 {
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	for _, c := range d.Categorical {
		if c < 0 || c >= cols {
			return errors.NewValueError(op, "categorical index out of range")
		}
	}
	return nil
}

func featureNames(d *model.Dataset, n int) []string {
	if len(d.FeatureNames) == n {
		return append([]string(nil), d.FeatureNames...)
	}
	names := make([]string, n)
	for j := range names {
		names[j] = fmt.Sprintf("Column_%d", j)
	}
	return names
}

// booster is the mutable state of one Fit call.
type booster struct {
	params    model.Params
	cons      splitConstraints
	obj       ObjectiveFunction
	data      *binnedData
	train     *model.Dataset
	valid     *model.Dataset
	initScore float64

	grad, hess  []float64
	trainScore  []float64
	validScore  []float64
	bag         []int
	allRows     []int
	allFeatures []int

	rng     *rand.Rand
	workers int
}

func newBooster(ctx context.Context, train, valid *model.Dataset, p model.Params) (*booster, error) {
	obj, err := CreateObjectiveFunction(p.Objective)
	if err != nil {
		return nil, err
	}
	n, nf := train.X.Dims()
	categorical := make([]bool, nf)
	for _, c := range train.Categorical {
		categorical[c] = true
	}
	workers := parallel.Workers(p.NumThreads)
	data, err := newBinnedData(ctx, &binInput{X: train.X, categorical: categorical}, p.MaxBin, workers)
	if err != nil {
		return nil, err
	}

	b := &booster{
		params: p,
		cons: splitConstraints{
			lambdaL2:      p.LambdaL2,
			minDataInLeaf: p.MinDataInLeaf,
			minSumHessian: p.MinSumHessianInLeaf,
			minGain:       p.MinGainToSplit,
			catSmooth:     p.CatSmooth,
			maxCatThresh:  p.MaxCatThreshold,
		},
		obj:        obj,
		data:       data,
		train:      train,
		valid:      valid,
		initScore:  obj.GetInitScore(train.Y),
		grad:       make([]float64, n),
		hess:       make([]float64, n),
		trainScore: make([]float64, n),
		rng:        model_selection.NewRand(p.Seed),
		workers:    workers,
	}
	b.allRows = make([]int, n)
	for i := range b.allRows {
		b.allRows[i] = i
	}
	b.bag = b.allRows
	b.allFeatures = make([]int, nf)
	for j := range b.allFeatures {
		b.allFeatures[j] = j
	}
	for i := range b.trainScore {
		b.trainScore[i] = b.initScore
	}
	if valid != nil {
		b.validScore = make([]float64, valid.Rows())
		for i := range b.validScore {
			b.validScore[i] = b.initScore
		}
	}
	return b, nil
}

func (b *booster) computeGradients() {
	for i, y := range b.train.Y {
		b.grad[i] = b.obj.CalculateGradient(b.trainScore[i], y)
		b.hess[i] = b.obj.CalculateHessian(b.trainScore[i], y)
	}
}

// sampleBag redraws the bagged rows every bagging_freq rounds.
func (b *booster) sampleBag(iter int) {
	if b.params.BaggingFraction >= 1 || b.params.BaggingFreq <= 0 {
		return
	}
	if iter%b.params.BaggingFreq != 0 {
		return
	}
	n := len(b.allRows)
	k := int(b.params.BaggingFraction * float64(n))
	if k < 1 {
		k = 1
	}
	bag := b.rng.Perm(n)[:k]
	slices.Sort(bag)
	b.bag = bag
}

// sampleFeatures draws the feature subset of one tree.
func (b *booster) sampleFeatures() []int {
	nf := len(b.allFeatures)
	if b.params.FeatureFraction >= 1 {
		return b.allFeatures
	}
	k := int(b.params.FeatureFraction * float64(nf))
	if k < 1 {
		k = 1
	}
	features := b.rng.Perm(nf)[:k]
	slices.Sort(features)
	return features
}

// leafState is a leaf under construction.
type leafState struct {
	node    int
	rows    []int
	hist    []Histogram
	sumGrad float64
	sumHess float64
	depth   int
	best    SplitInfo
}

// growTree grows one tree leaf-wise: the leaf with the largest gain is split
// until num_leaves is reached or no leaf has a valid split.
func (b *booster) growTree(ctx context.Context, iter int, features []int) (Tree, error) {
	var g, h float64
	for _, i := range b.bag {
		g += b.grad[i]
		h += b.hess[i]
	}
	hist, err := b.data.buildHistograms(ctx, b.bag, features, b.grad, b.hess, b.workers)
	if err != nil {
		return Tree{}, err
	}
	root := &leafState{node: 0, rows: b.bag, hist: hist, sumGrad: g, sumHess: h}
	root.best = b.findBestSplit(root, features)

	tree := Tree{
		TreeIndex:     iter,
		ShrinkageRate: b.params.LearningRate,
		Nodes:         []Node{{NodeID: 0, ParentID: -1, LeftChild: -1, RightChild: -1, NodeType: LeafNode}},
	}

	leaves := []*leafState{root}
	for len(leaves) < b.params.NumLeaves {
		bi := -1
		for k, l := range leaves {
			if l.best.Valid() && (bi < 0 || l.best.Gain > leaves[bi].best.Gain) {
				bi = k
			}
		}
		if bi < 0 {
			break
		}
		left, right, err := b.applySplit(ctx, &tree, leaves[bi], features)
		if err != nil {
			return Tree{}, err
		}
		leaves[bi] = left
		leaves = append(leaves, right)
	}

	values := make([]float64, len(leaves))
	for k, l := range leaves {
		node := &tree.Nodes[l.node]
		node.LeafValue = b.cons.leafOutput(l.sumGrad, l.sumHess)
		node.LeafCount = len(l.rows)
		values[k] = node.LeafValue
	}
	if err := errors.CheckNumericalStability("lightgbm.growTree", values, iter); err != nil {
		return Tree{}, err
	}
	tree.NumLeaves = len(leaves)
	return tree, nil
}

func (b *booster) findBestSplit(leaf *leafState, features []int) SplitInfo {
	best := noSplit()
	if b.params.MaxDepth > 0 && leaf.depth >= b.params.MaxDepth {
		return best
	}
	n := len(leaf.rows)
	if n < 2*b.params.MinDataInLeaf {
		return best
	}
	for _, j := range features {
		mapper := b.data.mappers[j]
		var s SplitInfo
		if mapper.Categorical {
			s = b.cons.findCategoricalSplit(j, leaf.hist[j], mapper, leaf.sumGrad, leaf.sumHess, n)
		} else {
			s = b.cons.findNumericalSplit(j, leaf.hist[j], mapper, leaf.sumGrad, leaf.sumHess, n)
		}
		if better(s, best) {
			best = s
		}
	}
	return best
}

// applySplit turns the leaf into a split node and returns its two children.
// Only the smaller child's histograms are built; the sibling is derived by subtraction.
func (b *booster) applySplit(ctx context.Context, tree *Tree, parent *leafState, features []int) (*leafState, *leafState, error) {
	s := parent.best
	mapper := b.data.mappers[s.Feature]
	bins := b.data.bins[s.Feature]

	leftRows := make([]int, 0, s.LeftCount)
	rightRows := make([]int, 0, s.RightCount)
	for _, i := range parent.rows {
		if goesLeft(s, mapper, int(bins[i])) {
			leftRows = append(leftRows, i)
		} else {
			rightRows = append(rightRows, i)
		}
	}

	leftID := len(tree.Nodes)
	rightID := leftID + 1
	node := &tree.Nodes[parent.node]
	node.LeftChild = leftID
	node.RightChild = rightID
	node.SplitFeature = s.Feature
	node.Gain = s.Gain
	node.DefaultLeft = s.DefaultLeft
	node.LeafCount = len(parent.rows)
	if mapper.Categorical {
		node.NodeType = CategoricalNode
		node.Categories = s.Categories
	} else {
		node.NodeType = NumericalNode
		node.Threshold = s.Threshold
	}
	tree.Nodes = append(tree.Nodes,
		Node{NodeID: leftID, ParentID: parent.node, LeftChild: -1, RightChild: -1, NodeType: LeafNode},
		Node{NodeID: rightID, ParentID: parent.node, LeftChild: -1, RightChild: -1, NodeType: LeafNode},
	)

	left := &leafState{node: leftID, rows: leftRows, sumGrad: s.LeftGrad, sumHess: s.LeftHess, depth: parent.depth + 1}
	right := &leafState{node: rightID, rows: rightRows, sumGrad: s.RightGrad, sumHess: s.RightHess, depth: parent.depth + 1}

	small, large := left, right
	if len(rightRows) < len(leftRows) {
		small, large = right, left
	}
	hist, err := b.data.buildHistograms(ctx, small.rows, features, b.grad, b.hess, b.workers)
	if err != nil {
		return nil, nil, err
	}
	small.hist = hist
	large.hist = subtractHistograms(parent.hist, small.hist, features)
	parent.hist = nil

	left.best = b.findBestSplit(left, features)
	right.best = b.findBestSplit(right, features)
	return left, right, nil
}

func goesLeft(s SplitInfo, mapper *BinMapper, bin int) bool {
	if bin == mapper.MissingBin() {
		return s.DefaultLeft
	}
	if mapper.Categorical {
		return containsCategory(s.Categories, bin)
	}
	return bin <= s.ThresholdBin
}

// updateScores adds the tree output to the raw scores of every train and valid row.
func (b *booster) updateScores(ctx context.Context, tree *Tree) error {
	apply := func(d *model.Dataset, scores []float64) error {
		return parallel.ParallelizeWithThreshold(ctx, len(scores), 1000, b.workers, func(_ context.Context, start, end int) error {
			for i := start; i < end; i++ {
				scores[i] += tree.Predict(d.X.RawRowView(i))
			}
			return nil
		})
	}
	if err := apply(b.train, b.trainScore); err != nil {
		return err
	}
	if b.valid != nil {
		return apply(b.valid, b.validScore)
	}
	return nil
}

// evaluate computes every configured metric on train, then valid.
func (b *booster) evaluate() []EvalResult {
	var out []EvalResult
	eval := func(name string, y, scores []float64) {
		prob := make([]float64, len(scores))
		for i, s := range scores {
			prob[i] = b.obj.Transform(s)
		}
		for _, metric := range b.params.Metrics {
			var v float64
			switch metric {
			case model.MetricAUC:
				v = metrics.AUCScore(y, prob)
			default:
				v = metrics.LogLossScore(y, prob)
			}
			out = append(out, EvalResult{DataName: name, MetricName: metric, Value: v})
		}
	}
	eval(TrainSetName, b.train.Y, b.trainScore)
	if b.valid != nil {
		eval(ValidSetName, b.valid.Y, b.validScore)
	}
	return out
}
