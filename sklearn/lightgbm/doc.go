// Package lightgbm implements a histogram-based gradient boosting decision
// tree classifier in the style of LightGBM.
//
// Training bins every feature once (equal-frequency bins for numeric
// features, one bin per level code for categorical features, plus a missing
// bin), then grows each tree leaf-wise: the leaf with the largest loss
// reduction is split until num_leaves is reached. Histogram construction runs
// per feature on a bounded worker pool, and the larger child of every split
// reuses its parent's histograms by subtraction.
//
// The binary logistic objective is the only one supported. Metrics are
// recorded per round for the train and valid sets, and early stopping on the
// first metric keeps only the trees up to the best round.
//
// Example:
//
//	trainer := lightgbm.NewTrainer(logger)
//	m, history, err := trainer.Fit(ctx, train, valid, model.DefaultParams())
//	if err != nil {
//		return err
//	}
//	prob, err := m.Predict(X)
package lightgbm
