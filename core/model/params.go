package model

import (
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// Metric names understood by every backend.
const (
	MetricBinaryLogloss = "binary_logloss"
	MetricAUC           = "auc"
)

// Params holds the boosting hyperparameters. Field tags match the LightGBM
// parameter names so the same values can be written to a CLI config file.
type Params struct {
	Objective           string   `yaml:"objective" toml:"objective" json:"objective" envconfig:"OBJECTIVE"`
	Metrics             []string `yaml:"metrics" toml:"metrics" json:"metric" envconfig:"METRICS"`
	LearningRate        float64  `yaml:"learning_rate" toml:"learning_rate" json:"learning_rate" envconfig:"LEARNING_RATE"`
	NumLeaves           int      `yaml:"num_leaves" toml:"num_leaves" json:"num_leaves" envconfig:"NUM_LEAVES"`
	MaxDepth            int      `yaml:"max_depth" toml:"max_depth" json:"max_depth" envconfig:"MAX_DEPTH"`
	MaxBin              int      `yaml:"max_bin" toml:"max_bin" json:"max_bin" envconfig:"MAX_BIN"`
	MinDataInLeaf       int      `yaml:"min_data_in_leaf" toml:"min_data_in_leaf" json:"min_data_in_leaf" envconfig:"MIN_DATA_IN_LEAF"`
	MinSumHessianInLeaf float64  `yaml:"min_sum_hessian_in_leaf" toml:"min_sum_hessian_in_leaf" json:"min_sum_hessian_in_leaf" envconfig:"MIN_SUM_HESSIAN_IN_LEAF"`
	LambdaL2            float64  `yaml:"lambda_l2" toml:"lambda_l2" json:"lambda_l2" envconfig:"LAMBDA_L2"`
	MinGainToSplit      float64  `yaml:"min_gain_to_split" toml:"min_gain_to_split" json:"min_gain_to_split" envconfig:"MIN_GAIN_TO_SPLIT"`
	BaggingFraction     float64  `yaml:"bagging_fraction" toml:"bagging_fraction" json:"bagging_fraction" envconfig:"BAGGING_FRACTION"`
	BaggingFreq         int      `yaml:"bagging_freq" toml:"bagging_freq" json:"bagging_freq" envconfig:"BAGGING_FREQ"`
	FeatureFraction     float64  `yaml:"feature_fraction" toml:"feature_fraction" json:"feature_fraction" envconfig:"FEATURE_FRACTION"`
	CatSmooth           float64  `yaml:"cat_smooth" toml:"cat_smooth" json:"cat_smooth" envconfig:"CAT_SMOOTH"`
	MaxCatThreshold     int      `yaml:"max_cat_threshold" toml:"max_cat_threshold" json:"max_cat_threshold" envconfig:"MAX_CAT_THRESHOLD"`
	Seed                int64    `yaml:"seed" toml:"seed" json:"seed" envconfig:"SEED"`
	NumThreads          int      `yaml:"num_threads" toml:"num_threads" json:"num_threads" envconfig:"NUM_THREADS"`

	NumBoostRound       int `yaml:"num_boost_round" toml:"num_boost_round" json:"num_iterations" envconfig:"NUM_BOOST_ROUND"`
	EarlyStoppingRounds int `yaml:"early_stopping_rounds" toml:"early_stopping_rounds" json:"early_stopping_round" envconfig:"EARLY_STOPPING_ROUNDS"`
	LogPeriod           int `yaml:"log_period" toml:"log_period" json:"-" envconfig:"LOG_PERIOD"`
}

// DefaultParams returns the production hyperparameters.
func DefaultParams() Params {
	return Params{
		Objective:           "binary",
		Metrics:             []string{MetricBinaryLogloss, MetricAUC},
		LearningRate:        0.05,
		NumLeaves:           127,
		MaxDepth:            -1,
		MaxBin:              255,
		MinDataInLeaf:       100,
		MinSumHessianInLeaf: 1e-3,
		LambdaL2:            0,
		MinGainToSplit:      0,
		BaggingFraction:     0.8,
		BaggingFreq:         1,
		FeatureFraction:     0.8,
		CatSmooth:           10,
		MaxCatThreshold:     32,
		Seed:                42,
		NumBoostRound:       2000,
		EarlyStoppingRounds: 50,
		LogPeriod:           50,
	}
}

// FirstMetric is the metric early stopping watches.
func (p Params) FirstMetric() string {
	if len(p.Metrics) == 0 {
		return MetricBinaryLogloss
	}
	return p.Metrics[0]
}

// Validate checks ranges of the hyperparameters.
func (p Params) Validate() error {
	if p.Objective != "binary" {
		return errors.NewValidationError("objective", "only binary is supported", p.Objective)
	}
	for _, m := range p.Metrics {
		if m != MetricBinaryLogloss && m != MetricAUC {
			return errors.NewValidationError("metrics", "unknown metric", m)
		}
	}
	switch {
	case p.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be positive", p.LearningRate)
	case p.NumLeaves < 2:
		return errors.NewValidationError("num_leaves", "must be at least 2", p.NumLeaves)
	case p.MaxBin < 2:
		return errors.NewValidationError("max_bin", "must be at least 2", p.MaxBin)
	case p.MinDataInLeaf < 1:
		return errors.NewValidationError("min_data_in_leaf", "must be at least 1", p.MinDataInLeaf)
	case p.LambdaL2 < 0:
		return errors.NewValidationError("lambda_l2", "must be non-negative", p.LambdaL2)
	case p.BaggingFraction <= 0 || p.BaggingFraction > 1:
		return errors.NewValidationError("bagging_fraction", "must be in (0, 1]", p.BaggingFraction)
	case p.FeatureFraction <= 0 || p.FeatureFraction > 1:
		return errors.NewValidationError("feature_fraction", "must be in (0, 1]", p.FeatureFraction)
	case p.NumBoostRound < 1:
		return errors.NewValidationError("num_boost_round", "must be at least 1", p.NumBoostRound)
	case p.EarlyStoppingRounds < 0:
		return errors.NewValidationError("early_stopping_rounds", "must be non-negative", p.EarlyStoppingRounds)
	case p.LogPeriod < 0:
		return errors.NewValidationError("log_period", "must be non-negative", p.LogPeriod)
	}
	return nil
}
