// Package config holds the explicit configuration of the three batch jobs.
//
// Values are layered: built-in defaults, then a YAML or TOML file chosen by
// extension, then OTP_* environment variables, then command-line flags
// (applied by the cmd binaries). Each job validates its config before running.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
)

// EnvPrefix prefixes every environment override, e.g. OTP_INPUT_CSV.
const EnvPrefix = "OTP"

// Column names of the on-time performance datasets.
const (
	DefaultLabelColumn = "y_on_time_b"
	DefaultKeyColumn   = "route_pair"
	DefaultProbColumn  = "prob_on_time_b"
	DefaultClassColumn = "pred_on_time_b"
)

// DefaultNumericColumns are the numeric trip features.
var DefaultNumericColumns = []string{
	"on_time_a",
	"planned_layover_sec",
	"p85_pct_b",
	"planned_dur_b",
	"range7525_b",
	"ampeak_a",
	"pmpeak_a",
}

// DefaultCategoricalColumns are the categorical trip features.
var DefaultCategoricalColumns = []string{DefaultKeyColumn}

// LogConfig configures pkg/log for a job.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" toml:"format" envconfig:"FORMAT"`
	File   string `yaml:"file" toml:"file" envconfig:"FILE"`
}

// Options converts the config to logger setup options.
func (c LogConfig) Options() log.Options {
	return log.Options{Level: c.Level, Format: c.Format, File: c.File, MaxSizeMB: 50, MaxBackups: 3}
}

func defaultLog() LogConfig {
	return LogConfig{Level: "info", Format: "console"}
}

// TrainConfig configures the training job.
type TrainConfig struct {
	InputCSV           string   `yaml:"input_csv" toml:"input_csv" envconfig:"INPUT_CSV"`
	NumericColumns     []string `yaml:"numeric_columns" toml:"numeric_columns" envconfig:"NUMERIC_COLUMNS"`
	CategoricalColumns []string `yaml:"categorical_columns" toml:"categorical_columns" envconfig:"CATEGORICAL_COLUMNS"`
	LabelColumn        string   `yaml:"label_column" toml:"label_column" envconfig:"LABEL_COLUMN"`

	TestSize  float64 `yaml:"test_size" toml:"test_size" envconfig:"TEST_SIZE"`
	Seed      int64   `yaml:"seed" toml:"seed" envconfig:"SEED"`
	Threshold float64 `yaml:"threshold" toml:"threshold" envconfig:"THRESHOLD"`

	Params model.Params `yaml:"params" toml:"params" envconfig:"PARAMS"`

	OutputDir    string `yaml:"output_dir" toml:"output_dir" envconfig:"OUTPUT_DIR"`
	Backend      string `yaml:"backend" toml:"backend" envconfig:"BACKEND"`
	LightGBMExec string `yaml:"lightgbm_exec" toml:"lightgbm_exec" envconfig:"LIGHTGBM_EXEC"`
	Plot         bool   `yaml:"plot" toml:"plot" envconfig:"PLOT"`
	RegistryPath string `yaml:"registry_path" toml:"registry_path" envconfig:"REGISTRY_PATH"`

	Log LogConfig `yaml:"log" toml:"log" envconfig:"LOG"`
}

// DefaultTrain returns the production training configuration.
func DefaultTrain() *TrainConfig {
	return &TrainConfig{
		InputCSV:           "data-samples/trips.csv",
		NumericColumns:     append([]string(nil), DefaultNumericColumns...),
		CategoricalColumns: append([]string(nil), DefaultCategoricalColumns...),
		LabelColumn:        DefaultLabelColumn,
		TestSize:           0.2,
		Seed:               42,
		Threshold:          0.5,
		Params:             model.DefaultParams(),
		OutputDir:          "model",
		Backend:            "gbdt",
		Log:                defaultLog(),
	}
}

// Validate checks the training configuration.
func (c *TrainConfig) Validate() error {
	switch {
	case c.InputCSV == "":
		return errors.NewValidationError("input_csv", "must be set", c.InputCSV)
	case c.LabelColumn == "":
		return errors.NewValidationError("label_column", "must be set", c.LabelColumn)
	case len(c.NumericColumns)+len(c.CategoricalColumns) == 0:
		return errors.NewValidationError("numeric_columns", "at least one feature column is required", c.NumericColumns)
	case c.TestSize <= 0 || c.TestSize >= 1:
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	case c.OutputDir == "":
		return errors.NewValidationError("output_dir", "must be set", c.OutputDir)
	}
	if err := validateThreshold(c.Threshold); err != nil {
		return err
	}
	return c.Params.Validate()
}

// PredictConfig configures the inference job.
type PredictConfig struct {
	ModelDir  string `yaml:"model_dir" toml:"model_dir" envconfig:"MODEL_DIR"`
	InputCSV  string `yaml:"input_csv" toml:"input_csv" envconfig:"INPUT_CSV"`
	OutputCSV string `yaml:"output_csv" toml:"output_csv" envconfig:"OUTPUT_CSV"`

	// CategoricalColumns is only read for model directories that carry a
	// bare feature_names.json instead of schema.json.
	CategoricalColumns []string `yaml:"categorical_columns" toml:"categorical_columns" envconfig:"CATEGORICAL_COLUMNS"`

	ProbColumn  string  `yaml:"prob_column" toml:"prob_column" envconfig:"PROB_COLUMN"`
	ClassColumn string  `yaml:"class_column" toml:"class_column" envconfig:"CLASS_COLUMN"`
	Threshold   float64 `yaml:"threshold" toml:"threshold" envconfig:"THRESHOLD"`

	Backend      string `yaml:"backend" toml:"backend" envconfig:"BACKEND"`
	LightGBMExec string `yaml:"lightgbm_exec" toml:"lightgbm_exec" envconfig:"LIGHTGBM_EXEC"`
	RegistryPath string `yaml:"registry_path" toml:"registry_path" envconfig:"REGISTRY_PATH"`

	Log LogConfig `yaml:"log" toml:"log" envconfig:"LOG"`
}

// DefaultPredict returns the production inference configuration.
func DefaultPredict() *PredictConfig {
	return &PredictConfig{
		ModelDir:           "model",
		InputCSV:           "inference-data/predict.csv",
		OutputCSV:          "predictions/otp_predictions.csv",
		CategoricalColumns: append([]string(nil), DefaultCategoricalColumns...),
		ProbColumn:         DefaultProbColumn,
		ClassColumn:        DefaultClassColumn,
		Threshold:          0.5,
		Backend:            "gbdt",
		Log:                defaultLog(),
	}
}

// Validate checks the inference configuration.
func (c *PredictConfig) Validate() error {
	switch {
	case c.ModelDir == "":
		return errors.NewValidationError("model_dir", "must be set", c.ModelDir)
	case c.InputCSV == "":
		return errors.NewValidationError("input_csv", "must be set", c.InputCSV)
	case c.OutputCSV == "":
		return errors.NewValidationError("output_csv", "must be set", c.OutputCSV)
	case c.ProbColumn == "" || c.ClassColumn == "":
		return errors.NewValidationError("prob_column", "output column names must be set", c.ProbColumn+","+c.ClassColumn)
	case c.ProbColumn == c.ClassColumn:
		return errors.NewValidationError("class_column", "must differ from prob_column", c.ClassColumn)
	}
	return validateThreshold(c.Threshold)
}

// SummarizeConfig configures the route summary job.
type SummarizeConfig struct {
	OriginalCSV    string `yaml:"original_csv" toml:"original_csv" envconfig:"ORIGINAL_CSV"`
	PredictionsCSV string `yaml:"predictions_csv" toml:"predictions_csv" envconfig:"PREDICTIONS_CSV"`
	OutputCSV      string `yaml:"output_csv" toml:"output_csv" envconfig:"OUTPUT_CSV"`

	KeyColumn   string `yaml:"key_column" toml:"key_column" envconfig:"KEY_COLUMN"`
	ProbColumn  string `yaml:"prob_column" toml:"prob_column" envconfig:"PROB_COLUMN"`
	ClassColumn string `yaml:"class_column" toml:"class_column" envconfig:"CLASS_COLUMN"`

	RegistryPath string `yaml:"registry_path" toml:"registry_path" envconfig:"REGISTRY_PATH"`

	Log LogConfig `yaml:"log" toml:"log" envconfig:"LOG"`
}

// DefaultSummarize returns the production summary configuration.
func DefaultSummarize() *SummarizeConfig {
	return &SummarizeConfig{
		OriginalCSV:    "data-samples/trips.csv",
		PredictionsCSV: "predictions/otp_predictions.csv",
		OutputCSV:      "predictions/routepair_summary.csv",
		KeyColumn:      DefaultKeyColumn,
		ProbColumn:     DefaultProbColumn,
		ClassColumn:    DefaultClassColumn,
		Log:            defaultLog(),
	}
}

// Validate checks the summary configuration.
func (c *SummarizeConfig) Validate() error {
	switch {
	case c.OriginalCSV == "":
		return errors.NewValidationError("original_csv", "must be set", c.OriginalCSV)
	case c.PredictionsCSV == "":
		return errors.NewValidationError("predictions_csv", "must be set", c.PredictionsCSV)
	case c.OutputCSV == "":
		return errors.NewValidationError("output_csv", "must be set", c.OutputCSV)
	case c.KeyColumn == "" || c.ProbColumn == "" || c.ClassColumn == "":
		return errors.NewValidationError("key_column", "key, prob and class columns must be set",
			strings.Join([]string{c.KeyColumn, c.ProbColumn, c.ClassColumn}, ","))
	case c.KeyColumn == c.ProbColumn || c.KeyColumn == c.ClassColumn || c.ProbColumn == c.ClassColumn:
		return errors.NewValidationError("key_column", "key, prob and class columns must differ",
			strings.Join([]string{c.KeyColumn, c.ProbColumn, c.ClassColumn}, ","))
	}
	return nil
}

func validateThreshold(t float64) error {
	if t < 0 || t > 1 {
		return errors.NewValidationError("threshold", "must be in [0, 1]", t)
	}
	return nil
}

// LoadTrain layers path (optional) and the environment over DefaultTrain.
func LoadTrain(path string) (*TrainConfig, error) {
	cfg := DefaultTrain()
	return cfg, load(path, cfg)
}

// LoadPredict layers path (optional) and the environment over DefaultPredict.
func LoadPredict(path string) (*PredictConfig, error) {
	cfg := DefaultPredict()
	return cfg, load(path, cfg)
}

// LoadSummarize layers path (optional) and the environment over DefaultSummarize.
func LoadSummarize(path string) (*SummarizeConfig, error) {
	cfg := DefaultSummarize()
	return cfg, load(path, cfg)
}

func load(path string, cfg interface{}) error {
	if path != "" {
		if err := DecodeFile(path, cfg); err != nil {
			return err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return errors.Wrap(err, "error loading environment variables")
	}
	return nil
}

// DecodeFile decodes a .yaml/.yml or .toml file into cfg. Keys the target
// struct does not declare are rejected.
func DecodeFile(path string, cfg interface{}) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return errors.Wrapf(err, "decode config %s", path)
		}
	case ".toml":
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return errors.Wrapf(err, "decode config %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return errors.NewValidationError("config", "unknown keys in "+path, strings.Join(keys, ","))
		}
	default:
		return errors.NewValidationError("config", "unsupported config extension (want .yaml, .yml or .toml)", ext)
	}
	return nil
}
