// Package schema is the feature contract shared by the training and
// inference jobs.
//
// A Schema is written once by the trainer and read back by the predictor so
// both present columns to the model in exactly the same order and encode
// categorical values against the same levels.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// FormatVersion is the schema.json version written by this package.
const FormatVersion = 1

// Artifact file names inside an output directory.
const (
	SchemaFile       = "schema.json"
	FeatureNamesFile = "feature_names.json"
)

// Schema declares the numeric, categorical and label columns of a dataset.
type Schema struct {
	FormatVersion int                 `json:"format_version"`
	Numeric       []string            `json:"numeric"`
	Categorical   []string            `json:"categorical"`
	Label         string              `json:"label,omitempty"`
	Levels        map[string][]string `json:"category_levels,omitempty"`

	// legacy is set when the schema was rebuilt from a bare feature list.
	legacy bool
}

// New builds and validates a schema.
func New(numeric, categorical []string, label string) (*Schema, error) {
	s := &Schema{
		FormatVersion: FormatVersion,
		Numeric:       append([]string(nil), numeric...),
		Categorical:   append([]string(nil), categorical...),
		Label:         label,
		Levels:        make(map[string][]string),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that names are non-empty and unique and that the numeric,
// categorical and label names are pairwise disjoint.
func (s *Schema) Validate() error {
	if len(s.Numeric)+len(s.Categorical) == 0 {
		return errors.NewSchemaErrorf("schema.Validate", "at least one feature is required")
	}
	seen := make(map[string]string)
	check := func(role, name string) error {
		if name == "" {
			return errors.NewSchemaErrorf("schema.Validate", "empty %s column name", role)
		}
		if prev, ok := seen[name]; ok {
			return errors.NewSchemaErrorf("schema.Validate", "column %q declared as both %s and %s", name, prev, role)
		}
		seen[name] = role
		return nil
	}
	for _, n := range s.Numeric {
		if err := check("numeric", n); err != nil {
			return err
		}
	}
	for _, n := range s.Categorical {
		if err := check("categorical", n); err != nil {
			return err
		}
	}
	if s.Label != "" {
		if err := check("label", s.Label); err != nil {
			return err
		}
	}
	return nil
}

// FeatureNames returns numeric then categorical names, as declared.
func (s *Schema) FeatureNames() []string {
	out := make([]string, 0, len(s.Numeric)+len(s.Categorical))
	out = append(out, s.Numeric...)
	return append(out, s.Categorical...)
}

// CategoricalIndices returns the positions of categorical features in FeatureNames order.
func (s *Schema) CategoricalIndices() []int {
	idx := make([]int, len(s.Categorical))
	for i := range s.Categorical {
		idx[i] = len(s.Numeric) + i
	}
	return idx
}

// RequiredColumns lists the columns a dataset must contain.
func (s *Schema) RequiredColumns(withLabel bool) []string {
	cols := s.FeatureNames()
	if withLabel && s.Label != "" {
		cols = append(cols, s.Label)
	}
	return cols
}

// IsLegacy reports whether the schema was rebuilt from a bare feature list.
func (s *Schema) IsLegacy() bool { return s.legacy }

// HasLevels reports whether category levels were fitted for every categorical column.
func (s *Schema) HasLevels() bool {
	for _, c := range s.Categorical {
		if _, ok := s.Levels[c]; !ok {
			return false
		}
	}
	return true
}

// SetLevels stores the sorted distinct values of a categorical column.
// Empty strings are not a level.
func (s *Schema) SetLevels(column string, values []string) {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	levels := make([]string, 0, len(set))
	for v := range set {
		levels = append(levels, v)
	}
	sort.Strings(levels)
	if s.Levels == nil {
		s.Levels = make(map[string][]string)
	}
	s.Levels[column] = levels
}

// Encode returns the integer code of value for a categorical column, or NaN
// and false when the value is not a fitted level.
func (s *Schema) Encode(column, value string) (float64, bool) {
	levels := s.Levels[column]
	i := sort.SearchStrings(levels, value)
	if i < len(levels) && levels[i] == value {
		return float64(i), true
	}
	return math.NaN(), false
}

// Fingerprint identifies the contract: feature order, label and levels.
func (s *Schema) Fingerprint() string {
	payload := struct {
		Numeric     []string            `json:"numeric"`
		Categorical []string            `json:"categorical"`
		Label       string              `json:"label"`
		Levels      map[string][]string `json:"levels"`
	}{s.Numeric, s.Categorical, s.Label, s.Levels}
	// map keys are sorted by the encoder
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// Save writes schema.json and feature_names.json into dir.
func Save(dir string, s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := model.SaveJSON(s, filepath.Join(dir, SchemaFile)); err != nil {
		return err
	}
	return model.SaveJSON(s.FeatureNames(), filepath.Join(dir, FeatureNamesFile))
}

// Load reads schema.json from dir. When only feature_names.json exists, the
// schema is rebuilt from that list: names listed in categorical become
// categorical features, the rest numeric, and no levels are known.
func Load(dir string, categorical []string) (*Schema, error) {
	path := filepath.Join(dir, SchemaFile)
	if _, err := os.Stat(path); err == nil {
		var s Schema
		if err := model.LoadJSON(&s, path); err != nil {
			return nil, err
		}
		if s.FormatVersion != FormatVersion {
			return nil, errors.NewSchemaErrorf("schema.Load", "unsupported format_version %d", s.FormatVersion)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return &s, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	var names []string
	if err := model.LoadJSON(&names, filepath.Join(dir, FeatureNamesFile)); err != nil {
		return nil, err
	}
	return FromFeatureNames(names, categorical)
}

// FromFeatureNames rebuilds a schema from an ordered feature list. The list
// order is kept; categorical names must appear after every numeric name.
func FromFeatureNames(names, categorical []string) (*Schema, error) {
	isCat := make(map[string]bool, len(categorical))
	for _, c := range categorical {
		isCat[c] = true
	}
	s := &Schema{FormatVersion: FormatVersion, Levels: make(map[string][]string), legacy: true}
	for _, n := range names {
		if isCat[n] {
			s.Categorical = append(s.Categorical, n)
			continue
		}
		if len(s.Categorical) > 0 {
			return nil, errors.NewSchemaErrorf("schema.FromFeatureNames", "numeric feature %q listed after a categorical feature", n)
		}
		s.Numeric = append(s.Numeric, n)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
