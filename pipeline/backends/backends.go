// Package backends resolves a booster backend by its configured name.
package backends

import (
	"sort"

	"github.com/YuminosukeSato/otpboost/core/model"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/sklearn/lightgbm"
	"github.com/YuminosukeSato/otpboost/sklearn/lightgbm/lgbmcli"
	"github.com/YuminosukeSato/otpboost/sklearn/linear_model"
)

// Backend names accepted in configuration.
const (
	Native      = "gbdt"
	LightGBMCLI = "lightgbm"
	Logistic    = "logistic"
)

// Options carries backend-specific settings.
type Options struct {
	// LightGBMExec is the LightGBM binary; empty means "lightgbm" on PATH.
	LightGBMExec string
}

var factories = map[string]func(Options, log.Logger) model.Backend{
	Native: func(_ Options, logger log.Logger) model.Backend {
		return model.Backend{
			Name:         Native,
			ArtifactName: lightgbm.ModelFile,
			Trainer:      lightgbm.NewTrainer(logger),
			Load: func(path string) (model.Model, error) {
				m, err := lightgbm.LoadModel(path)
				if err != nil {
					return nil, err
				}
				return m, nil
			},
		}
	},
	LightGBMCLI: func(opts Options, logger log.Logger) model.Backend {
		return model.Backend{
			Name:         LightGBMCLI,
			ArtifactName: lgbmcli.ModelFile,
			Trainer:      lgbmcli.NewTrainer(opts.LightGBMExec, logger),
			Load: func(path string) (model.Model, error) {
				m, err := lgbmcli.LoadModel(path)
				if err != nil {
					return nil, err
				}
				if opts.LightGBMExec != "" {
					m.ExecPath = opts.LightGBMExec
				}
				return m, nil
			},
		}
	},
	Logistic: func(_ Options, logger log.Logger) model.Backend {
		return model.Backend{
			Name:         Logistic,
			ArtifactName: linear_model.ModelFile,
			Trainer:      linear_model.NewTrainer(logger),
			Load: func(path string) (model.Model, error) {
				m, err := linear_model.LoadLogisticRegression(path)
				if err != nil {
					return nil, err
				}
				return m, nil
			},
		}
	},
}

// Resolve returns the backend registered under name. An empty name selects Native.
func Resolve(name string, opts Options, logger log.Logger) (model.Backend, error) {
	if name == "" {
		name = Native
	}
	f, ok := factories[name]
	if !ok {
		return model.Backend{}, errors.Wrapf(errors.ErrUnknownBackend, "%q (known: %v)", name, Names())
	}
	if logger == nil {
		logger = log.GetLoggerWithName(name)
	}
	return f(opts, logger.With(log.BackendKey, name)), nil
}

// Names lists the registered backend names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
