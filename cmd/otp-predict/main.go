// Command otp-predict scores a CSV with a trained model directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/otpboost/config"
	"github.com/YuminosukeSato/otpboost/pipeline/predict"
	"github.com/YuminosukeSato/otpboost/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file")
	modelDir := flag.String("model", "", "Model directory written by otp-train")
	input := flag.String("input", "", "CSV to score")
	output := flag.String("output", "", "Predictions CSV")
	backend := flag.String("backend", "", "Model backend: gbdt|lightgbm|logistic")
	threshold := flag.Float64("threshold", 0, "Probability threshold for the positive class")
	registryPath := flag.String("registry", "", "Run registry file")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error")
	flag.Parse()

	cfg, err := config.LoadPredict(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otp-predict: %v\n", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.ModelDir = *modelDir
		case "input":
			cfg.InputCSV = *input
		case "output":
			cfg.OutputCSV = *output
		case "backend":
			cfg.Backend = *backend
		case "threshold":
			cfg.Threshold = *threshold
		case "registry":
			cfg.RegistryPath = *registryPath
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := log.Setup(cfg.Log.Options()); err != nil {
		fmt.Fprintf(os.Stderr, "otp-predict: %v\n", err)
		os.Exit(2)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := predict.Run(ctx, cfg, predict.Options{}); err != nil {
		slog.Error("prediction failed", log.ErrAttr(err))
		stop()
		log.Close()
		os.Exit(1)
	}
}
