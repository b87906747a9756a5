// Command otp-summarize aggregates predictions per route pair.
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
	"github.com/YuminosukeSato/otpboost/pipeline/summarize"
	"github.com/YuminosukeSato/otpboost/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file")
	original := flag.String("original", "", "Original CSV holding the key column")
	predictions := flag.String("predictions", "", "Predictions CSV written by otp-predict")
	output := flag.String("output", "", "Summary CSV")
	key := flag.String("key", "", "Grouping column")
	registryPath := flag.String("registry", "", "Run registry file")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error")
	flag.Parse()

	cfg, err := config.LoadSummarize(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otp-summarize: %v\n", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "original":
			cfg.OriginalCSV = *original
		case "predictions":
			cfg.PredictionsCSV = *predictions
		case "output":
			cfg.OutputCSV = *output
		case "key":
			cfg.KeyColumn = *key
		case "registry":
			cfg.RegistryPath = *registryPath
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := log.Setup(cfg.Log.Options()); err != nil {
		fmt.Fprintf(os.Stderr, "otp-summarize: %v\n", err)
		os.Exit(2)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := summarize.Run(ctx, cfg, summarize.Options{}); err != nil {
		slog.Error("summary failed", log.ErrAttr(err))
		stop()
		log.Close()
		os.Exit(1)
	}
}
