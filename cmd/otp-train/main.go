// Command otp-train fits the on-time classifier and writes its artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/YuminosukeSato/otpboost/config"
	"github.com/YuminosukeSato/otpboost/pipeline/train"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
	"github.com/YuminosukeSato/otpboost/pkg/log"
	"github.com/YuminosukeSato/otpboost/registry"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file")
	input := flag.String("input", "", "Training CSV")
	output := flag.String("output", "", "Model output directory")
	backend := flag.String("backend", "", "Model backend: gbdt|lightgbm|logistic")
	plot := flag.Bool("plot", false, "Write PNG charts next to the model")
	seed := flag.Int64("seed", 0, "Split and bagging seed")
	rounds := flag.Int("rounds", 0, "Maximum boosting rounds")
	registryPath := flag.String("registry", "", "Run registry file")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error")
	listRuns := flag.Bool("list-runs", false, "List recorded training runs and exit")
	flag.Parse()

	cfg, err := config.LoadTrain(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otp-train: %v\n", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.InputCSV = *input
		case "output":
			cfg.OutputDir = *output
		case "backend":
			cfg.Backend = *backend
		case "plot":
			cfg.Plot = *plot
		case "seed":
			cfg.Seed = *seed
			cfg.Params.Seed = *seed
		case "rounds":
			cfg.Params.NumBoostRound = *rounds
		case "registry":
			cfg.RegistryPath = *registryPath
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := log.Setup(cfg.Log.Options()); err != nil {
		fmt.Fprintf(os.Stderr, "otp-train: %v\n", err)
		os.Exit(2)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listRuns {
		err = printRuns(ctx, cfg.RegistryPath)
	} else {
		_, err = train.Run(ctx, cfg, train.Options{})
	}
	if err != nil {
		slog.Error("training failed", log.ErrAttr(err))
		stop()
		log.Close()
		os.Exit(1)
	}
}

func printRuns(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("-list-runs needs a registry path")
	}
	db, err := registry.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	runs, err := db.List(ctx, registry.KindTrain)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tAUC\tBEST_ITER\tSCHEMA")
	for _, r := range runs {
		auc, ok := r.Metrics["auc"]
		aucStr := "n/a"
		if ok {
			aucStr = train.FormatAUC(auc)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\n",
			r.ID, r.Start.Format(time.RFC3339), aucStr, r.Metrics["best_iteration"], r.Fingerprint)
	}
	return w.Flush()
}
