package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/n0madic/go-streaming-pca/internal/config"
	"github.com/n0madic/go-streaming-pca/internal/dataset"
	"github.com/n0madic/go-streaming-pca/internal/metrics"
	"github.com/n0madic/go-streaming-pca/pca"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"n-dim":          "estimator.n_dim",
	"n-eigen":        "estimator.n_eigen",
	"minibatch-size": "estimator.minibatch_size",
	"gamma":          "estimator.gamma",
	"lambda":         "estimator.lambda",
	"data":           "data.path",
	"format":         "data.format",
	"max-load":       "data.max_load",
	"iterations":     "run.iterations",
	"save":           "run.save",
	"metrics-file":   "run.metrics_file",
	"vectors":        "run.vectors",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pcatester",
		Short: "Estimate the leading eigenpairs of a data file with the streaming estimator",
		Long: `pcatester streams the examples of a data file through the low-rank
streaming eigen-estimator and prints the leading eigenvalues, one per line.

By default the data file starts with a "<rows> <cols>" header line followed
by one example per line as whitespace separated reals. --format headerless
drops the header, --format binary reads little-endian int32 rows and cols
followed by float32 values.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.Load(configPath)
			if err != nil {
				return err
			}
			for flag, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("binding flag %s: %w", flag, err)
				}
			}
			return run(cmd.Context(), v, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML configuration file")
	flags.Int("n-dim", 0, "dimensionality of the samples")
	flags.String("data", "", "filename of the data")
	flags.String("format", "ascii", "data file format: ascii, headerless or binary")
	flags.Int("n-eigen", 10, "number of eigenvalues in the low rank estimate")
	flags.Int("minibatch-size", 10, "number of observations before a reevaluation")
	flags.Float64("gamma", 0.999, "discount factor")
	flags.Float64("lambda", pca.DefaultLambda, "regularizer of the first reevaluation")
	flags.Int("iterations", 1, "number of iterations over the data")
	flags.Int("max-load", -1, "max number of examples to load")
	flags.String("save", "", "write the estimator state to this file")
	flags.String("metrics-file", "", "write Prometheus metrics to this file")
	flags.Bool("vectors", false, "also print the (unnormalized) eigenvectors, one per line")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")

	return cmd
}

func run(ctx context.Context, v *viper.Viper, out io.Writer) error {
	logger, err := config.NewLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	cfg, err := config.Unmarshal(v)
	if err != nil {
		return err
	}

	format, err := dataset.ParseFormat(cfg.Data.Format)
	if err != nil {
		return err
	}
	data, err := dataset.Load(cfg.Data.Path, cfg.Estimator.NDim, format, cfg.Data.MaxLoad)
	if err != nil {
		return err
	}
	logger.Info("data loaded",
		zap.String("path", cfg.Data.Path),
		zap.Stringer("format", format),
		zap.Int("examples", data.Len()),
		zap.Int("dim", data.Dim()),
	)

	collector := metrics.New()
	est, err := pca.New(cfg.Estimator.NDim, cfg.Estimator.NEigen, cfg.Estimator.MinibatchSize, cfg.Estimator.Gamma,
		pca.WithLambda(cfg.Estimator.Lambda),
		pca.WithLogger(logger.Named("pca")),
		pca.WithReevaluateHook(collector.Hook("data")),
	)
	if err != nil {
		return err
	}

	if err := pca.Feed(ctx, est, data, cfg.Run.Iterations); err != nil {
		return err
	}

	if est.Observations() < est.BatchSize() {
		logger.Warn("fewer observations than the minibatch size, the estimate is degenerate",
			zap.Int("observations", est.Observations()),
			zap.Int("minibatch_size", est.BatchSize()),
		)
	}
	logger.Info("estimation done",
		zap.Int("observations", est.Observations()),
		zap.Uint64("reevaluations", est.Reevaluations()),
	)

	values, vectors := est.LeadingEigen()
	for _, value := range values {
		fmt.Fprintln(out, strconv.FormatFloat(value, 'g', -1, 64))
	}
	if cfg.Run.Vectors {
		logger.Warn("eigenvectors are not normalized")
		for i := range values {
			row := vectors.RawRowView(i)
			fields := make([]string, len(row))
			for j, x := range row {
				fields[j] = strconv.FormatFloat(x, 'g', -1, 64)
			}
			fmt.Fprintln(out, strings.Join(fields, " "))
		}
	}

	if cfg.Run.SavePath != "" {
		if err := saveState(est, cfg.Run.SavePath); err != nil {
			return err
		}
		logger.Info("estimator state saved", zap.String("path", cfg.Run.SavePath))
	}
	if cfg.Run.MetricsFile != "" {
		if err := collector.WriteTextfile(cfg.Run.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

func saveState(est *pca.Estimator, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	if err := est.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("saving state: %w", err)
	}
	return f.Close()
}
