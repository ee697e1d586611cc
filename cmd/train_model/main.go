// Command train_model fits and inspects the random forest artifacts served by the
// CKD risk form.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ckdrisk/form"
	"ckdrisk/logging"
	"ckdrisk/ml"
)

const labelColumn = "classification"

var (
	logLevel string
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "train_model",
	Short:         "Train and inspect CKD risk models",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logging.Options{Level: logLevel})
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

type trainOptions struct {
	CSV       string
	Variant   string
	Trees     int
	MaxDepth  int
	Seed      int64
	TestRatio float64
	Workers   int
	Out       string
}

var trainOpts = trainOptions{
	Variant:   form.VariantFull,
	Trees:     100,
	MaxDepth:  10,
	Seed:      42,
	TestRatio: 0.2,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a random forest on the CKD dataset and save it as a JSON artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainOpts.Out == "" {
			trainOpts.Out = defaultOut(trainOpts.Variant)
		}
		_, metrics, err := train(cmd.Context(), trainOpts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"variant": trainOpts.Variant,
			"out":     trainOpts.Out,
			"metrics": metrics,
		})
	},
}

var evalOpts struct {
	CSV     string
	Variant string
	Model   string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a saved artifact against a labelled CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics, err := evaluate(evalOpts.CSV, evalOpts.Variant, evalOpts.Model)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), metrics)
	},
}

var inspectModel string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the header of a saved artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := ml.LoadModel(inspectModel)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), model.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	f := trainCmd.Flags()
	f.StringVar(&trainOpts.CSV, "csv", "kidney_disease.csv", "labelled CKD dataset")
	f.StringVar(&trainOpts.Variant, "variant", trainOpts.Variant, "form variant: full or top10")
	f.IntVar(&trainOpts.Trees, "trees", trainOpts.Trees, "number of trees")
	f.IntVar(&trainOpts.MaxDepth, "max-depth", trainOpts.MaxDepth, "maximum tree depth")
	f.Int64Var(&trainOpts.Seed, "seed", trainOpts.Seed, "random seed")
	f.Float64Var(&trainOpts.TestRatio, "test-ratio", trainOpts.TestRatio, "held-out share of rows")
	f.IntVar(&trainOpts.Workers, "workers", 0, "concurrent tree builders, 0 for GOMAXPROCS")
	f.StringVar(&trainOpts.Out, "out", "", "artifact path (default depends on the variant)")

	e := evaluateCmd.Flags()
	e.StringVar(&evalOpts.CSV, "csv", "kidney_disease.csv", "labelled CKD dataset")
	e.StringVar(&evalOpts.Variant, "variant", form.VariantFull, "form variant: full or top10")
	e.StringVar(&evalOpts.Model, "model", "", "artifact path")
	evaluateCmd.MarkFlagRequired("model")

	inspectCmd.Flags().StringVar(&inspectModel, "model", "", "artifact path")
	inspectCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(trainCmd, evaluateCmd, inspectCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultOut(variant string) string {
	if variant == form.VariantTop10 {
		return "model/random_forest10.json"
	}
	return "model/random_forest.json"
}

func loadVariantData(csvPath, variant string) (*form.Variant, [][]float64, []int, error) {
	v, ok := form.Lookup(variant)
	if !ok {
		return nil, nil, nil, fmt.Errorf("unknown variant %q", variant)
	}
	ds, err := ml.LoadCSV(csvPath)
	if err != nil {
		return nil, nil, nil, err
	}
	cleaned, stats, issues := v.Clean(ds, labelColumn)
	logger.Info("dataset cleaned",
		zap.String("path", csvPath),
		zap.Int("rows", stats.TotalProcessed),
		zap.Int("rejected", stats.Rejected),
		zap.Any("issues", stats.Issues))
	for _, issue := range issues {
		logger.Debug("data quality issue",
			zap.String("type", issue.Type),
			zap.Int("row", issue.Row),
			zap.String("field", issue.Field),
			zap.String("message", issue.Message))
	}

	features, labels, err := v.Vectorize(cleaned, labelColumn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return v, features, labels, nil
}

// train fits a forest on the training split, scores it on the held-out rows with the
// disease class as positive, and saves it with its metrics.
func train(ctx context.Context, opts trainOptions) (*ml.RandomForest, ml.Metrics, error) {
	v, features, labels, err := loadVariantData(opts.CSV, opts.Variant)
	if err != nil {
		return nil, ml.Metrics{}, err
	}
	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, opts.TestRatio, opts.Seed)
	logger.Info("dataset loaded",
		zap.String("variant", v.Name),
		zap.Int("rows", len(features)),
		zap.Int("train", len(trainX)),
		zap.Int("test", len(testX)))

	cfg := ml.DefaultForestConfig()
	cfg.Trees = opts.Trees
	cfg.MaxDepth = opts.MaxDepth
	cfg.Seed = opts.Seed
	cfg.Workers = opts.Workers
	rf := ml.NewRandomForest(cfg)
	if err := rf.Train(ctx, trainX, trainY); err != nil {
		return nil, ml.Metrics{}, fmt.Errorf("train: %w", err)
	}
	rf.SetFeatureNames(v.FeatureNames())

	metrics, err := ml.Evaluate(rf, testX, testY, form.DatasetLabels["ckd"])
	if err != nil {
		return nil, ml.Metrics{}, err
	}
	rf.SetMetrics(metrics)
	logger.Info("model evaluated",
		zap.Float64("accuracy", metrics.Accuracy),
		zap.Float64("precision", metrics.Precision),
		zap.Float64("recall", metrics.Recall),
		zap.Float64("f1", metrics.F1))

	if err := rf.Save(opts.Out); err != nil {
		return nil, ml.Metrics{}, fmt.Errorf("save %s: %w", opts.Out, err)
	}
	logger.Info("model saved", zap.String("path", opts.Out))
	return rf, metrics, nil
}

func evaluate(csvPath, variant, modelPath string) (ml.Metrics, error) {
	v, features, labels, err := loadVariantData(csvPath, variant)
	if err != nil {
		return ml.Metrics{}, err
	}
	model, err := ml.LoadModel(modelPath)
	if err != nil {
		return ml.Metrics{}, err
	}
	if n := model.Info().NFeatures; n != len(v.Fields) {
		return ml.Metrics{}, fmt.Errorf("%w: model expects %d features, variant %s has %d",
			ml.ErrFeatureCount, n, v.Name, len(v.Fields))
	}
	return ml.Evaluate(model, features, labels, form.DatasetLabels["ckd"])
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
