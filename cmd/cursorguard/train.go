package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shortontech/cursorguard/internal/event"
	"github.com/shortontech/cursorguard/internal/logging"
	"github.com/shortontech/cursorguard/internal/model"
	"github.com/shortontech/cursorguard/internal/training"
)

type trainOptions struct {
	TrainDir     string
	TestDir      string
	LabelsPath   string
	Out          string
	DefaultLabel int
	MaxDepth     int
	MinSplit     int
	Policy       string
}

func newTrainCmd() *cobra.Command {
	opts := trainOptions{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a decision tree on recorded sessions and write the model",
		Long: `Reads <train-dir>/<user>/<session> CSV files, fits a decision tree and
writes it to --out. With --test-dir and --labels the model is scored on the
labelled test sessions.

Example:
  cursorguard train --train-dir training_files --test-dir test_files \
    --labels public_labels.csv --out cursorguard_model.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := trainPolicy(opts.Policy, cmd.Flags().Changed("normalizer"))
			if err != nil {
				return err
			}
			opts.Policy = policy
			return runTrain(opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.TrainDir, "train-dir", "training_files", "directory of training sessions")
	f.StringVar(&opts.TestDir, "test-dir", "", "directory of test sessions (optional)")
	f.StringVar(&opts.LabelsPath, "labels", "", "filename,is_illegal CSV of session labels")
	f.StringVar(&opts.Out, "out", "cursorguard_model.json", "where to write the model")
	f.IntVar(&opts.DefaultLabel, "default-label", model.LabelHuman, "label for sessions without an entry in --labels")
	f.IntVar(&opts.MaxDepth, "max-depth", 0, "maximum tree depth (0 = unlimited)")
	f.IntVar(&opts.MinSplit, "min-samples-split", 2, "minimum samples needed to split a node")
	f.StringVar(&opts.Policy, "normalizer", string(event.PolicyPresence), "field lookup policy (presence, truthy); defaults to NORMALIZER_POLICY")
	return cmd
}

// trainPolicy returns the flag value when it was set explicitly and the
// serving configuration's policy otherwise, so a model is fitted on the same
// lookup rules the server will apply.
func trainPolicy(flag string, explicit bool) (string, error) {
	if explicit {
		return flag, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.NormalizerPolicy, nil
}

func runTrain(opts trainOptions, out io.Writer) error {
	labels := map[string]int{}
	if opts.LabelsPath != "" {
		var err error
		if labels, err = training.LoadLabels(opts.LabelsPath); err != nil {
			return err
		}
	}

	norm := event.NewNormalizer(event.ParsePolicy(opts.Policy))
	trainLoader := &training.Loader{Normalizer: norm, Labels: labels, DefaultLabel: opts.DefaultLabel}
	trainSet, err := trainLoader.LoadDataset(opts.TrainDir)
	if err != nil {
		return err
	}
	if trainSet.Len() == 0 {
		return fmt.Errorf("no training sessions found under %s", opts.TrainDir)
	}

	tree := model.NewDecisionTree(model.TreeOptions{MaxDepth: opts.MaxDepth, MinSamplesSplit: opts.MinSplit})
	if err := tree.Fit(trainSet.X(), trainSet.Y()); err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	if err := tree.SaveFile(opts.Out); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	logging.Info().
		Str("out", opts.Out).
		Int("samples", trainSet.Len()).
		Int("nodes", tree.NodeCount()).
		Int("depth", tree.Depth()).
		Msg("model trained")
	fmt.Fprintf(out, "trained on %d sessions (%d skipped), %d nodes, depth %d -> %s\n",
		trainSet.Len(), trainSet.Skipped, tree.NodeCount(), tree.Depth(), opts.Out)

	if opts.TestDir == "" {
		return nil
	}
	testLoader := &training.Loader{Normalizer: norm, Labels: labels, DefaultLabel: opts.DefaultLabel}
	testSet, err := testLoader.LoadDataset(opts.TestDir)
	if err != nil {
		return err
	}
	if testSet.Len() == 0 {
		return fmt.Errorf("no test sessions found under %s", opts.TestDir)
	}
	yhat, err := tree.Predict(testSet.X())
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	report, err := training.Evaluate(testSet.Y(), yhat)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, report.String())
	return nil
}
