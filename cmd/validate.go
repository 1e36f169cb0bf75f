package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalnine/recipeforge/internal/config"
	"github.com/signalnine/recipeforge/internal/dataset"
	"github.com/signalnine/recipeforge/internal/recipe"
	"github.com/signalnine/recipeforge/internal/result"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [run-dir | dataset.csv]",
		Short: "Check a dataset for shape, vocabulary, and metric errors",
		Long: "Read a dataset CSV and check its header, that every row has 3N fields, " +
			"that steps come from the vocabulary without adjacent repeats, and that every " +
			"metric is a non-negative integer or absent. The vocabulary is taken from the " +
			"run's metadata when present, otherwise from the config.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := datasetPath(args)
			if err != nil {
				return err
			}
			vocab, err := datasetVocabulary(path)
			if err != nil {
				return err
			}

			rep, err := dataset.VerifyFile(path, vocab)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rows × %d steps, %d absent metrics\n", path, rep.Rows, rep.Steps, rep.Absent)
			for _, issue := range rep.Issues {
				fmt.Fprintf(out, "  %s\n", issue)
			}
			if len(rep.Issues) > 0 {
				return fmt.Errorf("dataset has %d issue(s)", len(rep.Issues))
			}
			fmt.Fprintln(out, "OK")
			return nil
		},
	}
}

func datasetPath(args []string) (string, error) {
	if len(args) > 0 {
		info, err := os.Stat(args[0])
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return args[0], nil
		}
	}
	runDir, err := resolveRunDir(args)
	if err != nil {
		return "", err
	}
	return result.Layout{RunDir: runDir}.DatasetPath(), nil
}

// datasetVocabulary prefers the vocabulary recorded next to the dataset.
func datasetVocabulary(path string) (recipe.Vocabulary, error) {
	meta, err := result.ReadRunMeta(filepath.Join(filepath.Dir(path), result.RunMetaFile))
	if err == nil && len(meta.Vocabulary) > 0 {
		return recipe.NewVocabulary(meta.Vocabulary)
	}
	logger.Debug("no run metadata next to dataset, using config vocabulary", zap.String("dataset", path))
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return recipe.Vocabulary{}, err
	}
	return cfg.Vocabulary()
}
