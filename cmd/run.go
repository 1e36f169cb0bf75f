package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/signalnine/recipeforge/internal/config"
	"github.com/signalnine/recipeforge/internal/report"
	"github.com/signalnine/recipeforge/internal/runner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagTrials    int
	flagWorkers   int
	flagSeed      uint64
	flagTimeout   time.Duration
	flagOnFailure string
	flagRunDir    string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a dataset",
		RunE:  runDataset,
	}
	cmd.Flags().IntVar(&flagTrials, "trials", 0, "override trial count")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "override worker count (0 = one per CPU)")
	cmd.Flags().Uint64Var(&flagSeed, "seed", 0, "override run seed")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "override per-trial engine timeout")
	cmd.Flags().StringVar(&flagOnFailure, "on-failure", "", "failure policy for engine failures (emit, omit)")
	cmd.Flags().StringVar(&flagRunDir, "run-dir", "", "write into this directory instead of a new timestamped run")
	return cmd
}

// applyOverrides copies explicitly set flags into cfg and revalidates it.
// A zero worker count means one per CPU, as in the config file.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("trials") {
		cfg.Trials = flagTrials
	}
	if flags.Changed("workers") {
		cfg.Workers = flagWorkers
		if cfg.Workers == 0 {
			cfg.Workers = runtime.NumCPU()
		}
	}
	if flags.Changed("seed") {
		cfg.Seed = flagSeed
	}
	if flags.Changed("timeout") {
		cfg.Engine.Timeout = flagTimeout
	}
	if flags.Changed("on-failure") {
		cfg.OnFailure = flagOnFailure
	}
	return cfg.Validate()
}

func runDataset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Design: %s (%d trials × %d steps, %d workers)\n",
		cfg.Design.Name, cfg.Trials, cfg.Recipe.Length, cfg.Workers)

	sum, err := runner.RunPipeline(ctx, &runner.PipelineOpts{
		Config:     cfg,
		ConfigPath: cfgFile,
		RunDir:     flagRunDir,
		Logger:     logger,
		Progress:   out,
	})
	if sum == nil {
		return err
	}
	if err != nil {
		logger.Warn("run stopped early", zap.Error(err))
	}

	fmt.Fprintln(out, "\n--- Results ---")
	printSummary(cmd, sum)
	if cfg.Results.LedgerEnabled() {
		if rerr := report.Generate(context.Background(), sum.RunDir, "table", out); rerr != nil {
			logger.Warn("could not render report", zap.Error(rerr))
		}
	}
	return err
}

func printSummary(cmd *cobra.Command, sum *runner.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run directory: %s\n", sum.RunDir)
	fmt.Fprintf(out, "Dataset:       %s (%d rows)\n", sum.DatasetPath, sum.Rows)
	fmt.Fprintf(out, "Seed:          %d\n", sum.Seed)
	fmt.Fprintf(out, "Trials:        %d/%d completed, %d succeeded, %d failed in %s\n",
		sum.Completed, sum.Trials, sum.Succeeded(), sum.Failed, sum.Duration.Round(time.Millisecond))

	statuses := make([]string, 0, len(sum.ByStatus))
	for s := range sum.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(out, "  %-13s %d\n", s, sum.ByStatus[s])
	}
}
