package runner_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signalnine/recipeforge/internal/config"
	"github.com/signalnine/recipeforge/internal/dataset"
	"github.com/signalnine/recipeforge/internal/engine"
	"github.com/signalnine/recipeforge/internal/engine/enginetest"
	"github.com/signalnine/recipeforge/internal/recipe"
	"github.com/signalnine/recipeforge/internal/result"
	"github.com/signalnine/recipeforge/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func pipelineConfig(t *testing.T, mode string, trials, workers int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	design := filepath.Join(dir, "c17_orig.bench")
	require.NoError(t, os.WriteFile(design, []byte("INPUT(a)\nOUTPUT(b)\nb = NOT(a)\n"), 0o644))

	cfg := &config.Config{
		Design:         config.Design{Path: design},
		Recipe:         config.Recipe{Length: 5, Vocabulary: testSteps},
		Trials:         trials,
		Workers:        workers,
		Seed:           42,
		FlushThreshold: 3,
		Engine: config.Engine{
			Binary:  os.Args[0],
			Env:     map[string]string{enginetest.ModeEnv: mode, enginetest.LimitEnv: "3"},
			Timeout: 30 * time.Second,
		},
		Results: config.Results{Dir: filepath.Join(dir, "results")},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func readDataset(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRunPipeline(t *testing.T) {
	cfg := pipelineConfig(t, enginetest.ModeOK, 10, 3)
	var progress bytes.Buffer

	sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{
		Config:   cfg,
		Logger:   zaptest.NewLogger(t),
		Progress: &progress,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, sum.Completed)
	assert.Equal(t, 10, sum.Succeeded())
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 10, sum.Rows)
	assert.Equal(t, uint64(42), sum.Seed)
	assert.NotEmpty(t, sum.RunID)
	assert.Contains(t, progress.String(), "Processed 10/10 trials")

	records := readDataset(t, sum.DatasetPath)
	require.Len(t, records, 11)
	assert.Equal(t, dataset.Header(5), records[0])

	vocab, err := recipe.NewVocabulary(testSteps)
	require.NoError(t, err)
	for _, rec := range records[1:] {
		require.Len(t, rec, 15)
		steps := recipe.Recipe(rec[:5])
		require.NoError(t, steps.Validate(vocab))
		ands, levels := enginetest.Metrics(steps)
		for i := 0; i < 5; i++ {
			assert.Equal(t, strconv.Itoa(ands[i+1]), rec[5+i])
			assert.Equal(t, strconv.Itoa(levels[i+1]), rec[10+i])
		}
	}

	for i := 0; i < 10; i++ {
		assert.FileExists(t, filepath.Join(sum.RunDir, "scripts", "s"+strconv.Itoa(i)+".txt"))
		assert.FileExists(t, filepath.Join(sum.RunDir, "outputs", strconv.Itoa(i)))
	}

	meta, err := result.ReadRunMeta(filepath.Join(sum.RunDir, result.RunMetaFile))
	require.NoError(t, err)
	assert.Equal(t, sum.RunID, meta.RunID)
	assert.Equal(t, "c17", meta.Design)
	assert.False(t, meta.FinishedAt.IsZero())

	ledger, err := result.OpenLedger(context.Background(), filepath.Join(sum.RunDir, result.LedgerFile))
	require.NoError(t, err)
	defer ledger.Close()
	trials, err := ledger.Trials(context.Background())
	require.NoError(t, err)
	require.Len(t, trials, 10)
	for i, rec := range trials {
		assert.Equal(t, i, rec.Trial)
		assert.Equal(t, result.StatusOK, rec.Status)
		assert.True(t, rec.RowEmitted)
	}
}

func TestRunPipelineWorkerCountIndependent(t *testing.T) {
	rowsFor := func(workers int) []string {
		cfg := pipelineConfig(t, enginetest.ModeOK, 12, workers)
		sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{Config: cfg})
		require.NoError(t, err)
		var rows []string
		for _, rec := range readDataset(t, sum.DatasetPath)[1:] {
			rows = append(rows, strings.Join(rec, ","))
		}
		sort.Strings(rows)
		return rows
	}
	if diff := cmp.Diff(rowsFor(1), rowsFor(4)); diff != "" {
		t.Errorf("row set depends on worker count (-1 worker +4 workers):\n%s", diff)
	}
}

func TestRunPipelineFailurePolicy(t *testing.T) {
	tests := []struct {
		policy string
		rows   int
	}{
		{config.FailureEmit, 4},
		{config.FailureOmit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			cfg := pipelineConfig(t, enginetest.ModeOK, 4, 2)
			cfg.Engine.Binary = filepath.Join(t.TempDir(), "no-such-engine")
			cfg.OnFailure = tt.policy

			sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{Config: cfg})
			require.NoError(t, err)
			assert.Equal(t, 4, sum.ByStatus[result.StatusSpawnFailed])
			assert.Equal(t, 4, sum.Failed)
			assert.Equal(t, tt.rows, sum.Rows)

			records := readDataset(t, sum.DatasetPath)
			require.Len(t, records, tt.rows+1)
			for _, rec := range records[1:] {
				for _, field := range rec[5:] {
					assert.Equal(t, dataset.Absent, field)
				}
			}
		})
	}
}

func TestRunPipelineMixedOutcomes(t *testing.T) {
	tests := []struct {
		mode   string
		status string
		rows   int
	}{
		{enginetest.ModeTruncate, result.StatusPartial, 3},
		{enginetest.ModeGarbage, result.StatusParseFailed, 3},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := pipelineConfig(t, tt.mode, 3, 2)
			cfg.OnFailure = config.FailureOmit

			sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{Config: cfg})
			require.NoError(t, err)
			assert.Equal(t, 3, sum.ByStatus[tt.status])
			assert.Equal(t, tt.rows, sum.Rows)
		})
	}
}

func TestRunPipelineTimeout(t *testing.T) {
	cfg := pipelineConfig(t, enginetest.ModeHang, 2, 2)
	cfg.Engine.Timeout = 200 * time.Millisecond

	sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ByStatus[result.StatusTimeout])
	assert.Equal(t, 2, sum.Rows)
}

func TestRunPipelineCancelled(t *testing.T) {
	cfg := pipelineConfig(t, enginetest.ModeHang, 20, 2)
	cfg.Engine.Timeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	sum, err := runner.RunPipeline(ctx, &runner.PipelineOpts{Config: cfg})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, sum)
	assert.GreaterOrEqual(t, sum.ByStatus[result.StatusInterrupted], 2)
	assert.Less(t, sum.Completed, 20)
	assert.Equal(t, 0, sum.Rows)

	records := readDataset(t, sum.DatasetPath)
	assert.Len(t, records, 1, "header only")
}

func TestRunPipelineWriteDesign(t *testing.T) {
	cfg := pipelineConfig(t, enginetest.ModeOK, 2, 1)
	cfg.Design.WriteDesign = true
	ledger := false
	cfg.Results.Ledger = &ledger

	sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{Config: cfg})
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(sum.RunDir, "updated"))
	assert.NoFileExists(t, filepath.Join(sum.RunDir, result.LedgerFile))

	data, err := os.ReadFile(filepath.Join(sum.RunDir, "scripts", "s1.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "write_bench -l "+filepath.Join(sum.RunDir, "updated", "1.bench"))
}

func TestRunPipelineSharedProgressWriter(t *testing.T) {
	cfg := pipelineConfig(t, enginetest.ModeOK, 12, 4)
	cfg.FlushThreshold = 1
	var progress bytes.Buffer

	sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{Config: cfg, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, 12, sum.Rows)

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	require.Len(t, lines, 12)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, "Processed "+strconv.Itoa(i+1)+"/12 trials"), "line %d: %q", i, line)
	}
}

type failingExecutor struct{}

func (failingExecutor) Run(context.Context, string, string) (*engine.Result, error) {
	return nil, errors.New("engine exploded")
}

func TestRunPipelineLogsTrialErrorOnce(t *testing.T) {
	cfg := pipelineConfig(t, enginetest.ModeOK, 3, 2)
	core, logs := observer.New(zap.InfoLevel)

	sum, err := runner.RunPipeline(context.Background(), &runner.PipelineOpts{
		Config:   cfg,
		Executor: failingExecutor{},
		Logger:   zap.New(core),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.ByStatus[result.StatusError])
	assert.Equal(t, 3, sum.Rows, "errored trials get absent rows under the emit policy")

	failed := logs.FilterMessage("trial failed").All()
	require.Len(t, failed, 3)
	seen := map[int64]bool{}
	for _, entry := range failed {
		trial := entry.ContextMap()["trial"].(int64)
		assert.False(t, seen[trial], "trial %d logged twice", trial)
		seen[trial] = true
	}
	assert.Zero(t, logs.FilterMessage("run interrupted, flushing buffered rows").Len())
}
