package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/signalnine/recipeforge/internal/config"
	"github.com/signalnine/recipeforge/internal/dataset"
	"github.com/signalnine/recipeforge/internal/engine"
	"github.com/signalnine/recipeforge/internal/parser"
	"github.com/signalnine/recipeforge/internal/recipe"
	"github.com/signalnine/recipeforge/internal/result"
	"github.com/signalnine/recipeforge/internal/script"
	"go.uber.org/zap"
)

// Recorder stores per-trial records. *result.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, rec *result.TrialRecord) error
}

type PipelineOpts struct {
	Config *config.Config
	// ConfigPath is fingerprinted into the run metadata when set.
	ConfigPath string
	// RunDir overrides the timestamped directory under Config.Results.Dir.
	RunDir string
	// Executor overrides the backend built from Config.Engine.
	Executor engine.Executor
	Logger   *zap.Logger
	// Progress receives human-readable progress lines; nil disables them.
	Progress io.Writer
}

type Summary struct {
	RunID       string         `json:"run_id"`
	RunDir      string         `json:"run_dir"`
	DatasetPath string         `json:"dataset_path"`
	Seed        uint64         `json:"seed"`
	Trials      int            `json:"trials"`
	Completed   int            `json:"completed"`
	ByStatus    map[string]int `json:"by_status"`
	Failed      int            `json:"failed"`
	Rows        int            `json:"rows"`
	Duration    time.Duration  `json:"duration"`
}

// Succeeded counts trials whose log yielded a full trajectory.
func (s *Summary) Succeeded() int { return s.ByStatus[result.StatusOK] }

type pipeline struct {
	cfg        *config.Config
	vocab      recipe.Vocabulary
	marker     *parser.Marker
	template   *script.Template
	executor   engine.Executor
	layout     result.Layout
	agg        *dataset.Aggregator
	recorder   Recorder
	progress   *Progress
	seed       uint64
	log        *zap.Logger
	emitFailed bool
}

// RunPipeline executes Config.Trials trials on a pool of Config.Workers
// workers and writes the dataset. Per-trial failures are recorded and
// counted; only setup failures (run layout, sink, ledger) and a final flush
// that loses rows are returned as errors.
func RunPipeline(ctx context.Context, opts *PipelineOpts) (*Summary, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("runner")
	started := time.Now()

	vocab, err := cfg.Vocabulary()
	if err != nil {
		return nil, &config.Error{Field: "recipe.vocabulary", Err: err}
	}
	marker, err := cfg.MarkerPattern()
	if err != nil {
		return nil, &config.Error{Field: "marker", Err: err}
	}

	runDir := opts.RunDir
	if runDir == "" {
		runDir, err = result.CreateRunDir(cfg.Results.Dir)
		if err != nil {
			return nil, err
		}
	}
	runDir, err = filepath.Abs(runDir)
	if err != nil {
		return nil, fmt.Errorf("resolving run dir: %w", err)
	}
	layout := result.Layout{RunDir: runDir}
	if err := layout.Prepare(cfg.Design.WriteDesign); err != nil {
		return nil, err
	}

	designPath, err := filepath.Abs(cfg.Design.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving design path: %w", err)
	}
	rcFile := ""
	if cfg.Design.RCFile != "" {
		if rcFile, err = filepath.Abs(cfg.Design.RCFile); err != nil {
			return nil, fmt.Errorf("resolving rc file: %w", err)
		}
	}
	tmpl := &script.Template{
		ReadDirective: cfg.Design.ReadDirective(),
		DesignPath:    designPath,
		RCFile:        rcFile,
		Closing:       cfg.Engine.Closing,
	}
	if cfg.Design.WriteDesign {
		tmpl.WriteDirective, tmpl.WriteExt = cfg.Design.WriteDirective()
		tmpl.UpdatedDir = layout.UpdatedDir()
	}

	executor := opts.Executor
	if executor == nil {
		executor, err = NewExecutor(cfg, runDir, designPath, rcFile)
		if err != nil {
			return nil, err
		}
		if c, ok := executor.(io.Closer); ok {
			defer c.Close()
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	meta := &result.RunMeta{
		RunID:        uuid.NewString(),
		Design:       cfg.Design.Name,
		Seed:         seed,
		Trials:       cfg.Trials,
		Workers:      cfg.Workers,
		RecipeLength: cfg.Recipe.Length,
		Vocabulary:   vocab.Steps(),
		Marker:       marker.String(),
		StartedAt:    started.UTC(),
	}
	if opts.ConfigPath != "" {
		if meta.ConfigDigest, err = result.FileDigest(opts.ConfigPath); err != nil {
			log.Warn("could not fingerprint config", zap.Error(err))
		}
	}
	if err := result.WriteRunMeta(layout.MetaPath(), meta); err != nil {
		return nil, err
	}

	var recorder Recorder
	if cfg.Results.LedgerEnabled() {
		ledger, err := result.OpenLedger(ctx, layout.LedgerPath())
		if err != nil {
			return nil, err
		}
		defer ledger.Close()
		if err := ledger.StartRun(ctx, meta); err != nil {
			return nil, err
		}
		defer func() {
			if err := ledger.FinishRun(context.Background(), meta.RunID, time.Now()); err != nil {
				log.Warn("could not finish run in ledger", zap.Error(err))
			}
		}()
		recorder = ledger
	}

	sink, err := dataset.CreateSink(layout.DatasetPath(), dataset.Header(cfg.Recipe.Length))
	if err != nil {
		return nil, fmt.Errorf("initializing dataset: %w", err)
	}
	defer sink.Close()

	p := &pipeline{
		cfg:        cfg,
		vocab:      vocab,
		marker:     marker,
		template:   tmpl,
		executor:   executor,
		layout:     layout,
		agg:        dataset.NewAggregator(sink, cfg.FlushThreshold),
		recorder:   recorder,
		progress:   NewProgress(cfg.Trials, opts.Progress, log),
		seed:       seed,
		log:        log,
		emitFailed: cfg.OnFailure == config.FailureEmit,
	}

	log.Info("run started",
		zap.String("run_id", meta.RunID),
		zap.String("run_dir", runDir),
		zap.Uint64("seed", seed),
		zap.Int("trials", cfg.Trials),
		zap.Int("workers", cfg.Workers),
		zap.String("marker", marker.String()))

	// Trials report their own failures; the pool only returns cancellation.
	if err := errors.Join(RunPool(ctx, cfg.Workers, cfg.Trials, p.handle)...); err != nil {
		log.Warn("run interrupted, flushing buffered rows", zap.Error(err))
	}

	if err := p.agg.FlushAll(); err != nil {
		return nil, fmt.Errorf("flushing dataset: %w", err)
	}
	if err := sink.Close(); err != nil {
		return nil, err
	}
	meta.FinishedAt = time.Now().UTC()
	if err := result.WriteRunMeta(layout.MetaPath(), meta); err != nil {
		log.Warn("could not update run meta", zap.Error(err))
	}

	counts := p.progress.Counts()
	sum := &Summary{
		RunID:       meta.RunID,
		RunDir:      runDir,
		DatasetPath: sink.Path(),
		Seed:        seed,
		Trials:      cfg.Trials,
		ByStatus:    counts,
		Rows:        sink.Rows(),
		Duration:    time.Since(started),
	}
	for status, n := range counts {
		sum.Completed += n
		if result.Failed(status) {
			sum.Failed += n
		}
	}
	log.Info("run finished",
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
		zap.Int("rows", sum.Rows),
		zap.Duration("duration", sum.Duration))
	return sum, ctx.Err()
}

func (p *pipeline) handle(ctx context.Context, worker, id int) error {
	tr := RunTrial(ctx, &TrialOpts{
		ID:         id,
		Seed:       p.seed,
		Vocabulary: p.vocab,
		Length:     p.cfg.Recipe.Length,
		Template:   p.template,
		Executor:   p.executor,
		Marker:     p.marker,
		Layout:     p.layout,
	})
	log := p.log.With(zap.Int("trial", id), zap.Int("worker", worker), zap.String("status", tr.Status))

	row, emit := tr.Row(p.emitFailed)
	if emit {
		// A failed flush leaves the row buffered; FlushAll retries it.
		if err := p.agg.Add(worker, row); err != nil {
			log.Warn("dataset flush failed", zap.Error(err))
		}
	}
	p.progress.Done(tr.Status)

	if p.recorder != nil {
		if err := p.recorder.Record(context.WithoutCancel(ctx), tr.Record(worker, emit)); err != nil {
			log.Warn("could not record trial", zap.Error(err))
		}
	}

	switch {
	case tr.Status == result.StatusOK:
		log.Debug("trial complete", zap.Duration("duration", tr.Duration))
	case tr.Status == result.StatusPartial:
		log.Warn("trial log is short",
			zap.Int("snapshots", tr.Parse.Matches-1),
			zap.Int("want", len(tr.Trial.Recipe)))
	case tr.Status == result.StatusInterrupted:
		log.Debug("trial interrupted", zap.Error(tr.Err))
	case tr.Status == result.StatusError:
		log.Error("trial failed", zap.Error(tr.Err), zap.Bool("row_emitted", emit))
	case result.Failed(tr.Status):
		log.Warn("trial failed", zap.Error(tr.Err), zap.Bool("row_emitted", emit))
	}
	return nil
}
