package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalnine/recipeforge/internal/dataset"
	"github.com/signalnine/recipeforge/internal/engine"
	"github.com/signalnine/recipeforge/internal/parser"
	"github.com/signalnine/recipeforge/internal/recipe"
	"github.com/signalnine/recipeforge/internal/result"
	"github.com/signalnine/recipeforge/internal/script"
)

// Trial is one generate-execute-parse unit. It belongs to exactly one
// worker from start to finish.
type Trial struct {
	ID         int
	Recipe     recipe.Recipe
	ScriptPath string
	LogPath    string
}

type TrialOpts struct {
	ID         int
	Seed       uint64
	Vocabulary recipe.Vocabulary
	Length     int
	Template   *script.Template
	Executor   engine.Executor
	Marker     *parser.Marker
	Layout     result.Layout
}

// TrialResult is what one trial produced. Status is one of the result
// package's Status constants.
type TrialResult struct {
	Trial      Trial
	Status     string
	Trajectory parser.Trajectory
	Parse      parser.Result
	Exec       *engine.Result
	Duration   time.Duration
	Err        error
}

// StatusFor maps an engine run and its parsed log to a trial status. The
// exit code is deliberately ignored: the engine may exit non-zero after
// printing every snapshot.
func StatusFor(exec *engine.Result, outcome parser.Outcome) string {
	if exec != nil && exec.TimedOut {
		return result.StatusTimeout
	}
	switch outcome {
	case parser.Complete:
		return result.StatusOK
	case parser.Partial:
		return result.StatusPartial
	default:
		return result.StatusParseFailed
	}
}

// RunTrial runs one trial end to end. Failures are reported through
// TrialResult.Status and Err, never by panicking or aborting the caller.
func RunTrial(ctx context.Context, opts *TrialOpts) *TrialResult {
	start := time.Now()
	tr := &TrialResult{
		Trial: Trial{
			ID:         opts.ID,
			ScriptPath: opts.Layout.ScriptPath(opts.ID),
			LogPath:    opts.Layout.LogPath(opts.ID),
		},
	}
	defer func() { tr.Duration = time.Since(start) }()

	r, err := recipe.Generate(recipe.NewSource(opts.Seed, opts.ID), opts.Vocabulary, opts.Length)
	if err != nil {
		return tr.fail(result.StatusError, fmt.Errorf("generating recipe: %w", err))
	}
	tr.Trial.Recipe = r

	if err := opts.Template.WriteFile(tr.Trial.ScriptPath, r, opts.ID); err != nil {
		return tr.fail(result.StatusError, err)
	}

	if err := ctx.Err(); err != nil {
		return tr.fail(result.StatusInterrupted, err)
	}
	exec, err := opts.Executor.Run(ctx, tr.Trial.ScriptPath, tr.Trial.LogPath)
	tr.Exec = exec
	if err != nil {
		var spawnErr *engine.SpawnError
		switch {
		case ctx.Err() != nil:
			return tr.fail(result.StatusInterrupted, err)
		case errors.As(err, &spawnErr):
			return tr.fail(result.StatusSpawnFailed, err)
		default:
			return tr.fail(result.StatusError, err)
		}
	}
	if exec.TimedOut {
		return tr.fail(result.StatusTimeout, fmt.Errorf("engine timed out after %s", exec.Duration.Round(time.Millisecond)))
	}

	marker := opts.Marker
	if marker == nil {
		marker = parser.MarkerV1
	}
	tr.Parse = marker.ParseFile(tr.Trial.LogPath, len(r))
	tr.Trajectory = tr.Parse.Trajectory
	tr.Status = StatusFor(exec, tr.Parse.Outcome)
	if tr.Parse.Err != nil {
		tr.Err = tr.Parse.Err
	}
	return tr
}

func (tr *TrialResult) fail(status string, err error) *TrialResult {
	tr.Status = status
	tr.Err = err
	tr.Trajectory = make(parser.Trajectory, len(tr.Trial.Recipe))
	return tr
}

// Row returns the dataset row for this trial and whether one should be
// written. Parse failures always get an all-absent row; engine failures get
// one only when emitFailed is set. Trials without a recipe, and trials cut
// short by cancellation, never get a row.
func (tr *TrialResult) Row(emitFailed bool) (dataset.Row, bool) {
	if tr.Trial.Recipe == nil {
		return nil, false
	}
	switch tr.Status {
	case result.StatusOK, result.StatusPartial, result.StatusParseFailed:
	case result.StatusSpawnFailed, result.StatusTimeout, result.StatusError:
		if !emitFailed {
			return nil, false
		}
	default:
		return nil, false
	}
	row, err := dataset.NewRow(tr.Trial.Recipe, tr.Trajectory)
	if err != nil {
		return dataset.AbsentRow(tr.Trial.Recipe), true
	}
	return row, true
}

// Record converts the result into a ledger record.
func (tr *TrialResult) Record(worker int, rowEmitted bool) *result.TrialRecord {
	rec := &result.TrialRecord{
		Trial:        tr.Trial.ID,
		Worker:       worker,
		Status:       tr.Status,
		Recipe:       tr.Trial.Recipe,
		RecipeDigest: result.RecipeDigest(tr.Trial.Recipe),
		Matches:      tr.Parse.Matches,
		Absent:       tr.Trajectory.Absent(),
		DurationMS:   tr.Duration.Milliseconds(),
		RowEmitted:   rowEmitted,
		ScriptPath:   tr.Trial.ScriptPath,
		LogPath:      tr.Trial.LogPath,
		CompletedAt:  time.Now().UTC(),
	}
	if rec.Recipe == nil {
		rec.Recipe = []string{}
	}
	if final, ok := tr.Trajectory.Final(); ok {
		rec.FinalAnd, rec.FinalLevel = &final.And, &final.Level
	}
	if tr.Exec != nil {
		rec.ExitCode = tr.Exec.ExitCode
		rec.TimedOut = tr.Exec.TimedOut
	}
	if tr.Err != nil {
		rec.Error = tr.Err.Error()
	}
	return rec
}
