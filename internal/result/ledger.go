package result

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger is the per-run SQLite record of every trial. It is safe for
// concurrent use.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (and creates if needed) the ledger at path.
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One connection serializes writers from every worker.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := bootstrapLedger(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func bootstrapLedger(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  run_id        TEXT PRIMARY KEY,
  design        TEXT NOT NULL,
  seed          TEXT NOT NULL,
  trials        INTEGER NOT NULL,
  workers       INTEGER NOT NULL,
  recipe_length INTEGER NOT NULL,
  vocabulary    JSON NOT NULL,
  marker        TEXT NOT NULL,
  config_digest TEXT,
  started_at    TEXT NOT NULL,
  finished_at   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS trials (
  trial         INTEGER PRIMARY KEY,
  worker        INTEGER NOT NULL,
  status        TEXT NOT NULL,
  recipe        JSON NOT NULL,
  recipe_digest TEXT NOT NULL,
  matches       INTEGER NOT NULL,
  absent        INTEGER NOT NULL,
  final_and     INTEGER,
  final_level   INTEGER,
  exit_code     INTEGER NOT NULL,
  timed_out     INTEGER NOT NULL,
  duration_ms   INTEGER NOT NULL,
  row_emitted   INTEGER NOT NULL,
  script_path   TEXT NOT NULL,
  log_path      TEXT NOT NULL,
  error         TEXT,
  completed_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS trials_status_idx ON trials(status);`,
		`CREATE INDEX IF NOT EXISTS trials_recipe_digest_idx ON trials(recipe_digest);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap ledger: %w", err)
		}
	}
	return nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) StartRun(ctx context.Context, meta *RunMeta) error {
	vocab, err := json.Marshal(meta.Vocabulary)
	if err != nil {
		return fmt.Errorf("marshal vocabulary: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO runs(run_id, design, seed, trials, workers, recipe_length, vocabulary, marker, config_digest, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, meta.RunID, meta.Design, fmt.Sprint(meta.Seed), meta.Trials, meta.Workers, meta.RecipeLength,
		string(vocab), meta.Marker, meta.ConfigDigest, meta.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (l *Ledger) FinishRun(ctx context.Context, runID string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE run_id = ?;`,
		at.UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Run returns the run recorded in this ledger.
func (l *Ledger) Run(ctx context.Context) (*RunMeta, error) {
	var (
		meta               RunMeta
		seed, vocab        string
		digest, finishedAt sql.NullString
		startedAt          string
	)
	err := l.db.QueryRowContext(ctx, `
SELECT run_id, design, seed, trials, workers, recipe_length, vocabulary, marker, config_digest, started_at, finished_at
FROM runs ORDER BY started_at DESC LIMIT 1;
`).Scan(&meta.RunID, &meta.Design, &seed, &meta.Trials, &meta.Workers, &meta.RecipeLength,
		&vocab, &meta.Marker, &digest, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger has no run")
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if _, err := fmt.Sscan(seed, &meta.Seed); err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	if err := json.Unmarshal([]byte(vocab), &meta.Vocabulary); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	meta.ConfigDigest = digest.String
	meta.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		meta.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt.String)
	}
	return &meta, nil
}

// Record stores rec, replacing any earlier record for the same trial.
func (l *Ledger) Record(ctx context.Context, rec *TrialRecord) error {
	steps, err := json.Marshal(rec.Recipe)
	if err != nil {
		return fmt.Errorf("marshal recipe: %w", err)
	}
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	_, err = l.db.ExecContext(ctx, `
INSERT OR REPLACE INTO trials(
  trial, worker, status, recipe, recipe_digest, matches, absent, final_and, final_level,
  exit_code, timed_out, duration_ms, row_emitted, script_path, log_path, error, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.Trial, rec.Worker, rec.Status, string(steps), rec.RecipeDigest, rec.Matches, rec.Absent,
		nullInt(rec.FinalAnd), nullInt(rec.FinalLevel), rec.ExitCode, rec.TimedOut, rec.DurationMS,
		rec.RowEmitted, rec.ScriptPath, rec.LogPath, errText, rec.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record trial %d: %w", rec.Trial, err)
	}
	return nil
}

// Trials returns every recorded trial ordered by trial ID.
func (l *Ledger) Trials(ctx context.Context) ([]TrialRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT trial, worker, status, recipe, recipe_digest, matches, absent, final_and, final_level,
       exit_code, timed_out, duration_ms, row_emitted, script_path, log_path, error, completed_at
FROM trials ORDER BY trial;
`)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var out []TrialRecord
	for rows.Next() {
		var (
			rec                  TrialRecord
			steps, completedAt   string
			finalAnd, finalLevel sql.NullInt64
			errText              sql.NullString
		)
		if err := rows.Scan(&rec.Trial, &rec.Worker, &rec.Status, &steps, &rec.RecipeDigest,
			&rec.Matches, &rec.Absent, &finalAnd, &finalLevel, &rec.ExitCode, &rec.TimedOut,
			&rec.DurationMS, &rec.RowEmitted, &rec.ScriptPath, &rec.LogPath, &errText, &completedAt); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &rec.Recipe); err != nil {
			return nil, fmt.Errorf("trial %d: parse recipe: %w", rec.Trial, err)
		}
		if finalAnd.Valid {
			v := int(finalAnd.Int64)
			rec.FinalAnd = &v
		}
		if finalLevel.Valid {
			v := int(finalLevel.Int64)
			rec.FinalLevel = &v
		}
		rec.Error = errText.String
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trials: %w", err)
	}
	return out, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
