package result

import "time"

// Trial statuses recorded in the ledger.
const (
	StatusOK          = "ok"
	StatusPartial     = "partial"
	StatusParseFailed = "parse_failed"
	StatusSpawnFailed = "spawn_failed"
	StatusTimeout     = "timeout"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

// Failed reports whether a status means the engine produced no usable
// trajectory.
func Failed(status string) bool {
	switch status {
	case StatusOK, StatusPartial:
		return false
	default:
		return true
	}
}

type TrialRecord struct {
	Trial        int       `json:"trial"`
	Worker       int       `json:"worker"`
	Status       string    `json:"status"`
	Recipe       []string  `json:"recipe"`
	RecipeDigest string    `json:"recipe_digest"`
	Matches      int       `json:"matches"`
	Absent       int       `json:"absent"`
	FinalAnd     *int      `json:"final_and,omitempty"`
	FinalLevel   *int      `json:"final_level,omitempty"`
	ExitCode     int       `json:"exit_code"`
	TimedOut     bool      `json:"timed_out"`
	DurationMS   int64     `json:"duration_ms"`
	RowEmitted   bool      `json:"row_emitted"`
	ScriptPath   string    `json:"script_path"`
	LogPath      string    `json:"log_path"`
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

type RunMeta struct {
	RunID        string    `json:"run_id"`
	Design       string    `json:"design"`
	Seed         uint64    `json:"seed"`
	Trials       int       `json:"trials"`
	Workers      int       `json:"workers"`
	RecipeLength int       `json:"recipe_length"`
	Vocabulary   []string  `json:"vocabulary"`
	Marker       string    `json:"marker"`
	ConfigDigest string    `json:"config_digest"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}
