// Package engine runs the external synthesis engine on a script and captures
// its log.
package engine

import (
	"context"
	"fmt"
	"time"
)

// TimeoutExitCode is reported when a run is killed on timeout.
const TimeoutExitCode = 124

// Executor runs the engine once on scriptPath and writes its combined output
// to logPath. Run blocks until the engine exits or its timeout expires. The
// exit code is informational; the log is the real success signal.
type Executor interface {
	Run(ctx context.Context, scriptPath, logPath string) (*Result, error)
}

type Result struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// SpawnError means the engine never started, so no log was produced.
type SpawnError struct {
	Op  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning engine: %s: %v", e.Op, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Command returns the engine argv for a script.
func Command(binary string, args []string, scriptPath string) []string {
	argv := make([]string, 0, len(args)+3)
	argv = append(argv, binary)
	argv = append(argv, args...)
	return append(argv, "-f", scriptPath)
}
