package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Local runs the engine as a child process on this host.
type Local struct {
	Binary  string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
	// Dir is the child's working directory; empty means inherit.
	Dir string
}

func (l *Local) Run(ctx context.Context, scriptPath, logPath string) (*Result, error) {
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, &SpawnError{Op: "creating log", Err: err}
	}
	defer logFile.Close()

	runCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	argv := Command(l.Binary, l.Args, scriptPath)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Dir = l.Dir
	cmd.WaitDelay = 5 * time.Second
	if len(l.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range l.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Op: "starting " + l.Binary, Err: err}
	}
	waitErr := cmd.Wait()
	res := &Result{Duration: time.Since(start)}

	if ctx.Err() != nil {
		return res, fmt.Errorf("engine interrupted: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		return res, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("waiting for engine: %w", waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}
