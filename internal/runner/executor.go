package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalnine/recipeforge/internal/config"
	"github.com/signalnine/recipeforge/internal/engine"
)

// NewExecutor builds the executor for the configured backend. designPath and
// rcFile must be absolute; the docker backend mounts their directories
// read-only next to the run directory.
func NewExecutor(cfg *config.Config, runDir, designPath, rcFile string) (engine.Executor, error) {
	switch cfg.Engine.Backend {
	case config.BackendLocal, "":
		return &engine.Local{
			Binary:  cfg.Engine.Binary,
			Args:    cfg.Engine.Args,
			Env:     cfg.Engine.Env,
			Timeout: cfg.Engine.Timeout,
		}, nil
	case config.BackendDocker:
		mounts := []engine.Mount{{Source: runDir}}
		seen := map[string]bool{runDir: true}
		for _, p := range []string{designPath, rcFile} {
			if p == "" {
				continue
			}
			dir := filepath.Dir(p)
			if seen[dir] {
				continue
			}
			seen[dir] = true
			mounts = append(mounts, engine.Mount{Source: dir, ReadOnly: true})
		}
		return &engine.Docker{
			Image:       cfg.Engine.Image,
			Binary:      cfg.Engine.Binary,
			Args:        cfg.Engine.Args,
			Env:         cfg.Engine.Env,
			Timeout:     cfg.Engine.Timeout,
			Mounts:      mounts,
			CPULimit:    cfg.Engine.CPULimit,
			MemoryLimit: cfg.Engine.MemoryLimit,
			UserID:      fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		}, nil
	default:
		return nil, &config.Error{Field: "engine.backend", Msg: fmt.Sprintf("unknown backend %q", cfg.Engine.Backend)}
	}
}
