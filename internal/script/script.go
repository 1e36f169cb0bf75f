// Package script renders a recipe into an engine script.
package script

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/signalnine/recipeforge/internal/recipe"
)

const (
	normalizeDirective = "strash"
	snapshotDirective  = "print_stats"
)

// Template holds the directives that surround every recipe.
type Template struct {
	// ReadDirective loads DesignPath, e.g. "read_bench".
	ReadDirective string
	DesignPath    string
	// RCFile is sourced after loading when set.
	RCFile string
	// WriteDirective persists the transformed design into UpdatedDir when
	// both are set.
	WriteDirective string
	WriteExt       string
	UpdatedDir     string
	Closing        []string
}

// Render writes one directive per line: load, init, strash, a baseline
// snapshot, each step followed by a snapshot, the optional persist directive,
// and the closing directives.
func (t *Template) Render(w io.Writer, r recipe.Recipe, trialID int) error {
	bw := bufio.NewWriter(w)
	line := func(format string, args ...any) {
		fmt.Fprintf(bw, format, args...)
		bw.WriteByte('\n')
	}

	line("%s %s", t.ReadDirective, t.DesignPath)
	if t.RCFile != "" {
		line("source -s %s", t.RCFile)
	}
	line(normalizeDirective)
	line(snapshotDirective)
	for _, step := range r {
		line("%s", step)
		line(snapshotDirective)
	}
	if t.WriteDirective != "" && t.UpdatedDir != "" {
		line("%s %s", t.WriteDirective, t.UpdatedPath(trialID))
	}
	for _, c := range t.Closing {
		line("%s", c)
	}
	return bw.Flush()
}

// UpdatedPath is where the transformed design for trialID is written.
func (t *Template) UpdatedPath(trialID int) string {
	return filepath.Join(t.UpdatedDir, fmt.Sprintf("%d%s", trialID, t.WriteExt))
}

// WriteFile renders the script to path, replacing any existing file.
func (t *Template) WriteFile(path string, r recipe.Recipe, trialID int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating script: %w", err)
	}
	if err := t.Render(f, r, trialID); err != nil {
		f.Close()
		return fmt.Errorf("writing script: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing script: %w", err)
	}
	return nil
}
