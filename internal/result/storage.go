package result

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	ScriptsDir  = "scripts"
	OutputsDir  = "outputs"
	UpdatedDir  = "updated"
	DatasetFile = "dataset.csv"
	LedgerFile  = "ledger.db"
	RunMetaFile = "run.json"
)

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// Layout names the files of one run.
type Layout struct {
	RunDir string
}

// Prepare creates the per-trial directories.
func (l Layout) Prepare(withUpdated bool) error {
	dirs := []string{l.ScriptsDir(), l.OutputsDir()}
	if withUpdated {
		dirs = append(dirs, l.UpdatedDir())
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

func (l Layout) ScriptsDir() string  { return filepath.Join(l.RunDir, ScriptsDir) }
func (l Layout) OutputsDir() string  { return filepath.Join(l.RunDir, OutputsDir) }
func (l Layout) UpdatedDir() string  { return filepath.Join(l.RunDir, UpdatedDir) }
func (l Layout) DatasetPath() string { return filepath.Join(l.RunDir, DatasetFile) }
func (l Layout) LedgerPath() string  { return filepath.Join(l.RunDir, LedgerFile) }
func (l Layout) MetaPath() string    { return filepath.Join(l.RunDir, RunMetaFile) }

func (l Layout) ScriptPath(trial int) string {
	return filepath.Join(l.ScriptsDir(), fmt.Sprintf("s%d.txt", trial))
}

func (l Layout) LogPath(trial int) string {
	return filepath.Join(l.OutputsDir(), fmt.Sprintf("%d", trial))
}

func WriteRunMeta(path string, meta *RunMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run meta: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadRunMeta(path string) (*RunMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run meta: %w", err)
	}
	var meta RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing run meta: %w", err)
	}
	return &meta, nil
}

// RecipeDigest identifies a step sequence independently of the trial that
// produced it.
func RecipeDigest(steps []string) string {
	sum := blake3.Sum256([]byte(strings.Join(steps, "\n")))
	return hex.EncodeToString(sum[:16])
}

// FileDigest is the BLAKE3 hash of a file, used to fingerprint the config a
// run was started with.
func FileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
