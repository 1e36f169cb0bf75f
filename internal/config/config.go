package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/signalnine/recipeforge/internal/parser"
	"github.com/signalnine/recipeforge/internal/recipe"
	"gopkg.in/yaml.v3"
)

const (
	BackendLocal  = "local"
	BackendDocker = "docker"

	FailureEmit = "emit"
	FailureOmit = "omit"

	DefaultRecipeLength   = 20
	DefaultFlushThreshold = 100
	DefaultTimeout        = 10 * time.Minute
)

// DefaultVocabulary is the step set used when the config names none.
var DefaultVocabulary = []string{
	"rewrite -z", "rewrite -l", "rewrite", "balance",
	"resub", "refactor", "resub -z", "refactor -z",
}

type Config struct {
	Design         Design  `yaml:"design"`
	Recipe         Recipe  `yaml:"recipe"`
	Trials         int     `yaml:"trials"`
	Workers        int     `yaml:"workers"`
	Seed           uint64  `yaml:"seed"`
	FlushThreshold int     `yaml:"flush_threshold"`
	OnFailure      string  `yaml:"on_failure"`
	Marker         string  `yaml:"marker"`
	Engine         Engine  `yaml:"engine"`
	Results        Results `yaml:"results"`
}

type Design struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	RCFile      string `yaml:"rc_file"`
	ReadCommand string `yaml:"read_command"`
	WriteDesign bool   `yaml:"write_design"`
}

type Recipe struct {
	Length     int      `yaml:"length"`
	Vocabulary []string `yaml:"vocabulary"`
}

type Engine struct {
	Backend     string            `yaml:"backend"`
	Binary      string            `yaml:"binary"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	Timeout     time.Duration     `yaml:"timeout"`
	Closing     []string          `yaml:"closing"`
	Image       string            `yaml:"image"`
	CPULimit    float64           `yaml:"cpu_limit"`
	MemoryLimit int64             `yaml:"memory_limit"`
}

type Results struct {
	Dir    string `yaml:"dir"`
	Ledger *bool  `yaml:"ledger"`
}

// LedgerEnabled reports whether the per-run SQLite ledger should be written.
// It defaults to true when the key is absent.
func (r Results) LedgerEnabled() bool {
	return r.Ledger == nil || *r.Ledger
}

// Error is a configuration error. It is fatal at startup.
type Error struct {
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Field == "" {
		return msg
	}
	return e.Field + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals YAML, fills defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Msg: "parsing yaml", Err: err}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) ApplyDefaults() {
	if cfg.Recipe.Length == 0 {
		cfg.Recipe.Length = DefaultRecipeLength
	}
	if len(cfg.Recipe.Vocabulary) == 0 {
		cfg.Recipe.Vocabulary = append([]string(nil), DefaultVocabulary...)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.FlushThreshold == 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.OnFailure == "" {
		cfg.OnFailure = FailureEmit
	}
	if cfg.Engine.Backend == "" {
		cfg.Engine.Backend = BackendLocal
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = DefaultTimeout
	}
	if cfg.Engine.Closing == nil {
		cfg.Engine.Closing = []string{"dch"}
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.Design.Name == "" && cfg.Design.Path != "" {
		cfg.Design.Name = designName(cfg.Design.Path)
	}
}

// Validate checks every field a run depends on. It runs again after CLI
// overrides are applied.
func (cfg *Config) Validate() error {
	if cfg.Design.Path == "" {
		return &Error{Field: "design.path", Msg: "is required"}
	}
	if cfg.Recipe.Length < 1 {
		return &Error{Field: "recipe.length", Msg: fmt.Sprintf("must be at least 1, got %d", cfg.Recipe.Length)}
	}
	if _, err := recipe.NewVocabulary(cfg.Recipe.Vocabulary); err != nil {
		return &Error{Field: "recipe.vocabulary", Err: err}
	}
	if cfg.Trials < 1 {
		return &Error{Field: "trials", Msg: "must be at least 1"}
	}
	if cfg.Workers < 1 {
		return &Error{Field: "workers", Msg: fmt.Sprintf("must be at least 1, got %d", cfg.Workers)}
	}
	if cfg.FlushThreshold < 1 {
		return &Error{Field: "flush_threshold", Msg: fmt.Sprintf("must be at least 1, got %d", cfg.FlushThreshold)}
	}
	switch cfg.OnFailure {
	case FailureEmit, FailureOmit:
	default:
		return &Error{Field: "on_failure", Msg: fmt.Sprintf("unknown policy %q (want %q or %q)", cfg.OnFailure, FailureEmit, FailureOmit)}
	}
	if cfg.Marker != "" {
		if _, err := parser.NewMarker("custom", cfg.Marker); err != nil {
			return &Error{Field: "marker", Err: err}
		}
	}
	if cfg.Engine.Binary == "" {
		return &Error{Field: "engine.binary", Msg: "is required"}
	}
	if cfg.Engine.Timeout < 0 {
		return &Error{Field: "engine.timeout", Msg: "must not be negative"}
	}
	switch cfg.Engine.Backend {
	case BackendLocal:
	case BackendDocker:
		if cfg.Engine.Image == "" {
			return &Error{Field: "engine.image", Msg: "is required for the docker backend"}
		}
	default:
		return &Error{Field: "engine.backend", Msg: fmt.Sprintf("unknown backend %q", cfg.Engine.Backend)}
	}
	return nil
}

// Vocabulary returns the validated step vocabulary.
func (cfg *Config) Vocabulary() (recipe.Vocabulary, error) {
	return recipe.NewVocabulary(cfg.Recipe.Vocabulary)
}

// MarkerPattern returns the configured metric marker, or the current default.
func (cfg *Config) MarkerPattern() (*parser.Marker, error) {
	if cfg.Marker == "" {
		return parser.MarkerV1, nil
	}
	return parser.NewMarker("custom", cfg.Marker)
}
