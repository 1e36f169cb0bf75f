package config

import (
	"path/filepath"
	"strings"
)

var readCommands = map[string]string{
	".bench": "read_bench",
	".blif":  "read_blif",
	".aig":   "read_aiger",
	".v":     "read_verilog",
}

var writeCommands = map[string]string{
	".bench": "write_bench -l",
	".blif":  "write_blif",
	".aig":   "write_aiger",
	".v":     "write_verilog",
}

// ReadDirective returns the engine command that loads the design, falling
// back to read_bench for unknown extensions.
func (d Design) ReadDirective() string {
	if d.ReadCommand != "" {
		return d.ReadCommand
	}
	if cmd, ok := readCommands[strings.ToLower(filepath.Ext(d.Path))]; ok {
		return cmd
	}
	return "read_bench"
}

// WriteDirective returns the command and file extension used to persist the
// transformed design.
func (d Design) WriteDirective() (string, string) {
	ext := strings.ToLower(filepath.Ext(d.Path))
	if cmd, ok := writeCommands[ext]; ok {
		return cmd, ext
	}
	return "write_bench -l", ".bench"
}

func designName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSuffix(base, "_orig")
}
