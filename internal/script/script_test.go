package script_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/recipeforge/internal/recipe"
	"github.com/signalnine/recipeforge/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tmpl := &script.Template{
		ReadDirective: "read_bench",
		DesignPath:    "abc/project/bc0_orig.bench",
		RCFile:        "abc/abc.rc",
		Closing:       []string{"dch"},
	}
	var buf bytes.Buffer
	require.NoError(t, tmpl.Render(&buf, recipe.Recipe{"rewrite -z", "balance"}, 3))

	want := strings.Join([]string{
		"read_bench abc/project/bc0_orig.bench",
		"source -s abc/abc.rc",
		"strash",
		"print_stats",
		"rewrite -z",
		"print_stats",
		"balance",
		"print_stats",
		"dch",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestRenderSnapshotCount(t *testing.T) {
	tmpl := &script.Template{ReadDirective: "read_blif", DesignPath: "d.blif"}
	r := recipe.Recipe{"a", "b", "a", "b", "a"}
	var buf bytes.Buffer
	require.NoError(t, tmpl.Render(&buf, r, 0))

	assert.Equal(t, len(r)+1, strings.Count(buf.String(), "print_stats\n"))
	assert.NotContains(t, buf.String(), "source -s")
}

func TestRenderWritesDesign(t *testing.T) {
	tmpl := &script.Template{
		ReadDirective:  "read_bench",
		DesignPath:     "d.bench",
		WriteDirective: "write_bench -l",
		WriteExt:       ".bench",
		UpdatedDir:     "run/updated",
		Closing:        []string{"dch"},
	}
	var buf bytes.Buffer
	require.NoError(t, tmpl.Render(&buf, recipe.Recipe{"balance"}, 17))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "write_bench -l "+filepath.Join("run/updated", "17.bench"), lines[5])
	assert.Equal(t, "dch", lines[6])
}

func TestRenderDeterministic(t *testing.T) {
	tmpl := &script.Template{ReadDirective: "read_bench", DesignPath: "d.bench", Closing: []string{"dch"}}
	r := recipe.Recipe{"rewrite", "balance", "resub"}
	var a, b bytes.Buffer
	require.NoError(t, tmpl.Render(&a, r, 1))
	require.NoError(t, tmpl.Render(&b, r, 1))
	assert.Equal(t, a.String(), b.String())
}

func TestWriteFileOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s0.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than the script\n"), 0o644))

	tmpl := &script.Template{ReadDirective: "read_bench", DesignPath: "d.bench"}
	require.NoError(t, tmpl.WriteFile(path, recipe.Recipe{"balance"}, 0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "read_bench d.bench\nstrash\nprint_stats\nbalance\nprint_stats\n", string(data))
}

func TestWriteFileMissingDir(t *testing.T) {
	tmpl := &script.Template{ReadDirective: "read_bench", DesignPath: "d.bench"}
	err := tmpl.WriteFile(filepath.Join(t.TempDir(), "nope", "s0.txt"), recipe.Recipe{"balance"}, 0)
	assert.Error(t, err)
}
