package parser_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/recipeforge/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsLine(and, lev int) string {
	return fmt.Sprintf("\x1b[1;37mbc0\x1b[0m  : i/o =   21/   11  lat =    0  and =   %5d  lev = %3d", and, lev)
}

func logWith(ands, levs []int) string {
	var b strings.Builder
	b.WriteString("UC Berkeley, ABC 1.01 (compiled Mar 12 2025 10:00:00)\n")
	for i := range ands {
		fmt.Fprintf(&b, "abc %02d> print_stats\n", i+1)
		b.WriteString(statsLine(ands[i], levs[i]))
		b.WriteString("\n")
	}
	return b.String()
}

func snap(and, lev int) parser.Snapshot {
	return parser.Snapshot{And: and, Level: lev, Present: true}
}

func TestParseEndToEndExample(t *testing.T) {
	log := logWith([]int{100, 80, 80, 60, 60}, []int{10, 8, 8, 6, 6})
	res := parser.Parse(strings.NewReader(log), 4)

	assert.Equal(t, parser.Complete, res.Outcome)
	assert.Equal(t, 5, res.Matches)
	assert.Equal(t, parser.Trajectory{snap(80, 8), snap(80, 8), snap(60, 6), snap(60, 6)}, res.Trajectory)
	assert.Zero(t, res.Trajectory.Absent())
}

func TestParsePadsShortLog(t *testing.T) {
	log := logWith([]int{100, 90, 70}, []int{10, 9, 7})
	res := parser.Parse(strings.NewReader(log), 5)

	assert.Equal(t, parser.Partial, res.Outcome)
	require.Len(t, res.Trajectory, 5)
	assert.Equal(t, snap(90, 9), res.Trajectory[0])
	assert.Equal(t, snap(70, 7), res.Trajectory[1])
	assert.Equal(t, 3, res.Trajectory.Absent())
	for _, s := range res.Trajectory[2:] {
		assert.False(t, s.Present)
	}
}

func TestParseTruncatesExtraMatches(t *testing.T) {
	log := logWith([]int{100, 90, 80, 70, 60}, []int{10, 9, 8, 7, 6})
	res := parser.Parse(strings.NewReader(log), 2)

	assert.Equal(t, parser.Complete, res.Outcome)
	assert.Equal(t, parser.Trajectory{snap(90, 9), snap(80, 8)}, res.Trajectory)
}

func TestParseNoUsableMatches(t *testing.T) {
	tests := []struct {
		name string
		log  string
	}{
		{"empty", ""},
		{"noise only", "abc 01> strash\nError: cannot open file\n"},
		{"baseline only", logWith([]int{100}, []int{10})},
		{"size without depth", "and = 12 something else\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parser.Parse(strings.NewReader(tt.log), 3)
			assert.Equal(t, parser.NoMatches, res.Outcome)
			assert.Len(t, res.Trajectory, 3)
			assert.Equal(t, 3, res.Trajectory.Absent())
		})
	}
}

func TestParseToleratesCRLFAndNoise(t *testing.T) {
	log := "garbage\r\n" + statsLine(50, 5) + "\r\nwarning: something\r\n" + statsLine(40, 4) + "\r\n"
	res := parser.Parse(strings.NewReader(log), 1)
	assert.Equal(t, parser.Complete, res.Outcome)
	assert.Equal(t, parser.Trajectory{snap(40, 4)}, res.Trajectory)
}

func TestParseFileUnreadable(t *testing.T) {
	res := parser.ParseFile(filepath.Join(t.TempDir(), "missing"), 4)
	assert.Equal(t, parser.Unreadable, res.Outcome)
	assert.Error(t, res.Err)
	assert.Len(t, res.Trajectory, 4)
	assert.Equal(t, 4, res.Trajectory.Absent())
}

func TestParseFileIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0")
	require.NoError(t, os.WriteFile(path, []byte(logWith([]int{10, 9, 8}, []int{3, 3, 2})), 0o644))

	first := parser.ParseFile(path, 4)
	second := parser.ParseFile(path, 4)
	assert.Equal(t, first, second)
	assert.Equal(t, parser.Partial, first.Outcome)
}

func TestCustomMarker(t *testing.T) {
	m, err := parser.NewMarker("test", `nodes=(?P<size>\d+) depth=(?P<depth>\d+)`)
	require.NoError(t, err)

	log := "nodes=10 depth=4\nnodes=8 depth=3\n"
	res := m.Parse(strings.NewReader(log), 1)
	assert.Equal(t, parser.Trajectory{snap(8, 3)}, res.Trajectory)
}

func TestNewMarkerRequiresGroups(t *testing.T) {
	_, err := parser.NewMarker("bad", `and = (\d+) lev = (\d+)`)
	assert.Error(t, err)
	_, err = parser.NewMarker("bad", `(`)
	assert.Error(t, err)
}

func TestTrajectoryFinal(t *testing.T) {
	traj := parser.Trajectory{snap(9, 3), snap(7, 2), {}}
	final, ok := traj.Final()
	assert.True(t, ok)
	assert.Equal(t, snap(7, 2), final)

	_, ok = parser.Trajectory{{}, {}}.Final()
	assert.False(t, ok)
}
