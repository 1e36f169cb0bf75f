package dataset

import (
	"fmt"
	"strconv"

	"github.com/signalnine/recipeforge/internal/parser"
	"github.com/signalnine/recipeforge/internal/recipe"
)

// Absent is how a missing metric is written to the dataset.
const Absent = ""

// Row is one trial flattened: n steps, n AND counts, n levels.
type Row []string

// Header names the 3n columns: Step1..Stepn, AND1..ANDn, Level1..Leveln.
func Header(n int) []string {
	h := make([]string, 0, 3*n)
	for i := 1; i <= n; i++ {
		h = append(h, fmt.Sprintf("Step%d", i))
	}
	for i := 1; i <= n; i++ {
		h = append(h, fmt.Sprintf("AND%d", i))
	}
	for i := 1; i <= n; i++ {
		h = append(h, fmt.Sprintf("Level%d", i))
	}
	return h
}

// NewRow flattens a recipe and its trajectory. Both must have the same
// length.
func NewRow(r recipe.Recipe, traj parser.Trajectory) (Row, error) {
	n := len(r)
	if len(traj) != n {
		return nil, fmt.Errorf("trajectory has %d snapshots for %d steps", len(traj), n)
	}
	row := make(Row, 3*n)
	copy(row, r)
	for i, s := range traj {
		if !s.Present {
			row[n+i], row[2*n+i] = Absent, Absent
			continue
		}
		row[n+i] = strconv.Itoa(s.And)
		row[2*n+i] = strconv.Itoa(s.Level)
	}
	return row, nil
}

// AbsentRow is the row for a trial whose engine run produced nothing.
func AbsentRow(r recipe.Recipe) Row {
	row, _ := NewRow(r, make(parser.Trajectory, len(r)))
	return row
}
