package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/signalnine/recipeforge/internal/recipe"
)

// Issue is one problem found in a dataset file. Line is 1-based and counts
// the header.
type Issue struct {
	Line int
	Msg  string
}

func (i Issue) String() string { return fmt.Sprintf("line %d: %s", i.Line, i.Msg) }

// Report is the outcome of Verify.
type Report struct {
	Steps  int
	Rows   int
	Absent int
	Issues []Issue
}

// maxIssues bounds Report.Issues; Verify keeps counting rows past it.
const maxIssues = 100

// VerifyFile opens path and runs Verify on it.
func VerifyFile(path string, vocab recipe.Vocabulary) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()
	return Verify(f, vocab)
}

// Verify checks a dataset: a header of Step/AND/Level columns, rows of the
// same width, steps drawn from vocab with no adjacent repeats, and metrics
// that are non-negative integers or absent, with AND and Level of a step
// absent together. Structural problems are reported as issues; only read
// errors are returned.
func Verify(r io.Reader, vocab recipe.Vocabulary) (*Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Report{Issues: []Issue{{Line: 1, Msg: "missing header"}}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	// ReuseRecord hands the same backing array to the next Read.
	header = slices.Clone(header)
	rep := &Report{}
	if len(header)%3 != 0 || len(header) == 0 {
		rep.Issues = append(rep.Issues, Issue{Line: 1, Msg: fmt.Sprintf("header has %d columns, want a multiple of 3", len(header))})
		return rep, nil
	}
	n := len(header) / 3
	if !slices.Equal(header, Header(n)) {
		rep.Issues = append(rep.Issues, Issue{Line: 1, Msg: "header does not match Step1..StepN, AND1..ANDN, Level1..LevelN"})
		return rep, nil
	}
	rep.Steps = n

	add := func(line int, format string, args ...any) {
		if len(rep.Issues) < maxIssues {
			rep.Issues = append(rep.Issues, Issue{Line: line, Msg: fmt.Sprintf(format, args...)})
		}
	}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				add(line, "%v", perr.Err)
				continue
			}
			return nil, fmt.Errorf("reading row %d: %w", line, err)
		}
		rep.Rows++
		if len(rec) != 3*n {
			add(line, "row has %d fields, want %d", len(rec), 3*n)
			continue
		}
		if err := recipe.Recipe(rec[:n]).Validate(vocab); err != nil {
			add(line, "%v", err)
		}
		for i, field := range rec[n:] {
			if field == Absent {
				rep.Absent++
				continue
			}
			if v, err := strconv.Atoi(field); err != nil || v < 0 {
				add(line, "column %s: %q is not a non-negative integer", header[n+i], field)
			}
		}
		for k := 0; k < n; k++ {
			if (rec[n+k] == Absent) != (rec[2*n+k] == Absent) {
				add(line, "step %d: %s and %s must be both present or both absent", k+1, header[n+k], header[2*n+k])
			}
		}
	}
	return rep, nil
}
