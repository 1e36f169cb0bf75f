// Package parser extracts per-step size/depth snapshots from engine logs.
//
// The engine prints one snapshot before the first step (the baseline) and one
// after every step. Parse drops the baseline and aligns the rest with the
// recipe positionally, padding with absent snapshots when the log is short.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
)

// Marker is a versioned pattern for the metric line. Its expression must
// define the named groups size and depth.
type Marker struct {
	Version string
	re      *regexp.Regexp
	size    int
	depth   int
}

// MarkerV1 matches ABC print_stats output, e.g.
//
//	bc0 : i/o = 21/ 11  lat = 0  and = 1167  lev = 30
var MarkerV1 = MustMarker("v1", `\band\s*=\s*(?P<size>\d+)\b.*?\blev\s*=\s*(?P<depth>\d+)`)

func NewMarker(version, expr string) (*Marker, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling marker %s: %w", version, err)
	}
	m := &Marker{Version: version, re: re, size: re.SubexpIndex("size"), depth: re.SubexpIndex("depth")}
	if m.size < 0 || m.depth < 0 {
		return nil, fmt.Errorf("marker %s: pattern must define named groups size and depth", version)
	}
	return m, nil
}

func MustMarker(version, expr string) *Marker {
	m, err := NewMarker(version, expr)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Marker) String() string { return m.Version + ":" + m.re.String() }

// match returns the snapshot on line, if any. Values that overflow are
// treated as no match.
func (m *Marker) match(line []byte) (Snapshot, bool) {
	sub := m.re.FindSubmatch(line)
	if sub == nil {
		return Snapshot{}, false
	}
	size, err := strconv.Atoi(string(sub[m.size]))
	if err != nil {
		return Snapshot{}, false
	}
	depth, err := strconv.Atoi(string(sub[m.depth]))
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{And: size, Level: depth, Present: true}, true
}

// Snapshot is the design size and depth after one step. The zero value is
// the absent placeholder.
type Snapshot struct {
	And     int
	Level   int
	Present bool
}

type Trajectory []Snapshot

// Absent returns the number of placeholder positions.
func (t Trajectory) Absent() int {
	n := 0
	for _, s := range t {
		if !s.Present {
			n++
		}
	}
	return n
}

// Final returns the last present snapshot.
func (t Trajectory) Final() (Snapshot, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Present {
			return t[i], true
		}
	}
	return Snapshot{}, false
}

type Outcome int

const (
	Complete Outcome = iota
	Partial
	NoMatches
	Unreadable
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Partial:
		return "partial"
	case NoMatches:
		return "no_matches"
	case Unreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is a parsed log. Trajectory always has exactly the requested length.
type Result struct {
	Trajectory Trajectory
	Outcome    Outcome
	// Matches counts every marker found, baseline included.
	Matches int
	Err     error
}

// Parse scans r line by line with MarkerV1.
func Parse(r io.Reader, n int) Result {
	return MarkerV1.Parse(r, n)
}

// ParseFile reads and parses the log at path. It never fails: an unreadable
// log yields n absent snapshots with Outcome Unreadable and Err set.
func ParseFile(path string, n int) Result {
	return MarkerV1.ParseFile(path, n)
}

func (m *Marker) ParseFile(path string, n int) Result {
	f, err := os.Open(path)
	if err != nil {
		return unreadable(n, fmt.Errorf("opening log: %w", err))
	}
	defer f.Close()
	return m.Parse(f, n)
}

func (m *Marker) Parse(r io.Reader, n int) Result {
	if n < 0 {
		n = 0
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	traj := make(Trajectory, n)
	matches := 0
	for sc.Scan() {
		snap, ok := m.match(bytes.TrimRight(sc.Bytes(), "\r"))
		if !ok {
			continue
		}
		// Match 0 is the baseline; match k is step k.
		if matches > 0 && matches <= n {
			traj[matches-1] = snap
		}
		matches++
	}
	if err := sc.Err(); err != nil {
		return unreadable(n, fmt.Errorf("reading log: %w", err))
	}

	res := Result{Trajectory: traj, Matches: matches}
	switch {
	case matches <= 1 && n > 0:
		res.Outcome = NoMatches
	case matches-1 < n:
		res.Outcome = Partial
	default:
		res.Outcome = Complete
	}
	return res
}

func unreadable(n int, err error) Result {
	if n < 0 {
		n = 0
	}
	return Result{Trajectory: make(Trajectory, n), Outcome: Unreadable, Err: err}
}
