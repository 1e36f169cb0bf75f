// Package enginetest provides a fake synthesis engine for tests. The fake is
// the test binary itself, re-executed with ModeEnv set; call Main from
// TestMain before m.Run.
package enginetest

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/recipeforge/internal/engine"
)

const (
	ModeEnv  = "RECIPEFORGE_FAKE_ENGINE"
	LimitEnv = "RECIPEFORGE_FAKE_LIMIT"

	// ModeOK prints one stats line per print_stats directive.
	ModeOK = "ok"
	// ModeTruncate stops printing stats after LimitEnv lines and exits 0.
	ModeTruncate = "truncate"
	// ModeCrash prints LimitEnv stats lines and exits 1.
	ModeCrash = "crash"
	// ModeHang never exits.
	ModeHang = "hang"
	// ModeGarbage prints no stats at all.
	ModeGarbage = "garbage"

	baseAnd   = 1000
	baseLevel = 50
)

// Main runs the fake engine and exits if ModeEnv is set. Otherwise it
// returns immediately.
func Main() {
	mode := os.Getenv(ModeEnv)
	if mode == "" {
		return
	}
	os.Exit(run(mode, os.Args[1:]))
}

// Local returns an executor that runs the fake engine in mode.
func Local(mode string, limit int, timeout time.Duration) *engine.Local {
	return &engine.Local{
		Binary:  os.Args[0],
		Env:     map[string]string{ModeEnv: mode, LimitEnv: strconv.Itoa(limit)},
		Timeout: timeout,
	}
}

// Metrics returns what the fake prints after each step of steps, baseline
// first.
func Metrics(steps []string) (ands, levels []int) {
	and, lev := baseAnd, baseLevel
	ands, levels = []int{and}, []int{lev}
	for _, s := range steps {
		and, lev = apply(s, and, lev)
		ands = append(ands, and)
		levels = append(levels, lev)
	}
	return ands, levels
}

func apply(step string, and, lev int) (int, int) {
	and -= 1 + len(step)%7
	if strings.HasPrefix(step, "balance") && lev > 1 {
		lev--
	}
	if and < 0 {
		and = 0
	}
	return and, lev
}

func run(mode string, args []string) int {
	var scriptPath string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-f" {
			scriptPath = args[i+1]
		}
	}
	fmt.Println("UC Berkeley, ABC 1.01 (fake)")
	if mode == ModeHang {
		time.Sleep(time.Hour)
		return 0
	}
	if mode == ModeGarbage {
		fmt.Println("** cmd error: unknown command")
		return 0
	}
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open script %q: %v\n", scriptPath, err)
		return 1
	}
	limit, _ := strconv.Atoi(os.Getenv(LimitEnv))

	and, lev, printed := baseAnd, baseLevel, 0
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		fmt.Printf("abc %02d> %s\n", n, line)
		switch {
		case line == "print_stats":
			if (mode == ModeTruncate || mode == ModeCrash) && printed >= limit {
				if mode == ModeCrash {
					return 1
				}
				continue
			}
			fmt.Printf("\x1b[1;37mfake\x1b[0m : i/o = 3/ 2  lat = 0  and = %6d  lev = %3d\n", and, lev)
			printed++
		case strings.HasPrefix(line, "read_"), strings.HasPrefix(line, "source"),
			strings.HasPrefix(line, "write_"), line == "strash", line == "dch", line == "":
		default:
			and, lev = apply(line, and, lev)
		}
	}
	return 0
}
