package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/signalnine/recipeforge/internal/result"
)

type StatusCount struct {
	Status string `json:"status"`
	Trials int    `json:"trials"`
}

type RunSummary struct {
	RunID          string        `json:"run_id"`
	Design         string        `json:"design"`
	Seed           uint64        `json:"seed"`
	Workers        int           `json:"workers"`
	Planned        int           `json:"planned"`
	Recorded       int           `json:"recorded"`
	ByStatus       []StatusCount `json:"by_status"`
	Failed         int           `json:"failed"`
	RowsEmitted    int           `json:"rows_emitted"`
	UniqueRecipes  int           `json:"unique_recipes"`
	MeanFinalAnd   float64       `json:"mean_final_and"`
	MeanFinalLevel float64       `json:"mean_final_level"`
	MinFinalAnd    int           `json:"min_final_and"`
	MeanDurationMS float64       `json:"mean_duration_ms"`
	Finished       bool          `json:"finished"`
}

// Generate reads the ledger of runDir and writes a summary in format
// (table, markdown or json).
func Generate(ctx context.Context, runDir, format string, w io.Writer) error {
	layout := result.Layout{RunDir: runDir}
	if _, err := os.Stat(layout.LedgerPath()); err != nil {
		return fmt.Errorf("no ledger in %s: %w", runDir, err)
	}
	ledger, err := result.OpenLedger(ctx, layout.LedgerPath())
	if err != nil {
		return err
	}
	defer ledger.Close()

	meta, err := ledger.Run(ctx)
	if err != nil {
		return err
	}
	trials, err := ledger.Trials(ctx)
	if err != nil {
		return err
	}
	return Write(Summarize(meta, trials), format, w)
}

// Write renders s in format.
func Write(s *RunSummary, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	case "table", "":
		return writeTable(s, w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// Summarize aggregates trial records. Final metrics are averaged over trials
// that produced at least one snapshot.
func Summarize(meta *result.RunMeta, trials []result.TrialRecord) *RunSummary {
	s := &RunSummary{
		RunID:    meta.RunID,
		Design:   meta.Design,
		Seed:     meta.Seed,
		Workers:  meta.Workers,
		Planned:  meta.Trials,
		Recorded: len(trials),
		Finished: !meta.FinishedAt.IsZero(),
	}

	byStatus := map[string]int{}
	digests := map[string]bool{}
	var (
		finals        int
		and, level    float64
		totalDuration int64
	)
	for _, t := range trials {
		byStatus[t.Status]++
		if result.Failed(t.Status) {
			s.Failed++
		}
		if t.RowEmitted {
			s.RowsEmitted++
		}
		if t.RecipeDigest != "" && len(t.Recipe) > 0 {
			digests[t.RecipeDigest] = true
		}
		totalDuration += t.DurationMS
		if t.FinalAnd != nil && t.FinalLevel != nil {
			if finals == 0 || *t.FinalAnd < s.MinFinalAnd {
				s.MinFinalAnd = *t.FinalAnd
			}
			finals++
			and += float64(*t.FinalAnd)
			level += float64(*t.FinalLevel)
		}
	}
	s.UniqueRecipes = len(digests)
	if finals > 0 {
		s.MeanFinalAnd = and / float64(finals)
		s.MeanFinalLevel = level / float64(finals)
	}
	if len(trials) > 0 {
		s.MeanDurationMS = float64(totalDuration) / float64(len(trials))
	}

	for status, n := range byStatus {
		s.ByStatus = append(s.ByStatus, StatusCount{Status: status, Trials: n})
	}
	sort.Slice(s.ByStatus, func(i, j int) bool {
		if s.ByStatus[i].Trials != s.ByStatus[j].Trials {
			return s.ByStatus[i].Trials > s.ByStatus[j].Trials
		}
		return s.ByStatus[i].Status < s.ByStatus[j].Status
	})
	return s
}

func (s *RunSummary) fields() [][2]string {
	rows := [][2]string{
		{"Run", s.RunID},
		{"Design", s.Design},
		{"Seed", strconv.FormatUint(s.Seed, 10)},
		{"Workers", strconv.Itoa(s.Workers)},
		{"Trials", fmt.Sprintf("%d/%d", s.Recorded, s.Planned)},
	}
	for _, c := range s.ByStatus {
		rows = append(rows, [2]string{"  " + c.Status, strconv.Itoa(c.Trials)})
	}
	rows = append(rows,
		[2]string{"Failed", strconv.Itoa(s.Failed)},
		[2]string{"Rows emitted", strconv.Itoa(s.RowsEmitted)},
		[2]string{"Unique recipes", strconv.Itoa(s.UniqueRecipes)},
		[2]string{"Mean final AND", fmt.Sprintf("%.1f", s.MeanFinalAnd)},
		[2]string{"Mean final level", fmt.Sprintf("%.1f", s.MeanFinalLevel)},
		[2]string{"Best final AND", strconv.Itoa(s.MinFinalAnd)},
		[2]string{"Mean duration", fmt.Sprintf("%.0fms", s.MeanDurationMS)},
	)
	if !s.Finished {
		rows = append(rows, [2]string{"Finished", "no"})
	}
	return rows
}

func writeTable(s *RunSummary, w io.Writer) error {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("METRIC", "VALUE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, f := range s.fields() {
		t.Row(f[0], f[1])
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func writeMarkdown(s *RunSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Metric | Value |")
	fmt.Fprintln(w, "|---|---|")
	for _, f := range s.fields() {
		fmt.Fprintf(w, "| %s | %s |\n", f[0], f[1])
	}
	return nil
}

func writeJSON(s *RunSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
