package runner

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/signalnine/recipeforge/internal/result"
	"go.uber.org/zap"
)

// Progress counts finished trials by status and reports every step
// completions.
type Progress struct {
	total int
	step  int
	start time.Time
	out   io.Writer
	log   *zap.Logger

	mu       sync.Mutex
	done     int
	byStatus map[string]int
}

func NewProgress(total int, out io.Writer, log *zap.Logger) *Progress {
	step := total / 20
	if step < 1 {
		step = 1
	}
	return &Progress{
		total:    total,
		step:     step,
		start:    time.Now(),
		out:      out,
		log:      log,
		byStatus: make(map[string]int),
	}
}

// Done records one finished trial. Progress lines are written under the
// lock so they reach out whole and in order.
func (p *Progress) Done(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.byStatus[status]++
	if p.done%p.step != 0 && p.done != p.total {
		return
	}

	failed := p.failedLocked()
	elapsed := time.Since(p.start)
	p.log.Info("progress",
		zap.Int("done", p.done),
		zap.Int("total", p.total),
		zap.Int("failed", failed),
		zap.Duration("elapsed", elapsed))
	if p.out != nil {
		fmt.Fprintf(p.out, "Processed %d/%d trials (%d failed, %s elapsed)\n",
			p.done, p.total, failed, elapsed.Round(time.Second))
	}
}

// Counts returns a copy of the per-status counts.
func (p *Progress) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.byStatus))
	for k, v := range p.byStatus {
		out[k] = v
	}
	return out
}

func (p *Progress) failedLocked() int {
	n := 0
	for status, c := range p.byStatus {
		if result.Failed(status) {
			n += c
		}
	}
	return n
}
