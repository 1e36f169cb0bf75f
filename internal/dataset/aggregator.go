package dataset

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Aggregator buffers rows per worker and flushes a worker's buffer into the
// Sink once it reaches the threshold.
//
// Two locks are involved. mu guards buffer membership for every worker and
// is never held across file I/O. The Sink's own mutex is taken only while a
// non-empty batch is written. A batch that fails to write goes back to the
// head of its worker's buffer, so every accepted row is either in the file or
// in exactly one buffer.
type Aggregator struct {
	sink      *Sink
	threshold int

	mu       sync.Mutex
	buffers  map[int][]Row
	accepted int
}

func NewAggregator(sink *Sink, threshold int) *Aggregator {
	if threshold < 1 {
		threshold = 1
	}
	return &Aggregator{
		sink:      sink,
		threshold: threshold,
		buffers:   make(map[int][]Row),
	}
}

// Add accepts row on behalf of worker, flushing that worker's buffer if it
// is full. An error means the flush failed; the rows stay buffered.
func (a *Aggregator) Add(worker int, row Row) error {
	if len(row) != a.sink.Width() {
		return fmt.Errorf("row has %d fields, want %d", len(row), a.sink.Width())
	}

	a.mu.Lock()
	a.buffers[worker] = append(a.buffers[worker], row)
	a.accepted++
	var batch []Row
	if len(a.buffers[worker]) >= a.threshold {
		batch = a.buffers[worker]
		a.buffers[worker] = nil
	}
	a.mu.Unlock()

	if batch == nil {
		return nil
	}
	return a.write(worker, batch)
}

// Flush writes whatever worker has buffered.
func (a *Aggregator) Flush(worker int) error {
	a.mu.Lock()
	batch := a.buffers[worker]
	a.buffers[worker] = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return a.write(worker, batch)
}

// FlushAll flushes every worker's buffer. Call it once all workers are done.
func (a *Aggregator) FlushAll() error {
	a.mu.Lock()
	workers := make([]int, 0, len(a.buffers))
	for w, buf := range a.buffers {
		if len(buf) > 0 {
			workers = append(workers, w)
		}
	}
	a.mu.Unlock()
	sort.Ints(workers)

	var errs []error
	for _, w := range workers {
		if err := a.Flush(w); err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w, err))
		}
	}
	return errors.Join(errs...)
}

// Accepted is the number of rows passed to Add.
func (a *Aggregator) Accepted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepted
}

// Pending is the number of rows buffered and not yet written.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, buf := range a.buffers {
		n += len(buf)
	}
	return n
}

func (a *Aggregator) write(worker int, batch []Row) error {
	if err := a.sink.Append(batch); err != nil {
		a.mu.Lock()
		a.buffers[worker] = append(batch, a.buffers[worker]...)
		a.mu.Unlock()
		return err
	}
	return nil
}
