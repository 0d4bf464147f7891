package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/keystone-reo/distress-scanner/internal/domain"
)

// PoolOptions configures a fan-out worker pool run.
type PoolOptions struct {
	Workers    int
	FlushEvery int
	Checkpoint *Checkpoint // optional
	Progress   *Progress   // optional
}

// Summary is the outcome of a pool run.
type Summary struct {
	Total       int
	Processed   int
	Flushed     int
	Lost        int
	Elapsed     time.Duration
	Interrupted bool
	Aborted     bool
}

// RunPool fans parcels out to Workers goroutines and batches the results
// through a FlushBuffer. work returns (result, keep); keep=false drops the
// row (hard skip, result already logged by the pass). Cancel the context
// to stop: in-flight parcels finish, the buffer flushes, and Interrupted
// is set so the command can exit accordingly.
func RunPool[R any](ctx context.Context, opts PoolOptions, parcels []domain.Parcel,
	work func(context.Context, domain.Parcel) (R, bool),
	flush func([]R) error) Summary {

	start := time.Now()
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	buffer := NewFlushBuffer(opts.FlushEvery, flush, nil)

	jobs := make(chan domain.Parcel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				result, keep := work(ctx, p)
				if keep {
					buffer.Add(result)
				}

				mu.Lock()
				processed++
				done := processed
				mu.Unlock()

				if opts.Progress != nil {
					opts.Progress.Incr()
				}
				if opts.Checkpoint != nil && opts.FlushEvery > 0 && done%opts.FlushEvery == 0 {
					opts.Checkpoint.Save(map[string]int{
						"processed": done,
						"flushed":   buffer.Flushed(),
					}, len(parcels))
				}
			}
		}()
	}

feed:
	for _, p := range parcels {
		select {
		case jobs <- p:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	buffer.Final()

	return Summary{
		Total:       len(parcels),
		Processed:   processed,
		Flushed:     buffer.Flushed(),
		Lost:        buffer.Lost(),
		Elapsed:     time.Since(start),
		Interrupted: ctx.Err() != nil,
	}
}
