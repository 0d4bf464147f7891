package schedule

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/keystone-reo/distress-scanner/internal/domain"
)

// Circuit breaker thresholds per consumer. Ten consecutive errors usually
// means the credential is throttled or revoked: pause and let the quota
// window roll. Twenty means the whole run is wasting parcels: abort.
const (
	breakerPauseAfter = 10
	breakerAbortAfter = 20
	breakerPause      = 5 * time.Minute
)

// ErrAborted reports that a consumer tripped the abort threshold and the
// run was stopped.
var ErrAborted = errors.New("aborted after consecutive consumer errors")

// ConsumerOptions configures a per-credential consumer run.
type ConsumerOptions struct {
	FlushEvery int
	Checkpoint *Checkpoint // optional
	Progress   *Progress   // optional

	sleep func(context.Context, time.Duration) // test hook
}

// ConsumerFunc processes one parcel on behalf of one credential. keep
// controls buffering; errored feeds that consumer's circuit breaker.
type ConsumerFunc[R any] func(context.Context, domain.Parcel) (result R, keep bool, errored bool)

// RunConsumers runs one goroutine per credential, all pulling from a
// shared parcel queue. Unlike RunPool the parallelism here is bounded by
// credentials, not CPU: each consumer is paced by its own governor and
// trips its own circuit breaker.
func RunConsumers[R any](ctx context.Context, opts ConsumerOptions, parcels []domain.Parcel,
	consumers []ConsumerFunc[R],
	flush func([]R) error, onFlushFailure func([]R)) (Summary, error) {

	start := time.Now()
	buffer := NewFlushBuffer(opts.FlushEvery, flush, onFlushFailure)
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepInterruptible
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan domain.Parcel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0
	aborted := false

	for i, consume := range consumers {
		wg.Add(1)
		go func(id int, consume ConsumerFunc[R]) {
			defer wg.Done()
			consecutive := 0
			for p := range jobs {
				if runCtx.Err() != nil {
					continue // drain without processing
				}

				result, keep, errored := consume(runCtx, p)
				if keep {
					buffer.Add(result)
				}
				if errored {
					consecutive++
				} else {
					consecutive = 0
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

				if consecutive >= breakerAbortAfter {
					log.Printf("[Consumer %d] %d consecutive errors, aborting run", id, consecutive)
					mu.Lock()
					aborted = true
					mu.Unlock()
					cancel()
					continue
				}
				if consecutive >= breakerPauseAfter {
					log.Printf("[Consumer %d] %d consecutive errors, pausing %s", id, consecutive, breakerPause)
					sleep(runCtx, breakerPause)
					consecutive = 0
				}
			}
		}(i+1, consume)
	}

feed:
	for _, p := range parcels {
		select {
		case jobs <- p:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	buffer.Final()

	summary := Summary{
		Total:       len(parcels),
		Processed:   processed,
		Flushed:     buffer.Flushed(),
		Lost:        buffer.Lost(),
		Elapsed:     time.Since(start),
		Interrupted: ctx.Err() != nil,
		Aborted:     aborted,
	}
	if aborted {
		return summary, ErrAborted
	}
	return summary, nil
}

func sleepInterruptible(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
