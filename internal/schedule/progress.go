package schedule

import (
	"log"
	"sync"
	"time"
)

// Progress logs throughput and ETA as a pass runs.
type Progress struct {
	total int
	every int
	start time.Time
	now   func() time.Time

	mu   sync.Mutex
	done int
}

// NewProgress reports every `every` completions (and at the end).
func NewProgress(total, every int) *Progress {
	if every <= 0 {
		every = 10
	}
	return &Progress{total: total, every: every, start: time.Now(), now: time.Now}
}

// Incr records one completed parcel and logs at the reporting interval.
func (p *Progress) Incr() {
	p.mu.Lock()
	p.done++
	done := p.done
	p.mu.Unlock()

	if done%p.every != 0 && done != p.total {
		return
	}

	elapsed := p.now().Sub(p.start)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	ratePerHour := float64(done) / elapsed.Hours()
	var eta time.Duration
	if done > 0 {
		eta = time.Duration(float64(p.total-done) / float64(done) * float64(elapsed))
	}
	log.Printf("[Progress] %d/%d (%.1f%%) | %.0f/hr | ETA %s",
		done, p.total, float64(done)/float64(p.total)*100, ratePerHour, eta.Round(time.Second))
}

// Done reports how many parcels have completed.
func (p *Progress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Elapsed is time since the pass started.
func (p *Progress) Elapsed() time.Duration {
	return p.now().Sub(p.start)
}
