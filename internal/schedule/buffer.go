package schedule

import (
	"log"
	"sync"
)

// FlushBuffer collects results and writes them out in batches. When a
// flush fails the batch goes to the failure handler (the vacancy pass
// journals it) instead of being retried inline, so workers keep moving
// during a database outage.
type FlushBuffer[R any] struct {
	every   int
	flush   func([]R) error
	onFail  func([]R)
	mu      sync.Mutex
	buf     []R
	flushed int
	lost    int
}

func NewFlushBuffer[R any](every int, flush func([]R) error, onFail func([]R)) *FlushBuffer[R] {
	if every <= 0 {
		every = 50
	}
	return &FlushBuffer[R]{every: every, flush: flush, onFail: onFail}
}

// Add buffers one result and flushes when the threshold is reached.
func (b *FlushBuffer[R]) Add(r R) {
	b.mu.Lock()
	b.buf = append(b.buf, r)
	var batch []R
	if len(b.buf) >= b.every {
		batch = b.buf
		b.buf = nil
	}
	b.mu.Unlock()

	if batch != nil {
		b.write(batch)
	}
}

// Final flushes whatever remains.
func (b *FlushBuffer[R]) Final() {
	b.mu.Lock()
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()

	if len(batch) > 0 {
		b.write(batch)
	}
}

// Flushed is how many results reached the flush function successfully.
func (b *FlushBuffer[R]) Flushed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed
}

// Lost is how many results failed to flush and went to the failure
// handler instead.
func (b *FlushBuffer[R]) Lost() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

func (b *FlushBuffer[R]) write(batch []R) {
	if err := b.flush(batch); err != nil {
		log.Printf("[Flush] batch of %d failed: %v", len(batch), err)
		b.mu.Lock()
		b.lost += len(batch)
		b.mu.Unlock()
		if b.onFail != nil {
			b.onFail(batch)
		}
		return
	}
	b.mu.Lock()
	b.flushed += len(batch)
	b.mu.Unlock()
}
