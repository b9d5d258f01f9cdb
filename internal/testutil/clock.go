package testutil

import (
	"fmt"
	"sync"
)

// RunSequence hands out run ids and store sequence numbers for tests.
//
// Production runs get UUIDv7 ids and their seq from the store. Tests need
// both to be fixed so stored results and golden files are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RunSequence struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewRunSequence creates a sequence whose ids look like "<prefix>-0001".
// An empty prefix defaults to "test-run". The first Next returns seq 1.
func NewRunSequence(prefix string) *RunSequence {
	if prefix == "" {
		prefix = "test-run"
	}
	return &RunSequence{prefix: prefix}
}

// Next returns the next run id and its seq.
func (r *RunSequence) Next() (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return fmt.Sprintf("%s-%04d", r.prefix, r.seq), r.seq
}

// Current returns the last seq handed out, 0 if none.
func (r *RunSequence) Current() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Reset starts the sequence over, so the same scenario can run twice with
// identical ids.
func (r *RunSequence) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = 0
}
