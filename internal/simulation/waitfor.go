package simulation

import "sync"

// CycleDetector tracks which activity each awaiting activity waits for and
// reports wait-for cycles.
//
// An activity waits for at most one other at a time, so the wait-for graph
// is a set of chains; a cycle exists exactly when following the chain from
// a new edge's target leads back to its waiter.
//
// Example cycle:
//
//	A awaits B → B awaits C → C awaits A  ← DEADLOCK
//
// Thread-safe: Can be called concurrently.
type CycleDetector struct {
	mu    sync.Mutex
	edges map[string]string
}

// NewCycleDetector creates an empty detector.
func NewCycleDetector() *CycleDetector {
	return &CycleDetector{edges: make(map[string]string)}
}

// Record notes that waiter awaits target and returns the cycle the edge
// closes, starting at waiter, or nil.
func (c *CycleDetector) Record(waiter, target string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.edges[waiter] = target
	cycle := []string{waiter}
	for n := target; ; {
		if n == waiter {
			return cycle
		}
		next, ok := c.edges[n]
		if !ok || len(cycle) > len(c.edges) {
			return nil
		}
		cycle = append(cycle, n)
		n = next
	}
}

// Clear removes waiter's edge once it wakes.
func (c *CycleDetector) Clear(waiter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.edges, waiter)
}

// Waiting returns the number of recorded edges.
func (c *CycleDetector) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.edges)
}
