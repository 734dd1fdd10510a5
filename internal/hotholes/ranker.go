// Package hotholes keeps the top-K posts by hotness.
package hotholes

import (
	"sort"
	"sync"
)

// DefaultCapacity is the number of holes kept when none is configured.
const DefaultCapacity = 5

// Hole is a ranked entry.
type Hole struct {
	PID     int64   `json:"pid"`
	Hotness float64 `json:"hotness"`
}

// Ranker is a bounded table ordered by hotness descending. Equal hotness is
// ordered by lower PID first. A full table only admits a newcomer whose
// hotness exceeds the current minimum, so ties keep the incumbent.
//
// The owning loop is the only writer; the mutex lets the inspection endpoint
// read concurrently.
type Ranker struct {
	mu       sync.RWMutex
	capacity int
	holes    []Hole
}

func New(capacity int) *Ranker {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ranker{capacity: capacity, holes: make([]Hole, 0, capacity+1)}
}

// AddHole offers pid with hotness. It is kept when the table has room or when
// it beats the current minimum. A PID already in the table has its score
// replaced. It reports whether pid is in the table afterwards.
func (r *Ranker) AddHole(pid int64, hotness float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.holes {
		if r.holes[i].PID == pid {
			r.holes[i].Hotness = hotness
			r.sortLocked()
			return r.truncateLocked(pid)
		}
	}

	if len(r.holes) >= r.capacity && hotness <= r.holes[len(r.holes)-1].Hotness {
		return false
	}

	r.holes = append(r.holes, Hole{PID: pid, Hotness: hotness})
	r.sortLocked()
	return r.truncateLocked(pid)
}

// Holes returns a copy of the table, hottest first.
func (r *Ranker) Holes() []Hole {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Hole, len(r.holes))
	copy(out, r.holes)
	return out
}

func (r *Ranker) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.holes)
}

func (r *Ranker) sortLocked() {
	sort.Slice(r.holes, func(i, j int) bool {
		if r.holes[i].Hotness != r.holes[j].Hotness {
			return r.holes[i].Hotness > r.holes[j].Hotness
		}
		return r.holes[i].PID < r.holes[j].PID
	})
}

func (r *Ranker) truncateLocked(pid int64) bool {
	if len(r.holes) > r.capacity {
		r.holes = r.holes[:r.capacity]
	}
	for _, h := range r.holes {
		if h.PID == pid {
			return true
		}
	}
	return false
}
