// Package activity decides when a thread has stopped growing and can be
// retired from comment polling.
package activity

// Decision is the outcome of a single observation.
type Decision int

const (
	StillActive Decision = iota
	JustRetired
	AlreadyRetired
)

func (d Decision) String() string {
	switch d {
	case StillActive:
		return "active"
	case JustRetired:
		return "just_retired"
	case AlreadyRetired:
		return "already_retired"
	default:
		return "unknown"
	}
}

type record struct {
	lastSeenReplyCount int
	stagnantCycles     int
}

// Tracker holds per-post activity records. It is owned by a single loop and
// is not safe for concurrent use.
type Tracker struct {
	maxStagnantCycles int
	active            map[int64]*record
	// retired remembers the reply count a post had when it was retired, so the
	// same unchanged thread is not reported twice while it stays on the pages.
	retired map[int64]int
}

// New returns a Tracker that retires a post after maxStagnantCycles
// observations without reply growth. Values below 1 are treated as 1.
func New(maxStagnantCycles int) *Tracker {
	if maxStagnantCycles < 1 {
		maxStagnantCycles = 1
	}
	return &Tracker{
		maxStagnantCycles: maxStagnantCycles,
		active:            make(map[int64]*record),
		retired:           make(map[int64]int),
	}
}

// Observe records replyCount for pid and returns the resulting decision.
//
// Growth resets the stagnation counter; an unchanged or lower count
// increments it. When the counter reaches the threshold the entry is removed
// and JustRetired is returned exactly once. A retired post observed again
// without growth yields AlreadyRetired; with growth it starts over as a fresh
// active entry.
func (t *Tracker) Observe(pid int64, replyCount int) Decision {
	if last, ok := t.retired[pid]; ok {
		if replyCount <= last {
			return AlreadyRetired
		}
		delete(t.retired, pid)
	}

	rec, ok := t.active[pid]
	if !ok {
		rec = &record{}
		t.active[pid] = rec
	}

	if replyCount > rec.lastSeenReplyCount {
		rec.stagnantCycles = 0
	} else {
		rec.stagnantCycles++
	}
	rec.lastSeenReplyCount = replyCount

	if rec.stagnantCycles >= t.maxStagnantCycles {
		delete(t.active, pid)
		t.retired[pid] = replyCount
		return JustRetired
	}
	return StillActive
}

// Forget drops every trace of pid.
func (t *Tracker) Forget(pid int64) {
	delete(t.active, pid)
	delete(t.retired, pid)
}

// Prune drops retired entries whose pid keep rejects. Active records are
// left alone.
func (t *Tracker) Prune(keep func(pid int64) bool) {
	for pid := range t.retired {
		if !keep(pid) {
			delete(t.retired, pid)
		}
	}
}

// Retired reports the number of retired posts still remembered.
func (t *Tracker) Retired() int {
	return len(t.retired)
}

// Active reports the number of posts currently tracked as active.
func (t *Tracker) Active() int {
	return len(t.active)
}

// IsActive reports whether pid has a live activity record.
func (t *Tracker) IsActive(pid int64) bool {
	_, ok := t.active[pid]
	return ok
}
