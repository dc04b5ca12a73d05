package seeddb

import (
	"iter"

	"github.com/seednet/seednet/internal/domain"
)

// Step tags the outcome of Rotation.Next.
type Step int

const (
	// StepValue means a peer was returned.
	StepValue Step = iota
	// StepExhausted means every member has been visited.
	StepExhausted
	// StepReset means the partition turned out to be unreadable and was
	// cleared; the rotation is over.
	StepReset
)

// String returns the step name.
func (s Step) String() string {
	switch s {
	case StepValue:
		return "value"
	case StepExhausted:
		return "exhausted"
	case StepReset:
		return "reset"
	}
	return "unknown"
}

// Rotation visits the members of one partition in id order, starting at the
// first id >= the start id and wrapping around, and stops after as many
// visits as the partition had members when the rotation was created. Each
// id is visited at most once. Members whose version is below the minimum are
// skipped, except version 0 which marks peers of unknown version.
//
// The id list is captured at construction; records are read when visited,
// so a member removed in the meantime is skipped and a member changed in the
// meantime is returned in its current state.
type Rotation struct {
	dir        *Directory
	part       Partition
	keys       []domain.ID
	start      int // index of the first visited key
	pos        int // visits done so far
	remaining  int
	minVersion float64
	reset      bool
}

// Next advances the rotation.
func (r *Rotation) Next() (*domain.Peer, Step) {
	if r.reset {
		return nil, StepReset
	}
	for r.remaining > 0 {
		id := r.keys[(r.start+r.pos)%len(r.keys)]
		r.pos++
		r.remaining--

		r.dir.mu.RLock()
		p, err := r.dir.tables[r.part].Get(id)
		r.dir.mu.RUnlock()
		if err != nil {
			r.dir.recover(r.part, err)
			r.reset = true
			r.remaining = 0
			return nil, StepReset
		}
		if p == nil {
			continue
		}
		if p.Version != 0 && p.Version < r.minVersion {
			continue
		}
		return p, StepValue
	}
	return nil, StepExhausted
}

// Remaining returns how many members are left to visit.
func (r *Rotation) Remaining() int { return r.remaining }

// Len returns the number of members the rotation visits in total.
func (r *Rotation) Len() int { return len(r.keys) }

// Peers adapts the rotation to a range-over-func sequence.
func (r *Rotation) Peers() iter.Seq[*domain.Peer] {
	return func(yield func(*domain.Peer) bool) {
		for {
			p, step := r.Next()
			if step != StepValue {
				return
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Collect drains the rotation into a slice.
func (r *Rotation) Collect() []*domain.Peer {
	var out []*domain.Peer
	for p := range r.Peers() {
		out = append(out, p)
	}
	return out
}
