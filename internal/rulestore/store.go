// Package rulestore holds the ordered rule list and evaluates packet
// descriptors against it with first-match-wins semantics.
//
// Store is not safe for concurrent use. Callers serialize writers and keep
// readers out while a write is in progress (see internal/filter).
package rulestore

import (
	"errors"
	"fmt"
	"iter"

	"github.com/plexsphere/myfw/internal/rule"
)

var (
	// ErrStoreFull is returned when an insertion would exceed the store capacity.
	ErrStoreFull = errors.New("rulestore: store is full")

	// ErrIndexOutOfRange is returned by DeleteAt for a position past the end.
	ErrIndexOutOfRange = errors.New("rulestore: index out of range")
)

// nilIndex marks the absence of a neighbour.
const nilIndex = -1

type node struct {
	rule rule.Rule
	prev int
	next int
}

// Store is an ordered rule list plus a default verdict. Nodes live in an
// arena and link to each other by index, so insertion at either end is O(1)
// and unlinking the head or tail never leaves a dangling reference.
type Store struct {
	nodes []node
	free  []int
	head  int
	tail  int
	count int
	limit int

	defaultVerdict rule.Verdict
}

// New returns an empty store with a Permit default. limit bounds the number of
// rules; zero or negative means unbounded.
func New(limit int) *Store {
	s := &Store{limit: limit}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.nodes = nil
	s.free = nil
	s.head = nilIndex
	s.tail = nilIndex
	s.count = 0
	s.defaultVerdict = rule.Permit
}

// Len returns the number of stored rules.
func (s *Store) Len() int { return s.count }

// Cap returns the configured capacity, or zero when unbounded.
func (s *Store) Cap() int {
	if s.limit <= 0 {
		return 0
	}
	return s.limit
}

// DefaultVerdict returns the verdict applied when no rule matches.
func (s *Store) DefaultVerdict() rule.Verdict { return s.defaultVerdict }

// SetDefaultVerdict changes the fallback verdict.
func (s *Store) SetDefaultVerdict(v rule.Verdict) { s.defaultVerdict = v }

// alloc reserves an arena slot for r without linking it.
func (s *Store) alloc(r rule.Rule) (int, error) {
	if s.limit > 0 && s.count >= s.limit {
		return nilIndex, fmt.Errorf("%w (capacity %d)", ErrStoreFull, s.limit)
	}
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.nodes[idx] = node{rule: r, prev: nilIndex, next: nilIndex}
		return idx, nil
	}
	s.nodes = append(s.nodes, node{rule: r, prev: nilIndex, next: nilIndex})
	return len(s.nodes) - 1, nil
}

// InsertFront adds r with the highest precedence.
func (s *Store) InsertFront(r rule.Rule) error {
	idx, err := s.alloc(r)
	if err != nil {
		return err
	}
	s.nodes[idx].next = s.head
	if s.head != nilIndex {
		s.nodes[s.head].prev = idx
	} else {
		s.tail = idx
	}
	s.head = idx
	s.count++
	return nil
}

// AppendTail adds r with the lowest precedence, just above the default.
func (s *Store) AppendTail(r rule.Rule) error {
	idx, err := s.alloc(r)
	if err != nil {
		return err
	}
	s.nodes[idx].prev = s.tail
	if s.tail != nilIndex {
		s.nodes[s.tail].next = idx
	} else {
		s.head = idx
	}
	s.tail = idx
	s.count++
	return nil
}

// unlink detaches idx, fixes head and tail, and returns the slot to the
// free list. It returns the successor of idx.
func (s *Store) unlink(idx int) int {
	n := s.nodes[idx]
	if n.prev != nilIndex {
		s.nodes[n.prev].next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nilIndex {
		s.nodes[n.next].prev = n.prev
	} else {
		s.tail = n.prev
	}
	s.nodes[idx] = node{prev: nilIndex, next: nilIndex}
	s.free = append(s.free, idx)
	s.count--
	return n.next
}

// DeleteMatching removes every rule that pattern matches and returns how
// many were removed. Survivors keep their relative order.
func (s *Store) DeleteMatching(pattern rule.Rule) int {
	removed := 0
	for idx := s.head; idx != nilIndex; {
		if rule.Matches(pattern, s.nodes[idx].rule) {
			idx = s.unlink(idx)
			removed++
			continue
		}
		idx = s.nodes[idx].next
	}
	if s.count == 0 {
		s.nodes = nil
		s.free = nil
	}
	return removed
}

// DeleteAt removes the rule at the 0-based traversal position i.
func (s *Store) DeleteAt(i int) (rule.Rule, error) {
	if i < 0 || i >= s.count {
		return rule.Rule{}, fmt.Errorf("%w: %d (have %d rules)", ErrIndexOutOfRange, i, s.count)
	}
	idx := s.head
	for ; i > 0; i-- {
		idx = s.nodes[idx].next
	}
	r := s.nodes[idx].rule
	s.unlink(idx)
	return r, nil
}

// Clear drops every rule and restores the initial state, including the
// Permit default.
func (s *Store) Clear() {
	s.reset()
}

// All yields position and rule in evaluation order. The store must not be
// mutated during iteration.
func (s *Store) All() iter.Seq2[int, rule.Rule] {
	return func(yield func(int, rule.Rule) bool) {
		pos := 0
		for idx := s.head; idx != nilIndex; idx = s.nodes[idx].next {
			if !yield(pos, s.nodes[idx].rule) {
				return
			}
			pos++
		}
	}
}

// Rules returns a copy of the rules in evaluation order.
func (s *Store) Rules() []rule.Rule {
	out := make([]rule.Rule, 0, s.count)
	for _, r := range s.All() {
		out = append(out, r)
	}
	return out
}
