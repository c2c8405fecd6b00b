package utxo

import (
	"bytes"
	"sort"

	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// EntrySet is a mutable collection of entry references kept sorted in
// ascending amount order, with the outpoint as a deterministic tie-breaker.
// Generators consume entries smallest-first so dust gets compounded away.
type EntrySet struct {
	entries []*EntryReference
	index   map[types.Outpoint]*EntryReference
}

// NewEntrySet creates an empty set.
func NewEntrySet() *EntrySet {
	return &EntrySet{index: make(map[types.Outpoint]*EntryReference)}
}

// NewEntrySetOf creates a set holding the given references.
func NewEntrySetOf(refs []*EntryReference) *EntrySet {
	s := NewEntrySet()
	for _, ref := range refs {
		s.Insert(ref)
	}
	return s
}

// entryLess orders by amount, then by outpoint.
func entryLess(a, b *EntryReference) bool {
	if a.Entry.Amount != b.Entry.Amount {
		return a.Entry.Amount < b.Entry.Amount
	}
	if c := bytes.Compare(a.Outpoint.TxID[:], b.Outpoint.TxID[:]); c != 0 {
		return c < 0
	}
	return a.Outpoint.Index < b.Outpoint.Index
}

// Insert adds a reference at its sorted position. Inserting an outpoint the
// set already holds is a no-op and returns false.
func (s *EntrySet) Insert(ref *EntryReference) bool {
	if _, ok := s.index[ref.Outpoint]; ok {
		return false
	}
	pos := sort.Search(len(s.entries), func(i int) bool {
		return !entryLess(s.entries[i], ref)
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = ref
	s.index[ref.Outpoint] = ref
	return true
}

// Remove deletes the entry with the given outpoint and returns it, or nil
// if the set does not hold it.
func (s *EntrySet) Remove(outpoint types.Outpoint) *EntryReference {
	ref, ok := s.index[outpoint]
	if !ok {
		return nil
	}
	delete(s.index, outpoint)
	for i, e := range s.entries {
		if e == ref {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	return ref
}

// Get returns the entry with the given outpoint, or nil.
func (s *EntrySet) Get(outpoint types.Outpoint) *EntryReference {
	return s.index[outpoint]
}

// Contains reports whether the set holds the outpoint.
func (s *EntrySet) Contains(outpoint types.Outpoint) bool {
	_, ok := s.index[outpoint]
	return ok
}

// Len returns the number of entries.
func (s *EntrySet) Len() int {
	return len(s.entries)
}

// At returns the i-th entry in ascending amount order.
func (s *EntrySet) At(i int) *EntryReference {
	return s.entries[i]
}

// TotalAmount sums all entry amounts.
func (s *EntrySet) TotalAmount() uint64 {
	var total uint64
	for _, ref := range s.entries {
		total += ref.Entry.Amount
	}
	return total
}

// Snapshot returns the entries in ascending amount order. The returned slice
// is a copy; the references are shared.
func (s *EntrySet) Snapshot() []*EntryReference {
	out := make([]*EntryReference, len(s.entries))
	copy(out, s.entries)
	return out
}

// Range returns entries [from, to) in ascending amount order, clamped to the
// set bounds.
func (s *EntrySet) Range(from, to int) []*EntryReference {
	if from < 0 {
		from = 0
	}
	if to > len(s.entries) {
		to = len(s.entries)
	}
	if from >= to {
		return nil
	}
	out := make([]*EntryReference, to-from)
	copy(out, s.entries[from:to])
	return out
}
