package s4pp

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// Dictionary is the session-scoped tag→index table: entries emitted in
// one sequence stay valid for later sequences on the same connection,
// and a new upload session starts with an empty dictionary.
type Dictionary struct {
	index  map[string]int
	filter *bloom.BloomFilter
	next   int
}

// NewDictionary allocates an empty dictionary sized for an expected
// number of distinct metric names.
func NewDictionary(expectedNames int) *Dictionary {
	if expectedNames < 8 {
		expectedNames = 8
	}
	return &Dictionary{
		index:  make(map[string]int),
		filter: bloom.NewWithEstimates(uint(expectedNames), 0.01),
	}
}

// Lookup returns the dictionary index for name and whether it was already
// present. The Bloom filter is consulted first as a fast
// definitely-new/probably-seen pre-check ahead of the map lookup, the
// same shape a sorted-string-table writer uses a Bloom filter for before
// a full block scan.
func (d *Dictionary) Lookup(name string) (idx int, known bool) {
	if d.filter.TestString(name) {
		if idx, ok := d.index[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

// Intern assigns the next free index to name, which Lookup must have
// already reported as unknown.
func (d *Dictionary) Intern(name string) int {
	idx := d.next
	d.next++
	d.index[name] = idx
	d.filter.AddString(name)
	return idx
}

// Reset clears the dictionary back to empty, for a fresh session.
func (d *Dictionary) Reset() {
	d.index = make(map[string]int)
	d.filter.ClearAll()
	d.next = 0
}
