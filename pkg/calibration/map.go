package calibration

import (
	"fmt"
	"sort"
	"strconv"
)

// Policy decides what Mark does with a write that breaks monotonicity.
type Policy string

const (
	// PolicyAccept records the write and returns the anomaly as a warning.
	PolicyAccept Policy = "accept"
	// PolicyReject refuses the write.
	PolicyReject Policy = "reject"
)

// ParsePolicy parses "accept" or "reject". The empty string is PolicyAccept.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAccept:
		return PolicyAccept, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown mark policy %q, expected %q or %q", s, PolicyAccept, PolicyReject)
}

// Entry is one calibrated page. Steps is only meaningful when Defined is
// set.
type Entry struct {
	Page    int   `json:"page"`
	Steps   int64 `json:"steps"`
	Defined bool  `json:"defined"`
}

// Map holds entries ordered by page and the current step position.
type Map struct {
	entries  []Entry
	position int64
	policy   Policy
}

// NewMap returns an empty map at position 0.
func NewMap(policy Policy) *Map {
	if policy == "" {
		policy = PolicyAccept
	}
	return &Map{policy: policy}
}

// Policy returns the mark policy of the map.
func (m *Map) Policy() Policy { return m.policy }

// SetPolicy changes the mark policy. Existing entries are not re-checked.
func (m *Map) SetPolicy(p Policy) { m.policy = p }

// Position is the absolute step position of the transport.
func (m *Map) Position() int64 { return m.position }

// SetPosition sets the absolute step position, as reported by the firmware
// or derived from a move.
func (m *Map) SetPosition(steps int64) { m.position = steps }

// Advance moves the position by a signed number of steps.
func (m *Map) Advance(delta int64) { m.position += delta }

// Entries returns a copy of the entries in page order.
func (m *Map) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Entry returns the entry for page.
func (m *Map) Entry(page int) (Entry, bool) {
	i, ok := m.find(page)
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// DefinedCount is the number of defined entries.
func (m *Map) DefinedCount() int {
	n := 0
	for _, e := range m.entries {
		if e.Defined {
			n++
		}
	}
	return n
}

// find returns the index of page, or the index it would be inserted at.
func (m *Map) find(page int) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Page >= page })
	return i, i < len(m.entries) && m.entries[i].Page == page
}

// Mark records that page starts at steps. Under PolicyAccept a monotonicity
// violation is recorded and returned as a warning with a nil error. Under
// PolicyReject it is returned as the error and the map is unchanged.
func (m *Map) Mark(page int, steps int64) (*ConsistencyError, error) {
	if page < 0 {
		return nil, &RangeError{Op: "mark", Field: "page", Value: int64(page)}
	}
	if steps < 0 {
		return nil, &RangeError{Op: "mark", Field: "steps", Value: steps}
	}

	conflict := m.conflict(page, steps)
	if conflict != nil && m.policy == PolicyReject {
		conflict.Rejected = true
		return nil, conflict
	}

	e := Entry{Page: page, Steps: steps, Defined: true}
	i, ok := m.find(page)
	if ok {
		m.entries[i] = e
	} else {
		m.entries = append(m.entries, Entry{})
		copy(m.entries[i+1:], m.entries[i:])
		m.entries[i] = e
	}

	return conflict, nil
}

// NextPageNumber is the page an unnumbered mark gets: one past the highest
// defined page.
func (m *Map) NextPageNumber() int {
	page := 1
	for _, e := range m.entries {
		if e.Defined && e.Page >= page {
			page = e.Page + 1
		}
	}
	return page
}

// Clone returns an independent copy of the map.
func (m *Map) Clone() *Map {
	return &Map{
		entries:  append([]Entry(nil), m.entries...),
		position: m.position,
		policy:   m.policy,
	}
}

// MarkCurrent marks page at the current position.
func (m *Map) MarkCurrent(page int) (*ConsistencyError, error) {
	return m.Mark(page, m.position)
}

// conflict returns the first defined neighbour that page at steps would be
// out of order with.
func (m *Map) conflict(page int, steps int64) *ConsistencyError {
	for _, e := range m.entries {
		if !e.Defined || e.Page == page {
			continue
		}
		if (e.Page < page && e.Steps > steps) || (e.Page > page && e.Steps < steps) {
			return &ConsistencyError{Page: page, Steps: steps, NeighborPage: e.Page, NeighborSteps: e.Steps}
		}
	}
	return nil
}

// Check returns every adjacent pair of defined entries that is out of
// order.
func (m *Map) Check() []*ConsistencyError {
	var out []*ConsistencyError
	var prev *Entry
	for i := range m.entries {
		e := &m.entries[i]
		if !e.Defined {
			continue
		}
		if prev != nil && e.Steps < prev.Steps {
			out = append(out, &ConsistencyError{Page: e.Page, Steps: e.Steps, NeighborPage: prev.Page, NeighborSteps: prev.Steps})
		}
		prev = e
	}
	return out
}

// CurrentPage is the largest defined page whose steps do not exceed the
// current position, or 0 when there is none.
func (m *Map) CurrentPage() int {
	page := 0
	for _, e := range m.entries {
		if e.Defined && e.Steps <= m.position && e.Page > page {
			page = e.Page
		}
	}
	return page
}

// GotoDelta is the page delta that brings the transport from the current
// page to target.
func (m *Map) GotoDelta(target int) (int, error) {
	if target < 0 {
		return 0, &RangeError{Op: "goto", Field: "page", Value: int64(target)}
	}
	return target - m.CurrentPage(), nil
}

// Next is the page delta of a single page forward.
func (m *Map) Next() int { return 1 }

// Prev is the page delta of a single page backward.
func (m *Map) Prev() int { return -1 }

// StepsTo returns the signed step delta from the current position to the
// start of page. ok is false when page is not defined.
func (m *Map) StepsTo(page int) (delta int64, ok bool) {
	e, found := m.Entry(page)
	if !found || !e.Defined {
		return 0, false
	}
	return e.Steps - m.position, true
}

// Reset returns the position to 0 and keeps every entry.
func (m *Map) Reset() { m.position = 0 }

// Clear removes every entry. The position is kept.
func (m *Map) Clear() { m.entries = nil }

// PageLength is the number of steps between page n-1 and page n. ok is false
// when either of them is not defined.
func (m *Map) PageLength(n int) (steps int64, ok bool) {
	cur, found := m.Entry(n)
	if !found || !cur.Defined {
		return 0, false
	}
	prev, found := m.Entry(n - 1)
	if !found || !prev.Defined {
		return 0, false
	}
	return cur.Steps - prev.Steps, true
}

// FormatPageLength renders PageLength, using "-" when it is undefined.
func (m *Map) FormatPageLength(n int) string {
	l, ok := m.PageLength(n)
	if !ok {
		return "-"
	}
	return strconv.FormatInt(l, 10)
}
