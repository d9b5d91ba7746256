package permitwatch

import (
	"sort"
	"strings"
	"time"
)

// Label identifies one unit of availability, such as a calendar date
// ("07/16"), an ISO date ("2025-07-16"), or a departure time ("3:30 PM").
//
// Labels are compared by exact string equality. A [Source] must render the
// same real-world slot identically on every poll, otherwise it is treated
// as new.
type Label string

// String returns the label text.
func (l Label) String() string {
	return string(l)
}

// ActionHandle is an opaque reference to the page element or API token that
// acts on a label (for example the XPath of a calendar cell).
//
// Handles are only valid within the [Snapshot] that produced them and must
// not be kept across polls.
type ActionHandle string

// Snapshot is the set of labels returned by one [Source.Fetch].
//
// Handles is optional. Sources that support automated booking fill it with
// one [ActionHandle] per bookable label.
type Snapshot struct {
	Labels  []Label
	Handles map[Label]ActionHandle
}

// NewSnapshot builds a [Snapshot] without action handles.
func NewSnapshot(labels ...Label) Snapshot {
	return Snapshot{Labels: labels}
}

// Set returns the snapshot's labels as a [LabelSet], dropping duplicates.
func (s Snapshot) Set() LabelSet {
	set := make(LabelSet, len(s.Labels))
	for _, l := range s.Labels {
		set[l] = struct{}{}
	}
	return set
}

// Has reports whether the snapshot contains l.
func (s Snapshot) Has(l Label) bool {
	for _, got := range s.Labels {
		if got == l {
			return true
		}
	}
	return false
}

// Handle returns the action handle for l, if the source supplied one.
func (s Snapshot) Handle(l Label) (ActionHandle, bool) {
	h, ok := s.Handles[l]
	return h, ok && h != ""
}

// Len returns the number of distinct labels in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Set())
}

// LabelSet is an unordered set of labels.
type LabelSet map[Label]struct{}

// NewLabelSet returns a set containing labels.
func NewLabelSet(labels ...Label) LabelSet {
	set := make(LabelSet, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

// Has reports whether l is in the set.
func (s LabelSet) Has(l Label) bool {
	_, ok := s[l]
	return ok
}

// Clone returns a copy of the set. A nil set clones to an empty one.
func (s LabelSet) Clone() LabelSet {
	cp := make(LabelSet, len(s))
	for l := range s {
		cp[l] = struct{}{}
	}
	return cp
}

// Sorted returns the labels in display order relative to ref.
// See [SortLabels].
func (s LabelSet) Sorted(ref time.Time) []Label {
	out := make([]Label, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	SortLabels(out, ref)
	return out
}

// label layouts recognised for chronological ordering
const (
	isoDateLayout   = "2006-01-02"
	monthDayLayout  = "1/2"
	clockTimeLayout = "3:04 PM"
)

// SortLabels orders labels chronologically where they can be parsed and
// lexicographically otherwise.
//
// Recognised forms are ISO dates, month/day dates ("07/16" or "7/16") and
// 12-hour clock times ("3:30 PM"). Month/day labels carry no year, so they
// are anchored to ref: a date earlier than the day before ref is taken to be
// in the following year, which keeps "12/31" ahead of "01/01" when polling
// in late December. Labels that parse sort before labels that don't.
func SortLabels(labels []Label, ref time.Time) {
	type key struct {
		t      time.Time
		parsed bool
	}
	keys := make(map[Label]key, len(labels))
	for _, l := range labels {
		t, ok := labelTime(l, ref)
		keys[l] = key{t: t, parsed: ok}
	}

	sort.SliceStable(labels, func(i, j int) bool {
		a, b := keys[labels[i]], keys[labels[j]]
		switch {
		case a.parsed && b.parsed:
			if !a.t.Equal(b.t) {
				return a.t.Before(b.t)
			}
		case a.parsed != b.parsed:
			return a.parsed
		}
		return labels[i] < labels[j]
	})
}

// labelTime parses l into a sortable instant.
func labelTime(l Label, ref time.Time) (time.Time, bool) {
	s := strings.TrimSpace(string(l))

	if t, err := time.Parse(isoDateLayout, s); err == nil {
		return t, true
	}

	if t, err := time.Parse(monthDayLayout, s); err == nil {
		refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
		d := time.Date(ref.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if d.Before(refDay.AddDate(0, 0, -1)) {
			d = d.AddDate(1, 0, 0)
		}
		return d, true
	}

	if t, err := time.Parse(clockTimeLayout, strings.ToUpper(s)); err == nil {
		return t, true
	}

	return time.Time{}, false
}
