package permitwatch

import (
	"fmt"
	"strings"
	"time"
)

// Delta splits a [Snapshot] into labels never notified on before and labels
// that were already part of an earlier notification. Both are in display
// order (see [SortLabels]).
type Delta struct {
	New     []Label
	Already []Label
}

// Empty reports whether the delta has nothing new to notify on.
func (d Delta) Empty() bool {
	return len(d.New) == 0
}

// Notification is a message ready for a [Notifier].
type Notification struct {
	Subject string
	Body    string
	Labels  []Label
}

// Diff computes the delta of snap against notified without modifying either.
func Diff(notified LabelSet, snap Snapshot, ref time.Time) Delta {
	var d Delta
	for l := range snap.Set() {
		if notified.Has(l) {
			d.Already = append(d.Already, l)
		} else {
			d.New = append(d.New, l)
		}
	}
	SortLabels(d.New, ref)
	SortLabels(d.Already, ref)
	return d
}

// Step is the pure form of one tracking cycle: it returns the notified set
// after observing snap and the notification to send, or nil when nothing is
// new. The input set is not modified.
func Step(target string, notified LabelSet, snap Snapshot, ref time.Time) (LabelSet, *Notification) {
	d := Diff(notified, snap, ref)
	if d.Empty() {
		return notified.Clone(), nil
	}

	next := notified.Clone()
	for _, l := range d.New {
		next[l] = struct{}{}
	}
	return next, ComposeNotification(target, d.New)
}

// ComposeNotification builds the availability alert for labels.
// It returns nil when labels is empty.
func ComposeNotification(target string, labels []Label) *Notification {
	if len(labels) == 0 {
		return nil
	}

	joined := joinLabels(labels)
	subject := "Found availability on " + joined
	if target != "" {
		subject = fmt.Sprintf("[%s] %s", target, subject)
	}

	var body strings.Builder
	body.WriteString(subject)
	body.WriteString("\n\n")
	for _, l := range labels {
		fmt.Fprintf(&body, "  - %s\n", l)
	}

	return &Notification{
		Subject: subject,
		Body:    body.String(),
		Labels:  append([]Label(nil), labels...),
	}
}

func joinLabels(labels []Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}

// Tracker remembers which labels have already been notified on for one
// target.
//
// The notified set lives for the life of the process: it only grows and is
// never persisted, so a restart re-notifies anything still available. A
// Tracker is owned by a single polling loop and is not safe for concurrent
// use.
type Tracker struct {
	notified LabelSet
	now      func() time.Time
}

// NewTracker returns a Tracker with an empty notified set.
func NewTracker() *Tracker {
	return &Tracker{
		notified: make(LabelSet),
		now:      time.Now,
	}
}

// Update computes the delta of snap and commits its new labels to the
// notified set.
//
// The commit happens here, before the caller sends anything, so a failed
// delivery can never cause the same label to be reported twice. An empty
// delta leaves the set unchanged.
func (t *Tracker) Update(snap Snapshot) Delta {
	d := Diff(t.notified, snap, t.now())
	for _, l := range d.New {
		t.notified[l] = struct{}{}
	}
	return d
}

// Notified returns the labels notified on so far, in display order.
func (t *Tracker) Notified() []Label {
	return t.notified.Sorted(t.now())
}

// Has reports whether l has been notified on.
func (t *Tracker) Has(l Label) bool {
	return t.notified.Has(l)
}

// Len returns the size of the notified set.
func (t *Tracker) Len() int {
	return len(t.notified)
}
