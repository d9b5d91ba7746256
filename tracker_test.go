package permitwatch

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var julyRef = time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	tr := NewTracker()
	tr.now = func() time.Time { return julyRef }
	return tr
}

func TestTracker_DeltaSplitsNewAndAlready(t *testing.T) {
	tr := newTestTracker()
	tr.Update(NewSnapshot("07/10"))

	got := tr.Update(NewSnapshot("07/12", "07/10", "07/11"))
	want := Delta{
		New:     []Label{"07/11", "07/12"},
		Already: []Label{"07/10"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Update() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]Label{"07/10", "07/11", "07/12"}, tr.Notified()); diff != "" {
		t.Errorf("Notified() mismatch (-want +got):\n%s", diff)
	}
}

// TestTracker_Idempotent verifies that the same snapshot twice in a row
// yields nothing new the second time.
func TestTracker_Idempotent(t *testing.T) {
	tr := newTestTracker()
	snap := NewSnapshot("07/16", "07/17")

	first := tr.Update(snap)
	if len(first.New) != 2 {
		t.Fatalf("first Update() New = %v, want 2 labels", first.New)
	}

	second := tr.Update(snap)
	if !second.Empty() {
		t.Errorf("second Update() New = %v, want empty", second.New)
	}
	if len(second.Already) != 2 {
		t.Errorf("second Update() Already = %v, want 2 labels", second.Already)
	}
}

// TestTracker_Monotonic verifies that labels disappearing from a snapshot
// are never forgotten.
func TestTracker_Monotonic(t *testing.T) {
	tr := newTestTracker()
	tr.Update(NewSnapshot("07/16", "07/17"))
	tr.Update(NewSnapshot())
	tr.Update(NewSnapshot("07/18"))

	for _, l := range []Label{"07/16", "07/17", "07/18"} {
		if !tr.Has(l) {
			t.Errorf("Has(%q) = false after it was notified", l)
		}
	}
	if tr.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tr.Len())
	}
}

// TestTracker_AtMostOnce feeds a label that comes and goes and checks it is
// reported as new exactly once.
func TestTracker_AtMostOnce(t *testing.T) {
	tr := newTestTracker()
	snaps := []Snapshot{
		NewSnapshot("07/16"),
		NewSnapshot(),
		NewSnapshot("07/16", "07/20"),
		NewSnapshot("07/20"),
		NewSnapshot("07/16"),
	}

	count := map[Label]int{}
	for _, s := range snaps {
		for _, l := range tr.Update(s).New {
			count[l]++
		}
	}

	if diff := cmp.Diff(map[Label]int{"07/16": 1, "07/20": 1}, count); diff != "" {
		t.Errorf("new-label counts mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_EmptySnapshotIsNoOp(t *testing.T) {
	tr := newTestTracker()
	tr.Update(NewSnapshot("07/16"))

	d := tr.Update(NewSnapshot())
	if !d.Empty() || len(d.Already) != 0 {
		t.Errorf("Update(empty) = %+v, want zero delta", d)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d after empty snapshot, want 1", tr.Len())
	}
}

func TestTracker_DuplicateLabelsInSnapshot(t *testing.T) {
	tr := newTestTracker()
	d := tr.Update(NewSnapshot("07/16", "07/16"))
	if diff := cmp.Diff([]Label{"07/16"}, d.New); diff != "" {
		t.Errorf("New mismatch (-want +got):\n%s", diff)
	}
}

func TestStep_DoesNotModifyInput(t *testing.T) {
	notified := NewLabelSet("07/10")

	next, n := Step("permit", notified, NewSnapshot("07/10", "07/11"), julyRef)
	if n == nil {
		t.Fatal("Step() notification = nil, want one")
	}
	if len(notified) != 1 {
		t.Errorf("input set modified: len = %d, want 1", len(notified))
	}
	if !next.Has("07/11") || !next.Has("07/10") {
		t.Errorf("next set = %v, want 07/10 and 07/11", next.Sorted(julyRef))
	}
	if diff := cmp.Diff([]Label{"07/11"}, n.Labels); diff != "" {
		t.Errorf("notification labels mismatch (-want +got):\n%s", diff)
	}
}

func TestStep_NothingNew(t *testing.T) {
	notified := NewLabelSet("07/10")

	next, n := Step("permit", notified, NewSnapshot("07/10"), julyRef)
	if n != nil {
		t.Errorf("Step() notification = %+v, want nil", n)
	}
	if len(next) != 1 {
		t.Errorf("next set len = %d, want 1", len(next))
	}
}

func TestComposeNotification(t *testing.T) {
	n := ComposeNotification("permit", []Label{"07/11", "07/12"})
	if n == nil {
		t.Fatal("ComposeNotification() = nil")
	}

	wantSubject := "[permit] Found availability on 07/11, 07/12"
	if n.Subject != wantSubject {
		t.Errorf("Subject = %q, want %q", n.Subject, wantSubject)
	}
	wantBody := wantSubject + "\n\n  - 07/11\n  - 07/12\n"
	if n.Body != wantBody {
		t.Errorf("Body = %q, want %q", n.Body, wantBody)
	}
}

func TestComposeNotification_NoTarget(t *testing.T) {
	n := ComposeNotification("", []Label{"3:30 PM"})
	if n.Subject != "Found availability on 3:30 PM" {
		t.Errorf("Subject = %q", n.Subject)
	}
}

func TestComposeNotification_Empty(t *testing.T) {
	if n := ComposeNotification("permit", nil); n != nil {
		t.Errorf("ComposeNotification(nil) = %+v, want nil", n)
	}
}
