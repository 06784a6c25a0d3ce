package stream

import "testing"

func TestReconcileIdempotent(t *testing.T) {
	cases := []string{"", "Hello", "Hello world", "a"}
	for _, cumulative := range cases {
		if got := Reconcile(cumulative, cumulative); got != "" {
			t.Fatalf("Reconcile(%q, %q) = %q, want empty", cumulative, cumulative, got)
		}
		if got := Reconcile(cumulative, ""); got != "" {
			t.Fatalf("Reconcile(%q, \"\") = %q, want empty", cumulative, got)
		}
	}
}

func TestReconcileDisjointDeltas(t *testing.T) {
	deltas := []string{"The", " quick", " brown", " fox", " jumps"}
	cumulative := ""
	for _, d := range deltas {
		got := Reconcile(cumulative, d)
		cumulative += got
	}
	want := "The quick brown fox jumps"
	if cumulative != want {
		t.Fatalf("applied deltas produced %q, want %q", cumulative, want)
	}
}

func TestReconcileGrowingCumulative(t *testing.T) {
	fragments := []string{"Hel", "Hello", "Hello wo", "Hello world"}
	cumulative := ""
	for _, f := range fragments {
		cumulative += Reconcile(cumulative, f)
	}
	if cumulative != "Hello world" {
		t.Fatalf("growing-cumulative stream produced %q, want %q", cumulative, "Hello world")
	}
}

func TestReconcileExactDuplicate(t *testing.T) {
	if got := Reconcile("Hello world", "world"); got != "" {
		t.Fatalf("duplicate suffix yielded %q, want empty", got)
	}
}

func TestReconcilePartialOverlapResend(t *testing.T) {
	// The backend resends most of what we already have plus a tail.
	// The shared prefix exceeds half the cumulative length, so only
	// the tail is new.
	cumulative := "Hello wor"
	incoming := "Hello world!"
	if got := Reconcile(cumulative, incoming); got != "ld!" {
		t.Fatalf("overlap resend yielded %q, want %q", got, "ld!")
	}
}

func TestReconcileShortCoincidentalPrefix(t *testing.T) {
	// A short shared prefix is below the overlap threshold; the whole
	// fragment is treated as a genuine delta.
	cumulative := "theory of computation"
	incoming := "the answer"
	if got := Reconcile(cumulative, incoming); got != incoming {
		t.Fatalf("coincidental prefix yielded %q, want %q", got, incoming)
	}
}

func TestReconcileEmptyCumulative(t *testing.T) {
	if got := Reconcile("", "first"); got != "first" {
		t.Fatalf("empty cumulative yielded %q, want %q", got, "first")
	}
}
