package reassembler

import (
	"bytes"
	"testing"
)

func TestStreamAssembleInOrder(t *testing.T) {
	s := NewStream()
	must(t, s.Put(1, 3, []byte("B")))
	must(t, s.Put(0, 3, []byte("A")))
	if s.Complete() {
		t.Fatalf("expected incomplete before seq 2 arrives")
	}
	must(t, s.Put(2, 3, []byte("C")))
	if !s.Complete() {
		t.Fatalf("expected complete after all three chunks")
	}
	out, err := s.Assemble()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !bytes.Equal(out, []byte("ABC")) {
		t.Fatalf("got %q, want ABC", out)
	}
}

func TestStreamMissingAndFirstMissing(t *testing.T) {
	s := NewStream()
	must(t, s.Put(0, 4, []byte("A")))
	must(t, s.Put(2, 4, []byte("C")))
	missing := s.Missing()
	if len(missing) != 2 || missing[0] != 1 || missing[1] != 3 {
		t.Fatalf("unexpected missing list: %v", missing)
	}
	first, ok := s.FirstMissing()
	if !ok || first != 1 {
		t.Fatalf("expected first missing 1, got %d ok=%v", first, ok)
	}
}

func TestStreamOutOfRangeSeqDropped(t *testing.T) {
	s := NewStream()
	must(t, s.Put(0, 2, []byte("A")))
	must(t, s.Put(2, 2, []byte("X"))) // seq == seq_total: invalid, dropped
	must(t, s.Put(7, 2, []byte("Y")))
	if s.Complete() {
		t.Fatalf("expected incomplete: out-of-range chunks must not count toward the total")
	}
	must(t, s.Put(1, 2, []byte("B")))
	out, err := s.Assemble()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !bytes.Equal(out, []byte("AB")) {
		t.Fatalf("got %q, want AB", out)
	}
}

func TestStreamInconsistentTotalRejected(t *testing.T) {
	s := NewStream()
	must(t, s.Put(0, 4, []byte("A")))
	if err := s.Put(1, 5, []byte("B")); err == nil {
		t.Fatalf("expected error on changed seq_total")
	}
}

func TestStreamBitmapRoundTrip(t *testing.T) {
	s := NewStream()
	must(t, s.Put(0, 10, []byte("a")))
	must(t, s.Put(1, 10, []byte("b")))
	must(t, s.Put(5, 10, []byte("c")))
	bitmap := s.Bitmap()
	missing := BitmapMissing(bitmap, 10)
	want := []uint16{2, 3, 4, 6, 7, 8, 9}
	if len(missing) != len(want) {
		t.Fatalf("got %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("got %v, want %v", missing, want)
		}
	}
}

func TestAssembleIncompleteErrors(t *testing.T) {
	s := NewStream()
	must(t, s.Put(0, 2, []byte("A")))
	if _, err := s.Assemble(); err == nil {
		t.Fatalf("expected error assembling incomplete stream")
	}
}

func TestV3ResponseCompleteRequiresBothStreams(t *testing.T) {
	r := NewV3Response()
	must(t, r.Header.Put(0, 1, []byte("H")))
	if r.Complete() {
		t.Fatalf("expected incomplete: body stream untouched")
	}
	must(t, r.Body.Put(0, 1, []byte("B")))
	if !r.Complete() {
		t.Fatalf("expected complete once both streams finish")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
