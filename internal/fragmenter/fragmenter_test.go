package fragmenter

import (
	"bytes"
	"testing"

	"github.com/akari-proxy/akari-udp/internal/spec"
)

func TestNewBudgetClampsToCeiling(t *testing.T) {
	b := NewBudget(9000, 9000)
	if b.PathMTU != spec.MaxDatagramCeiling {
		t.Fatalf("expected clamp to %d, got %d", spec.MaxDatagramCeiling, b.PathMTU)
	}
	b = NewBudget(0, 0)
	if b.PathMTU != spec.MaxDatagramCeiling {
		t.Fatalf("expected default %d, got %d", spec.MaxDatagramCeiling, b.PathMTU)
	}
}

func TestNewBudgetUsesSmallerOfBufferSizeAndPayloadMax(t *testing.T) {
	if b := NewBudget(800, 1200); b.PathMTU != 800 {
		t.Fatalf("expected smaller buffer_size to win, got %d", b.PathMTU)
	}
	if b := NewBudget(1200, 800); b.PathMTU != 800 {
		t.Fatalf("expected smaller payload_max to win, got %d", b.PathMTU)
	}
	if b := NewBudget(0, 900); b.PathMTU != 900 {
		t.Fatalf("expected unset buffer_size to defer to payload_max, got %d", b.PathMTU)
	}
}

func TestBudgetWithPathMTUOnlyShrinks(t *testing.T) {
	b := NewBudget(1200, 1200)
	tightened := b.WithPathMTU(900)
	if tightened.PathMTU != 900 {
		t.Fatalf("expected a smaller discovered MTU to tighten the budget, got %d", tightened.PathMTU)
	}
	widened := b.WithPathMTU(1400)
	if widened.PathMTU != b.PathMTU {
		t.Fatalf("expected a larger discovered MTU to be ignored, got %d", widened.PathMTU)
	}
}

func TestSplitBodyRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 2500)
	b := NewBudget(1200, 1200)
	chunks := SplitBody(body, b.BodyChunkCapacity())
	if err := CheckSeqTotal(len(chunks)); err != nil {
		t.Fatal(err)
	}
	var rebuilt []byte
	for _, c := range chunks {
		rebuilt = append(rebuilt, c...)
	}
	if !bytes.Equal(rebuilt, body) {
		t.Fatalf("reassembled body mismatch: got %d bytes, want %d", len(rebuilt), len(body))
	}
}

func TestSplitBodyEmptyYieldsOneChunk(t *testing.T) {
	chunks := SplitBody(nil, 100)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("expected one empty chunk, got %+v", chunks)
	}
}

func TestFirstChunkCapacityShrinksWithHeaderBlock(t *testing.T) {
	b := NewBudget(1200, 1200)
	withoutHeaders := b.FirstChunkCapacity(0)
	withHeaders := b.FirstChunkCapacity(64)
	if withHeaders != withoutHeaders-64 {
		t.Fatalf("expected capacity to shrink by exactly the header block size, got %d vs %d", withHeaders, withoutHeaders)
	}
}

func TestAggBodyChunkCapacityIsSmallerThanPlain(t *testing.T) {
	b := NewBudget(1200, 1200)
	if b.AggBodyChunkCapacity() >= b.BodyChunkCapacity() {
		t.Fatalf("expected agg capacity to leave room for the embedded whole-body tag")
	}
}

func TestSplitHeaderBlockFirstChunkIsSmaller(t *testing.T) {
	block := bytes.Repeat([]byte("h"), 50)
	chunks := SplitHeaderBlock(block, 10, 20)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks (10+20+20), got %d", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 20 || len(chunks[2]) != 20 {
		t.Fatalf("unexpected chunk sizes: %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	var rebuilt []byte
	for _, c := range chunks {
		rebuilt = append(rebuilt, c...)
	}
	if !bytes.Equal(rebuilt, block) {
		t.Fatalf("reassembled header block mismatch")
	}
}

func TestSplitHeaderBlockEmptyYieldsOneChunk(t *testing.T) {
	chunks := SplitHeaderBlock(nil, 10, 20)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("expected one empty chunk, got %+v", chunks)
	}
}

func TestHeaderChunkCapacityFirstVsCont(t *testing.T) {
	b := NewBudget(1200, 1200)
	first := b.HeaderChunkCapacity(true)
	cont := b.HeaderChunkCapacity(false)
	if cont <= first {
		t.Fatalf("expected continuation chunks to have more room than the first (which also carries status/body_len)")
	}
}
