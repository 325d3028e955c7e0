package chunker

import (
	"strings"
	"testing"
)

func TestSplitSmallText(t *testing.T) {
	text := strings.Repeat("hello world ", 50) // ~600 bytes
	chunks := Split(text, DefaultOptions())
	// Small text (600 bytes < 1200 window) → exactly one chunk
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitLargeText(t *testing.T) {
	// 3000 bytes → should produce multiple chunks with overlap
	text := strings.Repeat("word ", 600)
	opts := Options{MaxBytes: 1000, OverlapBytes: 200}
	chunks := Split(text, opts)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks for 3000-byte text, got %d", len(chunks))
	}

	// Verify that chunks are no larger than MaxBytes
	for i, c := range chunks {
		if len(c.Text) > opts.MaxBytes {
			t.Errorf("chunk %d length %d exceeds MaxBytes %d", i, len(c.Text), opts.MaxBytes)
		}
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("sentence one. ", 30) // ~420 bytes
	text := para + "\n\n" + para + "\n\n" + para
	opts := Options{MaxBytes: 500, OverlapBytes: 50}
	chunks := Split(text, opts)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	// The first chunk should end at the paragraph boundary, not mid-sentence.
	if !strings.HasSuffix(chunks[0].Text, "sentence one.") {
		t.Errorf("first chunk does not end at a clean boundary: %q", chunks[0].Text[len(chunks[0].Text)-20:])
	}
}

func TestSplitWhitespaceOnly(t *testing.T) {
	if chunks := Split("   \n\n\t  ", DefaultOptions()); len(chunks) != 0 {
		t.Fatalf("expected no chunks for whitespace input, got %d", len(chunks))
	}
}

func TestSplitIndices(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60)
	chunks := Split(text, DefaultOptions())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d carries index %d", i, c.Index)
		}
		if strings.TrimSpace(c.Text) == "" {
			t.Errorf("chunk %d: empty text", i)
		}
		if c.EndByte <= c.StartByte {
			t.Errorf("chunk %d: byte range [%d, %d)", i, c.StartByte, c.EndByte)
		}
	}
}
