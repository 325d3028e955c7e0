package idydb

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cuwacunu/tsi/internal/chunker"
	"github.com/cuwacunu/tsi/internal/errs"
)

func newRAGStore(t *testing.T) *Store {
	t.Helper()
	s := mustOpen(t, filepath.Join(t.TempDir(), "rag.idydb"), FlagCreate)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKNNCosineTopK(t *testing.T) {
	s := newRAGStore(t)

	texts := []string{"alpha", "beta", "gamma"}
	vecs := [][]float32{{1, 0}, {0, 1}, {0.9, 0.1}}
	for i := range texts {
		if err := s.RagUpsertText(10, 11, uint64(i+1), texts[i], vecs[i], 2); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := s.KNNSearchVectorColumn(11, []float32{1, 0}, 2, 2, Cosine)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Row != 1 || hits[1].Row != 3 {
		t.Errorf("rows = [%d, %d], want [1, 3]", hits[0].Row, hits[1].Row)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %f < %f", hits[0].Score, hits[1].Score)
	}

	ctx, err := s.RagQueryContext(10, 11, []float32{1, 0}, 2, 2, Cosine, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	ia, ig := strings.Index(ctx, "alpha"), strings.Index(ctx, "gamma")
	if ia < 0 || ig < 0 || ia > ig {
		t.Errorf("context %q should contain alpha before gamma", ctx)
	}
}

func TestKNNL2NegatedScore(t *testing.T) {
	s := newRAGStore(t)
	if err := s.InsertVector(5, 1, []float32{0, 0}, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertVector(5, 2, []float32{3, 4}, 2); err != nil {
		t.Fatal(err)
	}

	hits, err := s.KNNSearchVectorColumn(5, []float32{0, 0}, 2, 2, L2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Row != 1 {
		t.Fatalf("hits = %+v, want row 1 first", hits)
	}
	// L2 scores are negated distances: 0 for the exact match, -5 for (3,4).
	if hits[0].Score != 0 || hits[1].Score != -5 {
		t.Errorf("scores = [%f, %f], want [0, -5]", hits[0].Score, hits[1].Score)
	}
}

func TestKNNSkipsMismatchedDims(t *testing.T) {
	s := newRAGStore(t)
	if err := s.InsertVector(5, 1, []float32{1, 0}, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertVector(5, 2, []float32{1, 0, 0}, 3); err != nil {
		t.Fatal(err)
	}
	// Non-vector rows in the column are skipped too.
	if err := s.InsertInt(5, 3, 99); err != nil {
		t.Fatal(err)
	}

	hits, err := s.KNNSearchVectorColumn(5, []float32{1, 0}, 2, 10, Cosine)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Row != 1 {
		t.Fatalf("hits = %+v, want only row 1", hits)
	}
}

func TestKNNTieBreaksByRow(t *testing.T) {
	s := newRAGStore(t)
	for _, row := range []uint64{4, 2, 9} {
		if err := s.InsertVector(6, row, []float32{1, 0}, 2); err != nil {
			t.Fatal(err)
		}
	}
	hits, err := s.KNNSearchVectorColumn(6, []float32{1, 0}, 2, 3, Cosine)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{2, 4, 9}
	for i, h := range hits {
		if h.Row != want[i] {
			t.Fatalf("rows = %+v, want ascending %v on tie", hits, want)
		}
	}
}

func TestRagQueryContextByteCap(t *testing.T) {
	s := newRAGStore(t)
	// Multi-byte text so truncation must respect code-point boundaries.
	text := strings.Repeat("héllo wörld ", 30)
	if err := s.RagUpsertText(10, 11, 1, text, []float32{1, 0}, 2); err != nil {
		t.Fatal(err)
	}

	ctx, err := s.RagQueryContext(10, 11, []float32{1, 0}, 2, 1, Cosine, 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx) > 40 {
		t.Errorf("context length %d exceeds cap 40", len(ctx))
	}
	if !utf8.ValidString(ctx) {
		t.Errorf("truncated context is not valid UTF-8: %q", ctx)
	}
	if !strings.HasPrefix(text, ctx) {
		t.Errorf("truncated context %q is not a prefix of the stored text", ctx)
	}
}

func TestAutoEmbedRequiresDriver(t *testing.T) {
	s := newRAGStore(t)
	err := s.RagUpsertTextAutoEmbed(10, 11, 1, "text")
	if !errors.Is(err, errs.ErrNoDriver) {
		t.Fatalf("err = %v, want no-driver", err)
	}
}

func TestRagUpsertDocumentAutoEmbed(t *testing.T) {
	s := newRAGStore(t)
	// Deterministic toy embedder: vector of (len, first byte).
	s.SetEmbedder(func(text string) ([]float32, error) {
		return []float32{float32(len(text)), float32(text[0])}, nil
	})

	doc := strings.Repeat("alpha beta gamma delta. ", 200)
	rows, err := s.RagUpsertDocumentAutoEmbed(10, 11, doc, chunker.Options{MaxBytes: 400, OverlapBytes: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) < 2 {
		t.Fatalf("expected multiple chunk rows, got %d", len(rows))
	}
	for i, row := range rows {
		if v := s.Extract(10, row); v.Type != TypeChar || v.Char == "" {
			t.Errorf("chunk %d text missing at row %d", i, row)
		}
		if v := s.Extract(11, row); v.Type != TypeVector || len(v.Vector) != 2 {
			t.Errorf("chunk %d vector missing at row %d", i, row)
		}
	}
	if next := s.ColumnNextRow(10); next != rows[len(rows)-1]+1 {
		t.Errorf("next row = %d, want %d", next, rows[len(rows)-1]+1)
	}
}
