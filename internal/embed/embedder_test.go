package embed

import (
	"testing"
)

// TestL2Normalize checks that l2Normalize produces a unit vector.
func TestL2Normalize(t *testing.T) {
	v := []float32{3, 4, 0} // norm = 5
	l2Normalize(v)
	want := []float32{0.6, 0.8, 0}
	for i, got := range v {
		if diff := got - want[i]; diff < -1e-5 || diff > 1e-5 {
			t.Errorf("v[%d] = %f, want %f", i, got, want[i])
		}
	}
}

// TestEmbedderNew ensures New returns a useful error if models are missing.
func TestEmbedderNew(t *testing.T) {
	_, err := New("/tmp/nonexistent-model-dir-tsi-test", "", 0)
	if err == nil {
		t.Fatal("expected error for missing model dir, got nil")
	}
}

// TestDocumentFuncMatchesStoreCallback verifies the auto-embed callback
// shape and that document and query embeddings behave as the store expects:
// unit-length vectors of EmbeddingDim, with queries scoring their own
// source text highly.
func TestDocumentFuncMatchesStoreCallback(t *testing.T) {
	// Skip if model isn't downloaded yet.
	e, err := New("../../models", "../../lib/onnxruntime.so", 0)
	if err != nil {
		t.Skipf("skipping: model not found at ../../models: %v", err)
	}
	defer e.Close()

	fn := e.DocumentFunc()
	vec, err := fn("a tiny kitten swatting at a string")
	if err != nil {
		t.Fatalf("document embed: %v", err)
	}
	if len(vec) != EmbeddingDim {
		t.Fatalf("dims = %d, want %d", len(vec), EmbeddingDim)
	}
	if n := dotProduct(vec, vec); n < 0.999 || n > 1.001 {
		t.Errorf("vector not unit length: %f", n)
	}

	// Synonyms should be highly similar, unrelated text should not.
	other, err := fn("a cute baby feline playing with yarn")
	if err != nil {
		t.Fatalf("document embed: %v", err)
	}
	unrelated, err := fn("instructions for adjusting the carburetor on a 1998 honda civic")
	if err != nil {
		t.Fatalf("document embed: %v", err)
	}
	if sim := dotProduct(vec, other); sim < 0.70 {
		t.Errorf("expected high similarity for synonyms, got %f", sim)
	}
	if sim := dotProduct(vec, unrelated); sim > 0.5 {
		t.Errorf("expected low similarity for unrelated text, got %f", sim)
	}

	// A prefixed query should still prefer its own source text.
	q, err := e.EmbedQuery("kitten playing with string")
	if err != nil {
		t.Fatalf("query embed: %v", err)
	}
	if simSelf, simOther := dotProduct(q, vec), dotProduct(q, unrelated); simSelf <= simOther {
		t.Errorf("query ranks unrelated text higher: %f <= %f", simSelf, simOther)
	}
}

func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
