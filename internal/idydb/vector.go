package idydb

import (
	"fmt"
	"math"
	"sort"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Similarity selects the kNN scoring function.
type Similarity int

const (
	// Cosine similarity: larger is better.
	Cosine Similarity = iota
	// L2 distance, exposed as a negated score so larger-is-better ordering is
	// uniform across both similarity choices.
	L2
)

func (s Similarity) String() string {
	if s == L2 {
		return "L2"
	}
	return "COSINE"
}

// KNNHit is one kNN result: a row id and its similarity score (always
// larger-is-better).
type KNNHit struct {
	Row   uint64
	Score float32
}

// KNNSearchVectorColumn scans a vector column for the k nearest neighbors of
// q under the chosen similarity. Rows whose stored dims differ from dims are
// skipped. Results are sorted best-first; ties break by ascending row id.
func (s *Store) KNNSearchVectorColumn(col uint16, q []float32, dims uint16, k int, sim Similarity) ([]KNNHit, error) {
	if int(dims) != len(q) {
		return nil, fmt.Errorf("idydb: query dims %d != len %d: %w", dims, len(q), errs.ErrSemantic)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []KNNHit
	s.scanColumn(col, func(row uint64, v Value) bool {
		if v.Type != TypeVector || len(v.Vector) != int(dims) {
			return true
		}
		var score float32
		switch sim {
		case L2:
			score = -l2Distance(q, v.Vector)
		default:
			score = cosineSimilarity(q, v.Vector)
		}
		hits = append(hits, KNNHit{Row: row, Score: score})
		return true
	})

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom < 1e-12 {
		return 0
	}
	return float32(dot / denom)
}

func l2Distance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
