package idydb

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cuwacunu/tsi/internal/chunker"
	"github.com/cuwacunu/tsi/internal/errs"
)

// ContextSeparator joins retrieved texts in RagQueryContext output.
const ContextSeparator = "\n---\n"

// EmbedFunc turns a text into its embedding vector. Registered once per
// store; RagUpsertTextAutoEmbed fails with a no-driver error when absent.
type EmbedFunc func(text string) ([]float32, error)

// SetEmbedder registers the embedding callback used by the auto-embed upsert
// paths.
func (s *Store) SetEmbedder(fn EmbedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = fn
}

// RagUpsertText stores a text at (textCol, row) and its embedding at
// (vecCol, row) so kNN hits on the vector column can be resolved back to
// their source texts.
func (s *Store) RagUpsertText(textCol, vecCol uint16, row uint64, text string, vec []float32, dims uint16) error {
	if err := s.InsertConstChar(textCol, row, text); err != nil {
		return err
	}
	return s.InsertVector(vecCol, row, vec, dims)
}

// RagUpsertTextAutoEmbed embeds text through the registered embedder and
// stores the (text, vector) pair at row.
func (s *Store) RagUpsertTextAutoEmbed(textCol, vecCol uint16, row uint64, text string) error {
	s.mu.Lock()
	fn := s.embedder
	s.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("idydb: no embedder registered: %w", errs.ErrNoDriver)
	}
	vec, err := fn(text)
	if err != nil {
		return fmt.Errorf("idydb: embed: %w", err)
	}
	return s.RagUpsertText(textCol, vecCol, row, text, vec, uint16(len(vec)))
}

// RagUpsertDocumentAutoEmbed splits a long document into embedder-sized
// chunks and upserts each chunk at the column's next free rows. Returns the
// rows written.
func (s *Store) RagUpsertDocumentAutoEmbed(textCol, vecCol uint16, text string, opts chunker.Options) ([]uint64, error) {
	chunks := chunker.Split(text, opts)
	if len(chunks) == 0 {
		return nil, nil
	}
	row := s.ColumnNextRow(textCol)
	rows := make([]uint64, 0, len(chunks))
	for _, c := range chunks {
		if err := s.RagUpsertTextAutoEmbed(textCol, vecCol, row, c.Text); err != nil {
			return rows, err
		}
		rows = append(rows, row)
		row++
	}
	return rows, nil
}

// RagQueryTopK runs a kNN query on the vector column and resolves every hit
// to the text stored at the same row of the text column. Hits whose text row
// is absent resolve to the empty string.
func (s *Store) RagQueryTopK(textCol, vecCol uint16, q []float32, dims uint16, k int, sim Similarity) ([]string, []KNNHit, error) {
	hits, err := s.KNNSearchVectorColumn(vecCol, q, dims, k, sim)
	if err != nil {
		return nil, nil, err
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		v := s.Extract(textCol, h.Row)
		if v.Type == TypeChar {
			texts[i] = v.Char
		}
	}
	return texts, hits, nil
}

// RagQueryContext assembles the top-k retrieved texts into one context
// string, best hit first, joined by ContextSeparator. maxLen is an absolute
// byte cap; when the assembled context would exceed it the final text is
// truncated at a UTF-8 code-point boundary.
func (s *Store) RagQueryContext(textCol, vecCol uint16, q []float32, dims uint16, k int, sim Similarity, maxLen int) (string, error) {
	texts, _, err := s.RagQueryTopK(textCol, vecCol, q, dims, k, sim)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, t := range texts {
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(ContextSeparator)
		}
		b.WriteString(t)
		if maxLen >= 0 && b.Len() >= maxLen {
			return truncateUTF8(b.String(), maxLen), nil
		}
	}
	out := b.String()
	if maxLen >= 0 && len(out) > maxLen {
		out = truncateUTF8(out, maxLen)
	}
	return out, nil
}

// truncateUTF8 cuts s to at most max bytes, backing off to the previous
// code-point boundary so the result is always valid UTF-8.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
