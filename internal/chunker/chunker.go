// Package chunker splits long RAG documents into overlapping text chunks
// sized to the embedder's token window, so one document can be upserted into
// the record store as a run of independently retrievable rows.
package chunker

import "strings"

// Chunk is one slice of a document.
type Chunk struct {
	Text      string
	Index     int // chunk index within the document
	StartByte int64
	EndByte   int64
}

// Options controls chunking behaviour.
type Options struct {
	// MaxBytes is the maximum size of a single chunk. The BGE-small embedder
	// behind the auto-embed path handles ~2000 bytes (512 tokens); 1200 bytes
	// is safer and preserves semantic density.
	MaxBytes int
	// OverlapBytes is how many bytes of the previous chunk to carry into the
	// next, so retrieval never loses context at a chunk boundary.
	OverlapBytes int
}

// DefaultOptions returns the recommended chunking parameters for the default
// embedder.
func DefaultOptions() Options {
	return Options{
		MaxBytes:     1200,
		OverlapBytes: 250,
	}
}

// Split cuts a document into overlapping chunks, preferring paragraph breaks
// over line breaks over word breaks so code blocks and prose paragraphs stay
// intact. Pure-whitespace input yields no chunks.
func Split(text string, opts Options) []Chunk {
	if opts.MaxBytes <= 0 {
		opts = DefaultOptions()
	}
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	var chunks []Chunk
	var chunkIdx int
	start := 0

	for start < len(text) {
		end := start + opts.MaxBytes
		if end >= len(text) {
			chunks = append(chunks, Chunk{
				Text:      strings.TrimSpace(text[start:]),
				Index:     chunkIdx,
				StartByte: int64(start),
				EndByte:   int64(len(text)),
			})
			break
		}

		// Find the best split point looking backwards from 'end': paragraph
		// break, then line break, then word break, then mid-word as a last
		// resort.
		bestSplit := strings.LastIndex(text[start:end], "\n\n")
		if bestSplit != -1 {
			bestSplit += start + 2
		} else {
			bestSplit = strings.LastIndex(text[start:end], "\n")
			if bestSplit != -1 {
				bestSplit += start + 1
			} else {
				bestSplit = strings.LastIndexByte(text[start:end], ' ')
				if bestSplit != -1 {
					bestSplit += start + 1
				} else {
					bestSplit = end
				}
			}
		}

		chunks = append(chunks, Chunk{
			Text:      strings.TrimSpace(text[start:bestSplit]),
			Index:     chunkIdx,
			StartByte: int64(start),
			EndByte:   int64(bestSplit),
		})
		chunkIdx++

		// Overlap for the next chunk, snapped forward to the next line or
		// word boundary so the overlap starts cleanly.
		overlapStart := bestSplit - opts.OverlapBytes
		if overlapStart <= start {
			// Always advance at least one byte to avoid infinite loops.
			overlapStart = start + 1
		} else {
			nextNL := strings.IndexByte(text[overlapStart:bestSplit], '\n')
			if nextNL != -1 {
				overlapStart += nextNL + 1
			} else {
				nextSp := strings.IndexByte(text[overlapStart:bestSplit], ' ')
				if nextSp != -1 {
					overlapStart += nextSp + 1
				}
			}
		}
		start = overlapStart
	}

	// Drop empty chunks produced by pure-whitespace regions.
	var filtered []Chunk
	for _, c := range chunks {
		if c.Text != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
