// Package embed turns record-store texts into the float32 vectors idydb's
// vector columns hold, using BGE-small-en-v1.5 via ONNX Runtime. Vectors are
// L2-normalized so the store's cosine kNN reduces to a dot product.
// DocumentFunc returns the callback shape idydb.SetEmbedder expects, so an
// Embedder plugs straight into the auto-embed RAG upsert path.
package embed

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// maxSeqLen caps token length per text. BGE-small supports 512 tokens;
	// 256 halves the sequence length. A chunk at the chunker's ~1200-byte
	// default (~300 tokens) can exceed it, and tokens past 256 are dropped.
	maxSeqLen = 256
	// EmbeddingDim is the output dimension of BGE-small-en-v1.5, and the
	// dims value of every vector row the auto-embed path writes.
	EmbeddingDim = 384
	// defaultBatchSize keeps memory + inference latency bounded on low-end
	// CPUs when a long document upserts many chunks at once.
	defaultBatchSize = 4

	// bgeQueryPrefix is prepended to queries (not stored texts) for
	// asymmetric retrieval per the BGE-small-en-v1.5 recommendation.
	bgeQueryPrefix = "Represent this sentence for searching relevant passages: "
)

// Embedder wraps an ONNX session and a HuggingFace tokenizer.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	batchSize int
}

// New loads the ONNX model and tokenizer from modelDir.
// ortLibPath is the path to onnxruntime.so; pass "" to use the system default.
// numThreads controls intra-op parallelism; 0 = use min(4, NumCPU).
// modelDir must contain: model.onnx, tokenizer.json
func New(modelDir, ortLibPath string, numThreads int) (*Embedder, error) {
	modelPath := filepath.Join(modelDir, "model.onnx")
	tokenPath := filepath.Join(modelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s — download the model files first", modelPath)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, fmt.Errorf("tokenizer not found at %s — download the model files first", tokenPath)
	}

	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	// Initialize ONNX Runtime (no-op if already initialized).
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init ort: %w", err)
	}

	// More threads rarely help on ≤4-core machines and cause severe
	// contention when both IntraOp and InterOp spawn threads.
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	// IntraOpNumThreads: parallelism within a single op (e.g. MatMul).
	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	// InterOpNumThreads stays at 1: inter-op parallelism only adds thread
	// churn for an encoder this small.
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &Embedder{
		session:   session,
		tokenizer: tk,
		batchSize: defaultBatchSize,
	}, nil
}

// Close releases the ONNX session and tokenizer.
func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
}

// DocumentFunc returns the per-text embedding callback the record store's
// SetEmbedder expects for auto-embed upserts.
func (e *Embedder) DocumentFunc() func(text string) ([]float32, error) {
	return e.EmbedOne
}

// EmbedOne embeds a single stored text (no instruction prefix).
func (e *Embedder) EmbedOne(text string) ([]float32, error) {
	vecs, err := e.Embed([]string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vecs[0], nil
}

// Embed embeds stored texts (no instruction prefix), batching internally so
// a document upsert of many chunks stays bounded in memory.
func (e *Embedder) Embed(texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		tb, err := e.tokenize(texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("tokenize [%d:%d]: %w", i, end, err)
		}
		batch, err := e.infer(tb)
		if err != nil {
			return nil, fmt.Errorf("infer [%d:%d]: %w", i, end, err)
		}
		results = append(results, batch...)
	}
	return results, nil
}

// EmbedQuery embeds a kNN/RAG query with the BGE instruction prefix. Always
// use this for queries and never for stored texts: BGE retrieval is
// asymmetric, and a query embedded without the prefix scores systematically
// low against stored chunks.
func (e *Embedder) EmbedQuery(query string) ([]float32, error) {
	return e.EmbedOne(bgeQueryPrefix + query)
}

// tokenBatch is one tokenized batch padded to its longest member: flat
// [batch, seq] id and attention rows ready to become ONNX tensors.
type tokenBatch struct {
	ids   []int64
	mask  []int64
	batch int
	seq   int
}

// tokenize encodes up to batchSize texts, truncating at maxSeqLen and
// padding every row to the batch's longest sequence.
func (e *Embedder) tokenize(texts []string) (tokenBatch, error) {
	type row struct {
		ids  []int64
		mask []int64
	}
	rows := make([]row, len(texts))
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(
			text,
			true, // add special tokens (CLS, SEP)
			tokenizers.WithReturnAttentionMask(),
		)
		ids := enc.IDs
		if len(ids) > maxSeqLen {
			ids = ids[:maxSeqLen]
		}
		r := row{ids: make([]int64, len(ids)), mask: make([]int64, len(ids))}
		for j, v := range ids {
			r.ids[j] = int64(v)
			r.mask[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range r.ids {
				r.mask[j] = int64(enc.AttentionMask[j])
			}
		}
		rows[i] = r
		if len(r.ids) > maxLen {
			maxLen = len(r.ids)
		}
	}
	if maxLen == 0 {
		return tokenBatch{}, fmt.Errorf("all texts tokenized to zero length")
	}

	tb := tokenBatch{
		ids:   make([]int64, len(texts)*maxLen),
		mask:  make([]int64, len(texts)*maxLen),
		batch: len(texts),
		seq:   maxLen,
	}
	for i, r := range rows {
		copy(tb.ids[i*maxLen:], r.ids)
		copy(tb.mask[i*maxLen:], r.mask)
	}
	return tb, nil
}

// infer runs one ONNX call over a tokenized batch and pools each sequence's
// [CLS] token into an L2-normalized vector.
func (e *Embedder) infer(tb tokenBatch) ([][]float32, error) {
	shape := ort.NewShape(int64(tb.batch), int64(tb.seq))

	inputIDs, err := ort.NewTensor(shape, tb.ids)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, tb.mask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()

	// token_type_ids is all zeros for a single-segment encoder.
	typeIDs, err := ort.NewTensor(shape, make([]int64, tb.batch*tb.seq))
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputIDs, attnMask, typeIDs}, outputs); err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want *Tensor[float32])")
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])

	embeddings := make([][]float32, tb.batch)
	for i := 0; i < tb.batch; i++ {
		vec := make([]float32, EmbeddingDim)
		// BGE-small uses the [CLS] token (t=0) as the sentence embedding.
		base := i * seqLen * EmbeddingDim
		copy(vec, hidden[base:base+EmbeddingDim])
		l2Normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

// l2Normalize normalizes v in-place to unit length.
func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}
