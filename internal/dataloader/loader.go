package dataloader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuwacunu/tsi/internal/dataset"
	"github.com/cuwacunu/tsi/internal/errs"
	"github.com/cuwacunu/tsi/internal/tensor"
)

// Config controls batch assembly.
type Config struct {
	// BatchSize is the number of samples stacked per batch. Must be >= 1.
	BatchSize int
	// Workers is the number of parallel sample-assembly goroutines. 0 means
	// 1. Each worker reads through the dataset's shared immutable mappings.
	Workers int
	// DropLast discards a trailing partial batch; the default for training,
	// off for evaluation.
	DropLast bool
	// Timeout bounds how long NextBatch waits on the worker queue before
	// failing with a dataloader-timeout error. 0 means no deadline.
	Timeout time.Duration
}

// Batch is one stacked batch: Data [B, C, T, D], Mask [B, C, T], and, when
// the dataset serves future windows, Future/FutureMask of the same layout
// over Tf. Indices records which sample built each row of the batch.
type Batch struct {
	Data       *tensor.Tensor
	Mask       *tensor.Mask
	Future     *tensor.Tensor
	FutureMask *tensor.Mask
	Indices    []int
}

// Size returns B.
func (b *Batch) Size() int { return len(b.Indices) }

// Loader drives one pass over a concat dataset. Batches come out in batch
// order regardless of worker count: workers build batches concurrently and a
// collector reorders them by sequence number into the bounded output queue.
type Loader struct {
	ds  *dataset.ConcatDataset
	cfg Config

	sampler  Sampler
	batches  [][]int
	started  bool
	startMu  sync.Mutex
	out      chan orderedBatch
	cancelWk context.CancelFunc
}

type orderedBatch struct {
	batch *Batch
	err   error
}

// New prepares a loader over ds with the given sampler. The visit order is
// fixed here, so Seed/Batches are stable before the first NextBatch.
func New(ds *dataset.ConcatDataset, sampler Sampler, cfg Config) (*Loader, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("dataloader: batch size %d < 1: %w", cfg.BatchSize, errs.ErrSemantic)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	order := sampler.Indices(ds.Len())
	var batches [][]int
	for start := 0; start < len(order); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(order) {
			if cfg.DropLast {
				break
			}
			end = len(order)
		}
		batches = append(batches, order[start:end])
	}

	return &Loader{ds: ds, cfg: cfg, sampler: sampler, batches: batches}, nil
}

// Batches returns the number of batches this pass will emit.
func (l *Loader) Batches() int { return len(l.batches) }

// Seed returns the sampler seed recorded for reproducibility.
func (l *Loader) Seed() int64 { return l.sampler.Seed() }

// SamplerName returns the sampler's identifier for run records.
func (l *Loader) SamplerName() string { return l.sampler.Name() }

// Shape returns the dataset's (C, T, D).
func (l *Loader) Shape() (c, t, d int) { return l.ds.Shape() }

func (l *Loader) start() {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	if l.started {
		return
	}
	l.started = true

	ctx, cancel := context.WithCancel(context.Background())
	l.cancelWk = cancel

	jobs := make(chan int, len(l.batches))
	results := make(chan struct {
		seq int
		ob  orderedBatch
	}, l.cfg.Workers)
	l.out = make(chan orderedBatch, l.cfg.Workers*2)

	for seq := range l.batches {
		jobs <- seq
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < l.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range jobs {
				b, err := l.assemble(l.batches[seq])
				select {
				case results <- struct {
					seq int
					ob  orderedBatch
				}{seq, orderedBatch{batch: b, err: err}}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collector: reorder by sequence so batches are emitted in sample index
	// order even when a later batch finishes first.
	go func() {
		defer close(l.out)
		pending := make(map[int]orderedBatch)
		next := 0
		for r := range results {
			pending[r.seq] = r.ob
			for {
				ob, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				select {
				case l.out <- ob:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// assemble stacks one batch from sample tensors.
func (l *Loader) assemble(indices []int) (*Batch, error) {
	c, t, d := l.ds.Shape()
	tf := l.ds.FutureLength()
	n := len(indices)

	b := &Batch{
		Data:    tensor.New(n, c, t, d),
		Mask:    tensor.NewMask(n, c, t),
		Indices: append([]int(nil), indices...),
	}
	if tf > 0 {
		b.Future = tensor.New(n, c, tf, d)
		b.FutureMask = tensor.NewMask(n, c, tf)
	}

	sampleLen := c * t * d
	maskLen := c * t
	futureLen := c * tf * d
	futureMaskLen := c * tf

	for row, idx := range indices {
		s, err := l.ds.SampleAt(idx)
		if err != nil {
			return nil, err
		}
		copy(b.Data.Data[row*sampleLen:], s.Data.Data)
		copy(b.Mask.Data[row*maskLen:], s.Mask.Data)
		if tf > 0 && s.Future != nil {
			copy(b.Future.Data[row*futureLen:], s.Future.Data)
			copy(b.FutureMask.Data[row*futureMaskLen:], s.FutureMask.Data)
		}
	}
	return b, nil
}

// NextBatch blocks for the next batch. It returns io.EOF when the pass is
// exhausted, a dataloader-timeout error when the worker queue stays empty
// past the configured deadline, and a cancelled error when ctx fires.
func (l *Loader) NextBatch(ctx context.Context) (*Batch, error) {
	l.start()

	var timeout <-chan time.Time
	if l.cfg.Timeout > 0 {
		timer := time.NewTimer(l.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ob, ok := <-l.out:
		if !ok {
			return nil, io.EOF
		}
		if ob.err != nil {
			return nil, ob.err
		}
		return ob.batch, nil
	case <-timeout:
		return nil, fmt.Errorf("dataloader: no batch within %v: %w", l.cfg.Timeout, errs.ErrDataloaderTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("dataloader: %w", errs.ErrCancelled)
	}
}

// Close stops the workers. The loader cannot be reused afterwards.
func (l *Loader) Close() {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	if l.cancelWk != nil {
		l.cancelWk()
	}
}
