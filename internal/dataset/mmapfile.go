package dataset

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"

	"github.com/cuwacunu/tsi/internal/errs"
)

// MappedFile is a read-only memory mapping of one fixed-width record file.
// The mapping is immutable once opened, so concurrent readers need no
// locking; worker goroutines hold non-owning views bounded by the owning
// dataset's lifetime.
type MappedFile struct {
	f    *os.File
	data mmap.MMap
	rt   RecordType
	n    int

	// Interpolation fast path: set when the timestamp column has a constant
	// stride. Lookup falls back to binary search otherwise.
	uniform bool
	t0      int64
	stride  int64
}

// OpenMapped maps a record file read-only. A missing file fails with
// io-missing; a size that is not a whole number of records, or a timestamp
// column that is not strictly increasing, fails with io-corrupt.
func OpenMapped(path string, rt RecordType) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("dataset: %s: %w", path, errs.ErrIOMissing)
		}
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: stat %s: %w", path, err)
	}
	width := int64(rt.Width())
	if info.Size() == 0 || info.Size()%width != 0 {
		f.Close()
		return nil, fmt.Errorf("dataset: %s: size %d not a multiple of record width %d: %w",
			path, info.Size(), width, errs.ErrIOCorrupt)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: mmap %s: %w", path, err)
	}

	m := &MappedFile{f: f, data: data, rt: rt, n: int(info.Size() / width)}

	// Verify monotonicity once at open and detect a uniform stride for the
	// interpolation fast path at the same time.
	m.t0 = m.Timestamp(0)
	prev := m.t0
	m.uniform = m.n > 1
	for i := 1; i < m.n; i++ {
		ts := m.Timestamp(i)
		if ts <= prev {
			m.Close()
			return nil, fmt.Errorf("dataset: %s: timestamp %d at record %d not strictly increasing: %w",
				path, ts, i, errs.ErrIOCorrupt)
		}
		if i == 1 {
			m.stride = ts - prev
		} else if ts-prev != m.stride {
			m.uniform = false
		}
		prev = ts
	}
	return m, nil
}

// Close unmaps and closes the file.
func (m *MappedFile) Close() error {
	var first error
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			first = err
		}
		m.data = nil
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil && first == nil {
			first = err
		}
		m.f = nil
	}
	return first
}

// Len returns the record count.
func (m *MappedFile) Len() int { return m.n }

// Record returns the record type.
func (m *MappedFile) Record() RecordType { return m.rt }

// Timestamp reads record i's millisecond timestamp.
func (m *MappedFile) Timestamp(i int) int64 {
	off := i * m.rt.Width()
	return int64(binary.LittleEndian.Uint64(m.data[off : off+8]))
}

// Field reads field f of record i.
func (m *MappedFile) Field(i, f int) float64 {
	off := i*m.rt.Width() + timestampWidth + 8*f
	return math.Float64frombits(binary.LittleEndian.Uint64(m.data[off : off+8]))
}

// Fields reads every numeric field of record i.
func (m *MappedFile) Fields(i int) []float64 {
	out := make([]float64, len(m.rt.Fields))
	for f := range out {
		out[f] = m.Field(i, f)
	}
	return out
}

// LookupTimestamp returns the index of the latest record whose timestamp is
// <= ts (so a window anchored there never reads the future), and whether the
// match is exact. ts before the first record returns (-1, false).
//
// When the column is uniformly spaced the index is computed directly from the
// stride; the general path is a binary search, which stays correct under the
// irregular gaps real market data has.
func (m *MappedFile) LookupTimestamp(ts int64) (index int, exact bool) {
	if m.n == 0 || ts < m.t0 {
		return -1, false
	}
	if m.uniform && m.stride > 0 {
		i := int((ts - m.t0) / m.stride)
		if i >= m.n {
			i = m.n - 1
		}
		return i, m.Timestamp(i) == ts
	}
	// First index with timestamp > ts, minus one.
	i := sort.Search(m.n, func(i int) bool { return m.Timestamp(i) > ts }) - 1
	return i, i >= 0 && m.Timestamp(i) == ts
}

// SameShape reports whether two mappings agree on record count and on every
// timestamp, the raw-vs-normalized invariant of the binarizer.
func SameShape(a, b *MappedFile) bool {
	if a.n != b.n {
		return false
	}
	for i := 0; i < a.n; i++ {
		if a.Timestamp(i) != b.Timestamp(i) {
			return false
		}
	}
	return true
}
