package idydb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Plaintext image layout (little-endian):
//
//	[4]byte  magic "IDYD"
//	uint16   version
//	uint32   columnCount
//	--- per column, ascending column id ---
//	uint16   columnID
//	uint64   maxRow (high-water mark; survives deletions)
//	uint64   entryCount
//	--- per entry, ascending row id ---
//	uint64   row
//	uint8    type
//	payload  (see writeValue)
var plainMagic = [4]byte{'I', 'D', 'Y', 'D'}

const formatVersion = uint16(1)

// saveImage serializes the store into a plaintext image. Callers holding the
// store mutex only.
func (s *Store) saveImage() []byte {
	var buf bytes.Buffer
	w := &binaryWriter{w: &buf}

	w.write(plainMagic)
	w.writeU16(formatVersion)
	w.writeU32(uint32(len(s.columns)))

	ids := make([]uint16, 0, len(s.columns))
	for id := range s.columns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		c := s.columns[id]
		w.writeU16(id)
		w.writeU64(c.maxRow)
		w.writeU64(uint64(c.rows.Len()))
		c.rows.Ascend(func(e rowEntry) bool {
			w.writeU64(e.row)
			writeValue(w, e.val)
			return true
		})
	}
	return buf.Bytes()
}

// loadImage replaces the store's columns with the contents of a plaintext
// image.
func (s *Store) loadImage(data []byte) error {
	if len(data) == 0 {
		// A zero-byte file is a freshly created, never-flushed store.
		return nil
	}
	r := &binaryReader{r: bytes.NewReader(data)}

	var gotMagic [4]byte
	r.read(&gotMagic)
	if gotMagic != plainMagic {
		return fmt.Errorf("idydb: %s: bad magic: %w", s.path, errs.ErrIOCorrupt)
	}
	version := r.readU16()
	if version != formatVersion {
		return fmt.Errorf("idydb: %s: unsupported version %d: %w", s.path, version, errs.ErrIOCorrupt)
	}
	columnCount := int(r.readU32())
	if r.err != nil {
		return fmt.Errorf("idydb: %s: read header: %w", s.path, errs.ErrIOCorrupt)
	}

	columns := make(map[uint16]*column, columnCount)
	for i := 0; i < columnCount; i++ {
		id := r.readU16()
		c := newColumn()
		c.maxRow = r.readU64()
		entryCount := int(r.readU64())
		c.hasRows = c.maxRow > 0 || entryCount > 0
		for j := 0; j < entryCount; j++ {
			row := r.readU64()
			v, err := readValue(r)
			if err != nil {
				return fmt.Errorf("idydb: %s: column %d row %d: %w", s.path, id, row, err)
			}
			c.rows.ReplaceOrInsert(rowEntry{row: row, val: v})
		}
		if r.err != nil {
			return fmt.Errorf("idydb: %s: column %d truncated: %w", s.path, id, errs.ErrIOCorrupt)
		}
		columns[id] = c
	}
	s.columns = columns
	return nil
}

func writeValue(w *binaryWriter, v Value) {
	w.writeU8(uint8(v.Type))
	switch v.Type {
	case TypeInt:
		w.writeI32(v.Int)
	case TypeFloat:
		w.writeF32(v.Float)
	case TypeBool:
		if v.Bool {
			w.writeU8(1)
		} else {
			w.writeU8(0)
		}
	case TypeChar:
		w.writeU32(uint32(len(v.Char)))
		w.writeBytes([]byte(v.Char))
	case TypeVector:
		w.writeU16(uint16(len(v.Vector)))
		for _, f := range v.Vector {
			w.writeF32(f)
		}
	}
}

func readValue(r *binaryReader) (Value, error) {
	t := ValueType(r.readU8())
	switch t {
	case TypeInt:
		return Value{Type: t, Int: r.readI32()}, nil
	case TypeFloat:
		return Value{Type: t, Float: r.readF32()}, nil
	case TypeBool:
		return Value{Type: t, Bool: r.readU8() != 0}, nil
	case TypeChar:
		n := int(r.readU32())
		b := make([]byte, n)
		r.read(&b)
		return Value{Type: t, Char: string(b)}, nil
	case TypeVector:
		dims := int(r.readU16())
		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = r.readF32()
		}
		return Value{Type: t, Vector: vec}, nil
	default:
		return Value{}, fmt.Errorf("unknown value type %d: %w", t, errs.ErrIOCorrupt)
	}
}

// binaryWriter wraps an io.Writer and accumulates the first error.
type binaryWriter struct {
	w   io.Writer
	err error
}

func (bw *binaryWriter) write(v any) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, binary.LittleEndian, v)
}
func (bw *binaryWriter) writeU8(v uint8)   { bw.write(v) }
func (bw *binaryWriter) writeU16(v uint16) { bw.write(v) }
func (bw *binaryWriter) writeU32(v uint32) { bw.write(v) }
func (bw *binaryWriter) writeU64(v uint64) { bw.write(v) }
func (bw *binaryWriter) writeI32(v int32)  { bw.write(v) }
func (bw *binaryWriter) writeF32(v float32) {
	bw.write(v)
}
func (bw *binaryWriter) writeBytes(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

// binaryReader wraps an io.Reader and accumulates the first error.
type binaryReader struct {
	r   io.Reader
	err error
}

func (br *binaryReader) read(v any) {
	if br.err != nil {
		return
	}
	switch b := v.(type) {
	case *[]byte:
		_, br.err = io.ReadFull(br.r, *b)
	default:
		br.err = binary.Read(br.r, binary.LittleEndian, v)
	}
}
func (br *binaryReader) readU8() uint8 {
	var v uint8
	br.read(&v)
	return v
}
func (br *binaryReader) readU16() uint16 {
	var v uint16
	br.read(&v)
	return v
}
func (br *binaryReader) readU32() uint32 {
	var v uint32
	br.read(&v)
	return v
}
func (br *binaryReader) readU64() uint64 {
	var v uint64
	br.read(&v)
	return v
}
func (br *binaryReader) readI32() int32 {
	var v int32
	br.read(&v)
	return v
}
func (br *binaryReader) readF32() float32 {
	var v float32
	br.read(&v)
	return v
}
