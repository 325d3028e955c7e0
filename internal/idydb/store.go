// Package idydb is the embedded, file-backed record store: typed columnar
// rows addressed by (column, row), an optional page-encrypted on-disk
// container, and a vector column surface with kNN search and a RAG context
// builder on top of it.
//
// The store is single-process: an advisory file lock is taken on open and a
// second process opening the same path is rejected there. Threads within the
// process serialize through one internal mutex.
package idydb

import (
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/btree"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Flags select open behavior.
type Flags uint8

const (
	// FlagCreate creates the file when it does not exist.
	FlagCreate Flags = 1 << iota
	// FlagReadonly blocks every mutator with a readonly error.
	FlagReadonly
)

// ValueType tags the variant stored in a row.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeChar
	TypeVector
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeBool:
		return "BOOL"
	case TypeChar:
		return "CHAR"
	case TypeVector:
		return "VECTOR"
	default:
		return "NULL"
	}
}

// Value is one stored cell. Exactly one payload field is meaningful, selected
// by Type; extracting an absent or deleted row yields Type == TypeNull.
type Value struct {
	Type   ValueType
	Int    int32
	Float  float32
	Bool   bool
	Char   string
	Vector []float32
}

// rowEntry is one present row of a column.
type rowEntry struct {
	row uint64
	val Value
}

func rowLess(a, b rowEntry) bool { return a.row < b.row }

// column is a sparse ordered set of rows plus the high-water mark that
// ColumnNextRow reports. Deletions remove entries from the tree but never
// lower maxRow.
type column struct {
	rows    *btree.BTreeG[rowEntry]
	maxRow  uint64
	hasRows bool
}

func newColumn() *column {
	return &column{rows: btree.NewG(16, rowLess)}
}

// Store is an open idydb file.
type Store struct {
	mu       sync.Mutex
	path     string
	readonly bool
	columns  map[uint16]*column

	// encryption state; key is nil for a plaintext store. migrating marks a
	// plaintext file opened through OpenEncrypted: reads come from the
	// plaintext image and Close rewrites the file encrypted.
	key       []byte
	salt      []byte
	migrating bool

	lock     *flock.Flock
	embedder EmbedFunc
}

// Open opens (or with FlagCreate, creates) a plaintext store at path.
// Opening an encrypted container without a passphrase fails with an auth
// error; use OpenEncrypted.
func Open(path string, flags Flags) (*Store, error) {
	return open(path, flags, "")
}

// OpenEncrypted opens (or creates) an encrypted store at path. When path
// holds a pre-existing plaintext file the store enters migration mode: reads
// are served from the plaintext backing and, if writable, Close rewrites the
// file in encrypted form. A wrong passphrase fails with an auth error.
func OpenEncrypted(path string, flags Flags, passphrase string) (*Store, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("idydb: empty passphrase: %w", errs.ErrAuth)
	}
	return open(path, flags, passphrase)
}

func open(path string, flags Flags, passphrase string) (*Store, error) {
	s := &Store{
		path:     path,
		readonly: flags&FlagReadonly != 0,
		columns:  make(map[uint16]*column),
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("idydb: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("idydb: %s is opened by another process", path)
	}
	s.lock = lock

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if flags&FlagCreate == 0 {
			s.unlock()
			return nil, fmt.Errorf("idydb: %s: %w", path, errs.ErrIOMissing)
		}
		// Fresh file: nothing to load. An encrypted store derives its key from
		// a new random salt so the first Close writes a complete container.
		if passphrase != "" {
			salt, err := newSalt()
			if err != nil {
				s.unlock()
				return nil, err
			}
			s.salt = salt
			s.key = deriveKey(passphrase, salt)
		}
		return s, nil
	case err != nil:
		s.unlock()
		return nil, fmt.Errorf("idydb: read %s: %w", path, err)
	}

	encrypted := hasEncryptedMagic(data)
	switch {
	case encrypted && passphrase == "":
		s.unlock()
		return nil, fmt.Errorf("idydb: %s is encrypted, passphrase required: %w", path, errs.ErrAuth)
	case encrypted:
		salt, plain, err := decryptContainer(data, passphrase)
		if err != nil {
			s.unlock()
			return nil, err
		}
		s.salt = salt
		s.key = deriveKey(passphrase, salt)
		if err := s.loadImage(plain); err != nil {
			s.unlock()
			return nil, err
		}
	case passphrase != "":
		// Plaintext file opened encrypted: migration mode.
		if err := s.loadImage(data); err != nil {
			s.unlock()
			return nil, err
		}
		salt, err := newSalt()
		if err != nil {
			s.unlock()
			return nil, err
		}
		s.salt = salt
		s.key = deriveKey(passphrase, salt)
		s.migrating = true
	default:
		if err := s.loadImage(data); err != nil {
			s.unlock()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// Close flushes the store back to disk (unless readonly) and releases the
// advisory lock. A migrating store is rewritten in encrypted form here.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.unlock()

	if s.readonly {
		return nil
	}
	return s.flushLocked()
}

// Flush writes the current image to disk without closing.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readonly {
		return fmt.Errorf("idydb: flush: %w", errs.ErrReadonly)
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	image := s.saveImage()
	var out []byte
	if s.key != nil {
		enc, err := encryptContainer(image, s.key, s.salt)
		if err != nil {
			return err
		}
		out = enc
		s.migrating = false
	} else {
		out = image
	}
	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("idydb: write %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) mutable() error {
	if s.readonly {
		return fmt.Errorf("idydb: store is read-only: %w", errs.ErrReadonly)
	}
	return nil
}

func (s *Store) columnFor(col uint16) *column {
	c, ok := s.columns[col]
	if !ok {
		c = newColumn()
		s.columns[col] = c
	}
	return c
}

func (s *Store) insert(col uint16, row uint64, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	c := s.columnFor(col)
	c.rows.ReplaceOrInsert(rowEntry{row: row, val: v})
	if !c.hasRows || row > c.maxRow {
		c.maxRow = row
		c.hasRows = true
	}
	return nil
}

// InsertInt stores an int32 at (col, row), replacing any existing value.
func (s *Store) InsertInt(col uint16, row uint64, v int32) error {
	return s.insert(col, row, Value{Type: TypeInt, Int: v})
}

// InsertFloat stores a float32 at (col, row).
func (s *Store) InsertFloat(col uint16, row uint64, v float32) error {
	return s.insert(col, row, Value{Type: TypeFloat, Float: v})
}

// InsertBool stores a bool at (col, row).
func (s *Store) InsertBool(col uint16, row uint64, v bool) error {
	return s.insert(col, row, Value{Type: TypeBool, Bool: v})
}

// InsertConstChar stores a UTF-8 string at (col, row).
func (s *Store) InsertConstChar(col uint16, row uint64, v string) error {
	return s.insert(col, row, Value{Type: TypeChar, Char: v})
}

// InsertVector stores a fixed-dimension float32 vector at (col, row). dims
// must match len(v).
func (s *Store) InsertVector(col uint16, row uint64, v []float32, dims uint16) error {
	if int(dims) != len(v) {
		return fmt.Errorf("idydb: vector dims %d != len %d: %w", dims, len(v), errs.ErrSemantic)
	}
	vec := append([]float32(nil), v...)
	return s.insert(col, row, Value{Type: TypeVector, Vector: vec})
}

// Extract reads (col, row). Absent or deleted rows yield a TypeNull value,
// never an error.
func (s *Store) Extract(col uint16, row uint64) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.columns[col]
	if !ok {
		return Value{}
	}
	e, ok := c.rows.Get(rowEntry{row: row})
	if !ok {
		return Value{}
	}
	return e.val
}

// Delete removes (col, row). The column's high-water mark is unaffected, so
// ColumnNextRow keeps reporting one past the historical maximum.
func (s *Store) Delete(col uint16, row uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if c, ok := s.columns[col]; ok {
		c.rows.Delete(rowEntry{row: row})
	}
	return nil
}

// ColumnNextRow reports max(row)+1 for a column, or 1 when the column has
// never held a row. Deletions do not lower the result.
func (s *Store) ColumnNextRow(col uint16) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.columns[col]
	if !ok || !c.hasRows {
		return 1
	}
	return c.maxRow + 1
}

// Migrating reports whether the store was opened encrypted over a plaintext
// file and has not yet been rewritten.
func (s *Store) Migrating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrating
}

// scanColumn visits every present row of a column in ascending row order.
func (s *Store) scanColumn(col uint16, fn func(row uint64, v Value) bool) {
	c, ok := s.columns[col]
	if !ok {
		return
	}
	c.rows.Ascend(func(e rowEntry) bool { return fn(e.row, e.val) })
}
