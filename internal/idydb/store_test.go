package idydb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuwacunu/tsi/internal/errs"
)

func mustOpen(t *testing.T, path string, flags Flags) *Store {
	t.Helper()
	s, err := Open(path, flags)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	return s
}

func TestPlaintextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.idydb")

	s := mustOpen(t, path, FlagCreate)
	if err := s.InsertInt(1, 1, 1337); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertFloat(1, 2, 3.14159); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertConstChar(1, 3, "hello world"); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertBool(1, 4, true); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertVector(2, 1, []float32{1, 0, 0, 0}, 4); err != nil {
		t.Fatal(err)
	}

	if v := s.Extract(1, 1); v.Type != TypeInt || v.Int != 1337 {
		t.Errorf("extract(1,1) = %+v", v)
	}
	if v := s.Extract(1, 2); v.Type != TypeFloat || v.Float != 3.14159 {
		t.Errorf("extract(1,2) = %+v", v)
	}
	if v := s.Extract(1, 3); v.Type != TypeChar || v.Char != "hello world" {
		t.Errorf("extract(1,3) = %+v", v)
	}
	if v := s.Extract(1, 4); v.Type != TypeBool || !v.Bool {
		t.Errorf("extract(1,4) = %+v", v)
	}
	if v := s.Extract(2, 1); v.Type != TypeVector || len(v.Vector) != 4 || v.Vector[0] != 1 {
		t.Errorf("extract(2,1) = %+v", v)
	}

	if err := s.Delete(1, 3); err != nil {
		t.Fatal(err)
	}
	if v := s.Extract(1, 3); v.Type != TypeNull {
		t.Errorf("extract after delete = %+v", v)
	}
	if n := s.ColumnNextRow(1); n != 5 {
		t.Errorf("column_next_row(1) = %d, want 5", n)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: inserted values survive, deletion survives, next_row unchanged.
	s2 := mustOpen(t, path, 0)
	defer s2.Close()
	if v := s2.Extract(1, 1); v.Type != TypeInt || v.Int != 1337 {
		t.Errorf("reopen extract(1,1) = %+v", v)
	}
	if v := s2.Extract(1, 3); v.Type != TypeNull {
		t.Errorf("reopen extract(1,3) = %+v, want NULL", v)
	}
	if n := s2.ColumnNextRow(1); n != 5 {
		t.Errorf("reopen column_next_row(1) = %d, want 5", n)
	}
}

func TestColumnNextRowEmpty(t *testing.T) {
	s := mustOpen(t, filepath.Join(t.TempDir(), "empty.idydb"), FlagCreate)
	defer s.Close()
	if n := s.ColumnNextRow(7); n != 1 {
		t.Errorf("column_next_row on empty column = %d, want 1", n)
	}
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.idydb"), 0)
	if !errors.Is(err, errs.ErrIOMissing) {
		t.Fatalf("err = %v, want io-missing", err)
	}
}

func TestReadonlyBlocksMutators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.idydb")
	s := mustOpen(t, path, FlagCreate)
	if err := s.InsertInt(1, 1, 42); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	ro := mustOpen(t, path, FlagReadonly)
	defer ro.Close()
	if err := ro.InsertInt(1, 2, 7); !errors.Is(err, errs.ErrReadonly) {
		t.Errorf("insert on readonly: err = %v, want readonly", err)
	}
	if err := ro.Delete(1, 1); !errors.Is(err, errs.ErrReadonly) {
		t.Errorf("delete on readonly: err = %v, want readonly", err)
	}
	if v := ro.Extract(1, 1); v.Type != TypeInt || v.Int != 42 {
		t.Errorf("readonly extract = %+v", v)
	}
}

func TestEncryptedMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.idydb")

	// Plaintext db with two values.
	s := mustOpen(t, path, FlagCreate)
	if err := s.InsertInt(1, 1, 7); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertConstChar(2, 1, "migrate-me"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Open encrypted over the plaintext file: migration mode, reads succeed.
	enc, err := OpenEncrypted(path, 0, "hunter2")
	if err != nil {
		t.Fatalf("open_encrypted over plaintext: %v", err)
	}
	if !enc.Migrating() {
		t.Error("expected migration mode")
	}
	if v := enc.Extract(1, 1); v.Type != TypeInt || v.Int != 7 {
		t.Errorf("migration extract(1,1) = %+v", v)
	}
	if v := enc.Extract(2, 1); v.Type != TypeChar || v.Char != "migrate-me" {
		t.Errorf("migration extract(2,1) = %+v", v)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	// File now begins with the encrypted magic.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:8]) != "IDYDBENC" {
		t.Fatalf("file magic = %q, want IDYDBENC", data[:8])
	}

	// Reopen encrypted with the same passphrase: rows identical.
	enc2, err := OpenEncrypted(path, 0, "hunter2")
	if err != nil {
		t.Fatalf("reopen encrypted: %v", err)
	}
	if v := enc2.Extract(1, 1); v.Type != TypeInt || v.Int != 7 {
		t.Errorf("encrypted extract(1,1) = %+v", v)
	}
	if v := enc2.Extract(2, 1); v.Type != TypeChar || v.Char != "migrate-me" {
		t.Errorf("encrypted extract(2,1) = %+v", v)
	}
	if err := enc2.Close(); err != nil {
		t.Fatal(err)
	}

	// Wrong passphrase fails with auth.
	_, err = OpenEncrypted(path, 0, "wrong")
	if !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("wrong passphrase: err = %v, want auth", err)
	}

	// Plaintext open of an encrypted container also fails with auth.
	_, err = Open(path, 0)
	if !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("plaintext open of encrypted file: err = %v, want auth", err)
	}
}

func TestEncryptedCreateIdempotentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enc.idydb")

	s, err := OpenEncrypted(path, FlagCreate, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertFloat(3, 9, 2.5); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenEncrypted(path, 0, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if v := s2.Extract(3, 9); v.Type != TypeFloat || v.Float != 2.5 {
		t.Errorf("extract = %+v", v)
	}
	if err := s2.Close(); err != nil {
		t.Fatal(err)
	}

	// Close without writes is idempotent: same passphrase keeps working.
	s3, err := OpenEncrypted(path, 0, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if v := s3.Extract(3, 9); v.Type != TypeFloat || v.Float != 2.5 {
		t.Errorf("extract after idempotent reopen = %+v", v)
	}
	s3.Close()
}

func TestConcurrentProcessRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.idydb")
	s := mustOpen(t, path, FlagCreate)
	defer s.Close()

	// A second open of the same path while the lock is held must fail. The
	// flock lock belongs to the open file description, so a second Open in
	// this process conflicts with the first just as another process would.
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if s2, err := Open(path, 0); err == nil {
		s2.Close()
		t.Fatal("second open of a locked store succeeded")
	}
}
