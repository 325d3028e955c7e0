package board

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuwacunu/tsi/internal/errs"
)

func TestArtifactRegistryOneShot(t *testing.T) {
	save := func(*ActionContext) error { return nil }
	if err := RegisterArtifactDriver("tsi.test.oneshot", save, nil); err != nil {
		t.Fatal(err)
	}
	if err := RegisterArtifactDriver("tsi.test.oneshot", save, nil); !errors.Is(err, errs.ErrSemantic) {
		t.Fatalf("duplicate registration: err = %v, want semantic", err)
	}
}

func TestDispatchNoDriver(t *testing.T) {
	err := DispatchArtifactSave("tsi.test.unregistered", &ActionContext{})
	if !errors.Is(err, errs.ErrNoDriver) {
		t.Fatalf("err = %v, want no-driver", err)
	}
	err = DispatchArtifactLoad("tsi.test.unregistered", &ActionContext{})
	if !errors.Is(err, errs.ErrNoDriver) {
		t.Fatalf("err = %v, want no-driver", err)
	}
}

func TestDispatchSaveInvokesCallback(t *testing.T) {
	var got *ActionContext
	err := RegisterArtifactDriver("tsi.test.capture",
		func(ctx *ActionContext) error { got = ctx; return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx := &ActionContext{Dir: "/tmp/a", Object: "weights", UserData: 7}
	if err := DispatchArtifactSave("tsi.test.capture", ctx); err != nil {
		t.Fatal(err)
	}
	if got != ctx {
		t.Error("callback did not receive the action context")
	}

	// Callback errors surface verbatim.
	wantErr := errors.New("disk full while writing weights")
	if err := RegisterArtifactDriver("tsi.test.failing",
		func(*ActionContext) error { return wantErr }, nil); err != nil {
		t.Fatal(err)
	}
	if err := DispatchArtifactSave("tsi.test.failing", &ActionContext{}); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want callback error verbatim", err)
	}
}

func TestArtifactDirDeterministic(t *testing.T) {
	root := t.TempDir()
	cfg := []byte(`{"dims": 384}`)

	a, err := ArtifactDir(root, "tsi.wikimyei.representation.vicreg", "crypto", "BTCUSDT", cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ArtifactDir(root, "tsi.wikimyei.representation.vicreg", "crypto", "BTCUSDT", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same inputs resolved to %s and %s", a, b)
	}
	if filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(a)))) != root {
		t.Errorf("dir %s not under <root>/<type>/<family>/<model>/<id>", a)
	}

	c, err := ArtifactDir(root, "tsi.wikimyei.representation.vicreg", "crypto", "BTCUSDT", []byte(`{"dims": 512}`))
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Error("different configuration mapped to the same artifact id")
	}
}

func TestMetadataEncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := bytes.Repeat([]byte{7}, 32)
	meta := []byte(`{"epochs": 12, "loss": 0.03}`)

	path, err := WriteMetadata(dir, meta, key)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "metadata.enc" {
		t.Errorf("wrote %s, want metadata.enc", path)
	}
	// The sealed blob must not contain the plaintext.
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(blob, []byte("epochs")) {
		t.Error("metadata.enc leaks plaintext")
	}

	got, err := ReadMetadata(dir, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, meta) {
		t.Errorf("round trip = %q", got)
	}

	wrong := bytes.Repeat([]byte{8}, 32)
	if _, err := ReadMetadata(dir, wrong); !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("wrong key: err = %v, want auth", err)
	}
}

func TestMetadataPlaintextFallback(t *testing.T) {
	dir := t.TempDir()
	meta := []byte(`{"note": "no key material available"}`)

	path, err := WriteMetadata(dir, meta, nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "metadata.json" {
		t.Errorf("wrote %s, want metadata.json", path)
	}
	got, err := ReadMetadata(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, meta) {
		t.Errorf("round trip = %q", got)
	}

	// Missing metadata is io-missing.
	if _, err := ReadMetadata(t.TempDir(), nil); !errors.Is(err, errs.ErrIOMissing) {
		t.Fatalf("err = %v, want io-missing", err)
	}
}
