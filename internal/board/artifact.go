package board

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cuwacunu/tsi/internal/errs"
)

// ActionContext is handed to artifact callbacks: the resolved artifact
// directory, the component-owned object being saved or loaded, and opaque
// caller data. The registry owns no component state.
type ActionContext struct {
	Dir      string
	Object   any
	UserData any
}

// SaveFunc persists a component's state into ctx.Dir.
type SaveFunc func(ctx *ActionContext) error

// LoadFunc restores a component's state from ctx.Dir.
type LoadFunc func(ctx *ActionContext) error

type artifactDriver struct {
	save SaveFunc
	load LoadFunc
}

// The driver registry is process-global with one-shot registration per
// canonical type, the explicit init-once lifecycle of every process-wide
// singleton in this module.
var drivers = struct {
	mu sync.Mutex
	m  map[string]artifactDriver
}{m: make(map[string]artifactDriver)}

// RegisterArtifactDriver installs the save/load callbacks for a canonical
// type. Registering an existing key fails.
func RegisterArtifactDriver(canonical string, save SaveFunc, load LoadFunc) error {
	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	if _, exists := drivers.m[canonical]; exists {
		return fmt.Errorf("board: artifact driver %q already registered: %w", canonical, errs.ErrSemantic)
	}
	drivers.m[canonical] = artifactDriver{save: save, load: load}
	return nil
}

func lookupDriver(canonical string) (artifactDriver, error) {
	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	d, ok := drivers.m[canonical]
	if !ok {
		return artifactDriver{}, fmt.Errorf("board: no artifact driver for %q: %w", canonical, errs.ErrNoDriver)
	}
	return d, nil
}

// DispatchArtifactSave invokes the save callback registered for a canonical
// type. Callback errors surface verbatim.
func DispatchArtifactSave(canonical string, ctx *ActionContext) error {
	d, err := lookupDriver(canonical)
	if err != nil {
		return err
	}
	if d.save == nil {
		return fmt.Errorf("board: driver %q has no save callback: %w", canonical, errs.ErrNoDriver)
	}
	return d.save(ctx)
}

// DispatchArtifactLoad invokes the load callback registered for a canonical
// type.
func DispatchArtifactLoad(canonical string, ctx *ActionContext) error {
	d, err := lookupDriver(canonical)
	if err != nil {
		return err
	}
	if d.load == nil {
		return fmt.Errorf("board: driver %q has no load callback: %w", canonical, errs.ErrNoDriver)
	}
	return d.load(ctx)
}

// ArtifactID fingerprints the inputs that fully determine an artifact's
// content, so re-invocations land deterministically in the same directory.
func ArtifactID(canonical, family, model string, configuration []byte) string {
	h := sha256.New()
	h.Write([]byte(canonical))
	h.Write([]byte{0})
	h.Write([]byte(family))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write(configuration)
	return hex.EncodeToString(h.Sum(nil))
}

// ArtifactDir resolves <root>/<canonical>/<family>/<model>/<id>/, creating
// it if needed.
func ArtifactDir(root, canonical, family, model string, configuration []byte) (string, error) {
	id := ArtifactID(canonical, family, model, configuration)
	dir := filepath.Join(root, canonical, family, model, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("board: mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultArtifactRoot resolves the artifact root, honoring the single
// recognized environment override.
func DefaultArtifactRoot() string {
	if v := os.Getenv("TSI_ARTIFACT_ROOT"); v != "" {
		return v
	}
	return ".tsi/artifacts"
}

const (
	metadataEncName   = "metadata.enc"
	metadataPlainName = "metadata.json"
)

// WriteMetadata stores an artifact's metadata JSON next to its weights.
// With a 32-byte key it is sealed into metadata.enc; without key material it
// falls back to a plaintext metadata.json sibling. Returns the path written.
func WriteMetadata(dir string, meta []byte, key []byte) (string, error) {
	if len(key) == 0 {
		path := filepath.Join(dir, metadataPlainName)
		if err := os.WriteFile(path, meta, 0o644); err != nil {
			return "", fmt.Errorf("board: write %s: %w", path, err)
		}
		return path, nil
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("board: metadata cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("board: metadata nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, meta, nil)
	path := filepath.Join(dir, metadataEncName)
	if err := os.WriteFile(path, sealed, 0o644); err != nil {
		return "", fmt.Errorf("board: write %s: %w", path, err)
	}
	return path, nil
}

// ReadMetadata loads an artifact's metadata, trying metadata.enc first when
// a key is supplied and falling back to the plaintext sibling.
func ReadMetadata(dir string, key []byte) ([]byte, error) {
	if len(key) > 0 {
		if sealed, err := os.ReadFile(filepath.Join(dir, metadataEncName)); err == nil {
			aead, err := chacha20poly1305.NewX(key)
			if err != nil {
				return nil, fmt.Errorf("board: metadata cipher: %w", err)
			}
			if len(sealed) < aead.NonceSize() {
				return nil, fmt.Errorf("board: metadata too short: %w", errs.ErrIOCorrupt)
			}
			meta, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
			if err != nil {
				return nil, fmt.Errorf("board: metadata: %w", errs.ErrAuth)
			}
			return meta, nil
		}
	}
	meta, err := os.ReadFile(filepath.Join(dir, metadataPlainName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("board: no metadata in %s: %w", dir, errs.ErrIOMissing)
		}
		return nil, fmt.Errorf("board: read metadata: %w", err)
	}
	return meta, nil
}
