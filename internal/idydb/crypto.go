package idydb

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Encrypted container layout (little-endian):
//
//	[8]byte  magic "IDYDBENC"
//	uint16   version
//	uint32   argon time
//	uint32   argon memory (KiB)
//	uint8    argon threads
//	uint8    key length
//	[16]byte salt
//	uint32   page size (plaintext bytes per page)
//	uint32   page count
//	--- per page ---
//	uint32   ciphertext length
//	bytes    nonce || ciphertext (XChaCha20-Poly1305, random nonce per page)
//
// Every page is independently authenticated, so a wrong passphrase fails on
// the first page without touching the rest of the file.
var encMagic = [8]byte{'I', 'D', 'Y', 'D', 'B', 'E', 'N', 'C'}

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16

	// pageSize bounds how much plaintext one AEAD seal covers.
	pageSize = 64 * 1024
)

func hasEncryptedMagic(data []byte) bool {
	return len(data) >= len(encMagic) && bytes.Equal(data[:len(encMagic)], encMagic[:])
}

// deriveKey derives the page key from passphrase + salt using Argon2id.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("idydb: generate salt: %w", err)
	}
	return salt, nil
}

// encryptContainer seals a plaintext image into the on-disk container format.
func encryptContainer(plain, key, salt []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("idydb: create cipher: %w", err)
	}

	pageCount := (len(plain) + pageSize - 1) / pageSize
	if pageCount == 0 {
		pageCount = 1
	}

	var buf bytes.Buffer
	w := &binaryWriter{w: &buf}
	w.write(encMagic)
	w.writeU16(formatVersion)
	w.writeU32(argonTime)
	w.writeU32(argonMemory)
	w.writeU8(argonThreads)
	w.writeU8(argonKeyLen)
	w.writeBytes(salt)
	w.writeU32(pageSize)
	w.writeU32(uint32(pageCount))

	for p := 0; p < pageCount; p++ {
		start := p * pageSize
		end := start + pageSize
		if start > len(plain) {
			start = len(plain)
		}
		if end > len(plain) {
			end = len(plain)
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("idydb: generate nonce: %w", err)
		}
		sealed := aead.Seal(nonce, nonce, plain[start:end], nil)
		w.writeU32(uint32(len(sealed)))
		w.writeBytes(sealed)
	}
	if w.err != nil {
		return nil, fmt.Errorf("idydb: encode container: %w", w.err)
	}
	return buf.Bytes(), nil
}

// decryptContainer opens an encrypted container, returning the stored salt
// and the recovered plaintext image. A failed page authentication reports an
// auth error (the passphrase is wrong, or the file was tampered with).
func decryptContainer(data []byte, passphrase string) (salt, plain []byte, err error) {
	r := &binaryReader{r: bytes.NewReader(data)}

	var gotMagic [8]byte
	r.read(&gotMagic)
	if gotMagic != encMagic {
		return nil, nil, fmt.Errorf("idydb: not an encrypted container: %w", errs.ErrIOCorrupt)
	}
	version := r.readU16()
	if version != formatVersion {
		return nil, nil, fmt.Errorf("idydb: unsupported container version %d: %w", version, errs.ErrIOCorrupt)
	}
	kdfTime := r.readU32()
	kdfMemory := r.readU32()
	kdfThreads := r.readU8()
	kdfKeyLen := r.readU8()
	salt = make([]byte, saltLen)
	r.read(&salt)
	r.readU32() // page size, informational
	pageCount := int(r.readU32())
	if r.err != nil {
		return nil, nil, fmt.Errorf("idydb: container header truncated: %w", errs.ErrIOCorrupt)
	}

	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, uint32(kdfKeyLen))
	aead, cerr := chacha20poly1305.NewX(key)
	if cerr != nil {
		return nil, nil, fmt.Errorf("idydb: create cipher: %w", cerr)
	}

	var out bytes.Buffer
	for p := 0; p < pageCount; p++ {
		n := int(r.readU32())
		sealed := make([]byte, n)
		r.read(&sealed)
		if r.err != nil {
			return nil, nil, fmt.Errorf("idydb: container page %d truncated: %w", p, errs.ErrIOCorrupt)
		}
		if len(sealed) < aead.NonceSize() {
			return nil, nil, fmt.Errorf("idydb: container page %d too short: %w", p, errs.ErrIOCorrupt)
		}
		nonce := sealed[:aead.NonceSize()]
		page, oerr := aead.Open(nil, nonce, sealed[aead.NonceSize():], nil)
		if oerr != nil {
			return nil, nil, fmt.Errorf("idydb: wrong passphrase: %w", errs.ErrAuth)
		}
		out.Write(page)
	}
	return salt, out.Bytes(), nil
}
