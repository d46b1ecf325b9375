// Sealing for sensitive snippets.
//
// Security model:
//  1. A per-install random master key lives next to the database,
//     owner read/write only (0600).
//  2. The sealing key is derived from it with HKDF-SHA256, so rotating
//     the derivation context never touches the key file format.
//  3. Content is sealed with ChaCha20-Poly1305; a wrong key fails
//     closed; the snippet does not load, it never loads garbage.
//
// Sealed content only ever exists decrypted in the in-memory snapshot
// handed to the engine; the database file contains no plaintext of it.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealedPrefix marks sealed content in the content column.
const sealedPrefix = "sealed:v1:"

// hkdfInfo binds derived keys to their purpose.
const hkdfInfo = "snipd snippet content v1"

// ErrSealCorrupt is returned when sealed content cannot be decrypted,
// either because it was tampered with or the key file changed.
var ErrSealCorrupt = errors.New("store: sealed content cannot be opened")

// secretBox seals and opens snippet content.
type secretBox struct {
	key []byte // 32-byte ChaCha20-Poly1305 key
}

// openSecretBox loads the master key at path, creating it on first use.
func openSecretBox(path string) (*secretBox, error) {
	master, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		master = make([]byte, 32)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
		if err := os.WriteFile(path, master, 0600); err != nil {
			return nil, fmt.Errorf("write master key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	if len(master) < 32 {
		return nil, fmt.Errorf("master key too short: %d bytes", len(master))
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, master, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return &secretBox{key: key}, nil
}

// seal encrypts plaintext into the stored representation.
func (b *secretBox) seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a stored representation produced by seal.
func (b *secretBox) open(stored string) (string, error) {
	raw, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing prefix", ErrSealCorrupt)
	}
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealCorrupt, err)
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("%w: truncated", ErrSealCorrupt)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealCorrupt, err)
	}
	return string(plain), nil
}
