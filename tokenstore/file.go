package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

const nonceSize = 24

// FileStore keeps tokens in a single JSON document on disk, optionally sealed with secretbox.
// Writes go to a temporary file that is renamed over the original, so a crash never leaves a
// half-written document behind.
type FileStore struct {
	path string
	key  *[32]byte
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

type FileOption func(*FileStore)

// WithEncryptionKey seals the document with the given 32 byte key.
func WithEncryptionKey(key [32]byte) FileOption {
	return func(f *FileStore) {
		f.key = &key
	}
}

// ParseKeyHex decodes a 64 character hex string into a secretbox key.
func ParseKeyHex(s string) ([32]byte, error) {
	var key [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("[tokenstore.ParseKeyHex] decode: %w", err)
	}
	if len(b) != len(key) {
		return key, fmt.Errorf("[tokenstore.ParseKeyHex] key must be %d bytes, got %d", len(key), len(b))
	}
	copy(key[:], b)
	return key, nil
}

func NewFileStore(path string, options ...FileOption) *FileStore {
	f := &FileStore{path: path}
	for _, opt := range options {
		opt(f)
	}
	return f
}

func (f *FileStore) Get(_ context.Context, key Key) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key Key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc[key] = value
	return f.write(doc)
}

func (f *FileStore) Remove(_ context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return f.write(doc)
}

func (f *FileStore) read() (map[Key]string, error) {
	doc := make(map[Key]string)

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[FileStore] read %s: %w", f.path, err)
	}
	if len(b) == 0 {
		return doc, nil
	}

	if f.key != nil {
		if len(b) < nonceSize {
			return nil, fmt.Errorf("[FileStore] sealed document too short")
		}
		var nonce [nonceSize]byte
		copy(nonce[:], b[:nonceSize])
		opened, ok := secretbox.Open(nil, b[nonceSize:], &nonce, f.key)
		if !ok {
			return nil, fmt.Errorf("[FileStore] unable to open sealed document, wrong key?")
		}
		b = opened
	}

	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("[FileStore] decode %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *FileStore) write(doc map[Key]string) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("[FileStore] encode: %w", err)
	}

	if f.key != nil {
		var nonce [nonceSize]byte
		if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
			return fmt.Errorf("[FileStore] nonce: %w", err)
		}
		b = secretbox.Seal(nonce[:], b, &nonce, f.key)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("[FileStore] mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("[FileStore] create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("[FileStore] write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("[FileStore] sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileStore] close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("[FileStore] chmod: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("[FileStore] rename: %w", err)
	}
	return nil
}
