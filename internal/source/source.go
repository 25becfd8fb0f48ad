// Package source abstracts where packet logs are read from and how their freshness is fingerprinted.
package source

import (
	"Go2NetSentinel/internal/model"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// Source is a readable packet log with a cheap change fingerprint.
type Source interface {
	// ID identifies the source; it is the cache key.
	ID() string
	// Open returns a reader over the raw delimited rows.
	Open() (io.ReadCloser, error)
	// Fingerprint summarises the current content without reprocessing it.
	Fingerprint() (string, error)
}

// File is a source backed by a file on disk.
type File struct {
	path string
}

// NewFile creates a file source.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) ID() string {
	return f.path
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, wrapNotFound(f.path, err)
	}
	return file, nil
}

// Fingerprint uses modification time and size, falling back to a content hash
// when the filesystem reports no modification time.
func (f *File) Fingerprint() (string, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return "", wrapNotFound(f.path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %s is a directory", f.path)
	}
	if info.ModTime().IsZero() {
		file, err := os.Open(f.path)
		if err != nil {
			return "", wrapNotFound(f.path, err)
		}
		defer file.Close()
		return hashReader(file)
	}
	return fmt.Sprintf("mtime:%d:size:%d", info.ModTime().UnixNano(), info.Size()), nil
}

func wrapNotFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, path)
	}
	return fmt.Errorf("failed to access source %s: %w", path, err)
}

func hashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash source: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Memory is an in-memory source, fingerprinted by content hash.
// Its content can be replaced concurrently with reads.
type Memory struct {
	id string

	mu      sync.RWMutex
	data    []byte
	present bool
}

// NewMemory creates an in-memory source holding data.
func NewMemory(id string, data []byte) *Memory {
	return &Memory{id: id, data: bytes.Clone(data), present: true}
}

func (m *Memory) ID() string {
	return m.id
}

// Set replaces the content.
func (m *Memory) Set(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = bytes.Clone(data)
	m.present = true
}

// Remove makes the source report ErrNotFound until the next Set.
func (m *Memory) Remove() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.present = false
}

func (m *Memory) snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.present {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, m.id)
	}
	return m.data, nil
}

func (m *Memory) Open() (io.ReadCloser, error) {
	data, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Fingerprint() (string, error) {
	data, err := m.snapshot()
	if err != nil {
		return "", err
	}
	return hashReader(bytes.NewReader(data))
}
