package mock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/getmockd/mockproxy/internal/document"
)

// Causes wrapped by LoadError.
var (
	ErrNotFound      = errors.New("mock response not found")
	ErrUnreadable    = errors.New("mock response unreadable")
	ErrInvalidSyntax = errors.New("invalid mock response syntax")
	ErrInvalidMock   = errors.New("invalid mock response")
)

// LoadError reports that the mock response for a matched rule could not be
// loaded. It affects only the request that triggered it.
type LoadError struct {
	// Ref is the mockResponsePath of the matched rule.
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading mock %s: %v", e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Reader loads a mock response by reference. Implementations must read the
// source on every call.
type Reader interface {
	Read(ctx context.Context, ref string) (*Response, error)
}

// FileReader reads mock responses from disk.
type FileReader struct {
	// BaseDir resolves relative references. Empty means the working directory.
	BaseDir string
}

// NewFileReader returns a FileReader rooted at baseDir.
func NewFileReader(baseDir string) *FileReader {
	return &FileReader{BaseDir: baseDir}
}

// Resolve returns the file path for ref.
func (r *FileReader) Resolve(ref string) string {
	if strings.HasPrefix(ref, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ref[2:])
		}
	}
	if filepath.IsAbs(ref) || r.BaseDir == "" {
		return ref
	}
	return filepath.Join(r.BaseDir, ref)
}

// Read reads and parses the mock file for ref.
func (r *FileReader) Read(ctx context.Context, ref string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := r.Resolve(ref)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Ref: ref, Err: fmt.Errorf("%w: %s", ErrNotFound, path)}
		}
		return nil, &LoadError{Ref: ref, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}

	resp, err := Parse(data, document.FormatFromPath(path))
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	return resp, nil
}

// MemoryReader serves mock documents held in memory, keyed by reference. The
// document format follows the reference's extension. Documents are parsed on
// every Read, like files.
type MemoryReader struct {
	mu   sync.RWMutex
	docs map[string]string
}

// NewMemoryReader returns a MemoryReader holding a copy of docs.
func NewMemoryReader(docs map[string]string) *MemoryReader {
	m := &MemoryReader{docs: make(map[string]string, len(docs))}
	for ref, doc := range docs {
		m.docs[ref] = doc
	}
	return m
}

// Set stores or replaces the document for ref.
func (m *MemoryReader) Set(ref, doc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[ref] = doc
}

// Delete removes the document for ref.
func (m *MemoryReader) Delete(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, ref)
}

// Read parses the document stored for ref.
func (m *MemoryReader) Read(ctx context.Context, ref string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	doc, ok := m.docs[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, &LoadError{Ref: ref, Err: ErrNotFound}
	}

	resp, err := Parse([]byte(doc), document.FormatFromPath(ref))
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	return resp, nil
}
