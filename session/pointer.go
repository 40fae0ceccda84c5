// Package session keeps client-side conversation state: the durable "last
// looked at" session pointer and a cached copy of its turn log, plus the
// Manager that resumes from both against the authoritative store.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/BaSui01/personaflow/types"
)

// ActivePointer remembers which session the user last opened. Load returns
// the empty string when no session is active.
type ActivePointer interface {
	Load(ctx context.Context) (string, error)
	Store(ctx context.Context, sessionID string) error
	Clear(ctx context.Context) error
}

// FilePointer persists the pointer as a small JSON file. Writes go through
// a temp file and rename, so a crash never leaves a torn pointer.
type FilePointer struct {
	path string
	mu   sync.Mutex
}

type pointerFile struct {
	SessionID string `json:"session_id"`
}

// NewFilePointer creates a pointer stored at path.
func NewFilePointer(path string) *FilePointer {
	return &FilePointer{path: path}
}

// Load implements ActivePointer.
func (p *FilePointer) Load(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", types.NewError(types.ErrStore, "read session pointer").WithCause(err)
	}
	var pf pointerFile
	if err := json.Unmarshal(data, &pf); err != nil {
		// A corrupt pointer file behaves like no pointer at all.
		return "", nil
	}
	return pf.SessionID, nil
}

// Store implements ActivePointer.
func (p *FilePointer) Store(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(pointerFile{SessionID: sessionID})
	if err != nil {
		return types.NewError(types.ErrStore, "encode session pointer").WithCause(err)
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewError(types.ErrStore, "create pointer dir").WithCause(err)
	}
	tmp, err := os.CreateTemp(dir, ".pointer-*")
	if err != nil {
		return types.NewError(types.ErrStore, "create temp pointer").WithCause(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return types.NewError(types.ErrStore, "write pointer").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return types.NewError(types.ErrStore, "close pointer").WithCause(err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return types.NewError(types.ErrStore, "replace pointer").WithCause(err)
	}
	return nil
}

// Clear implements ActivePointer.
func (p *FilePointer) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return types.NewError(types.ErrStore, "remove pointer").WithCause(err)
	}
	return nil
}

// MemoryPointer is an in-process ActivePointer for tests and embedded use.
type MemoryPointer struct {
	mu sync.Mutex
	id string
}

// NewMemoryPointer creates an unset pointer.
func NewMemoryPointer() *MemoryPointer { return &MemoryPointer{} }

func (p *MemoryPointer) Load(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, nil
}

func (p *MemoryPointer) Store(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = sessionID
	return nil
}

func (p *MemoryPointer) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = ""
	return nil
}
