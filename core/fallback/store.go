// Package fallback persists the last-known-good clock offset so that
// estimates remain useful before the first trusted sample of a cycle.
package fallback

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// A Store holds a single persisted offset value in seconds.
type Store interface {
	// Offset returns the persisted offset, or 0 when none has been
	// persisted yet.
	Offset() float64
	// SetOffset persists v; the most recent write wins.
	SetOffset(v float64) error
}

type record struct {
	Offset float64 `toml:"offset"`
}

// FileStore persists the offset as a small TOML file. Writes go through a
// temporary file and rename so a crash never leaves a torn record.
type FileStore struct {
	path string

	mu     sync.Mutex
	offset float64
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens or creates the store at path. A missing file is not
// an error and yields offset 0.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var r record
	err = toml.NewDecoder(bytes.NewReader(raw)).Decode(&r)
	if err != nil {
		return nil, err
	}
	s.offset = r.Offset
	return s, nil
}

func (s *FileStore) Offset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *FileStore) SetOffset(v float64) error {
	raw, err := toml.Marshal(record{Offset: v})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".offset-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(raw)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	err = os.Rename(tmp.Name(), s.path)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	s.offset = v
	return nil
}
