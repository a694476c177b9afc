package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog/log"
)

var _ credentials.KV = (*File)(nil)

// File persists the KV as a single JSON document. Every write replaces the file atomically
// so a crash never leaves a half written session on disk.
type File struct {
	path   string
	values map[string]string
	lock   sync.RWMutex
}

// OpenFile loads path if it exists. A file that cannot be parsed is treated as empty.
func OpenFile(path string) (*File, error) {
	f := &File{
		path:   path,
		values: make(map[string]string),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("kvstore.OpenFile read: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.values); err != nil {
		log.Err(err).Str("path", path).Msg("kvstore: ignoring unreadable store file")
		f.values = make(map[string]string)
	}
	return f, nil
}

func (f *File) Get(key string) (string, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *File) Set(key, value string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	prev, existed := f.values[key]
	f.values[key] = value
	if err := f.flush(); err != nil {
		if existed {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *File) Delete(key string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	prev, existed := f.values[key]
	if !existed {
		return nil
	}
	delete(f.values, key)
	if err := f.flush(); err != nil {
		f.values[key] = prev
		return err
	}
	return nil
}

func (f *File) flush() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("kvstore.File marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("kvstore.File mkdir: %w", err)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("kvstore.File write: %w", err)
	}
	return os.Chmod(f.path, 0o600)
}
