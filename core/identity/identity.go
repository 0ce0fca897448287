// Package identity keeps the opaque per-installation identifier that
// correlates a user's turns on the conversation backend.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const fileName = "identity.yaml"

type record struct {
	UserID    string    `yaml:"user_id"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Store lazily loads the identifier from its file, creating and persisting a
// new one on first use. Once resolved the identifier never changes for the
// lifetime of the Store.
type Store struct {
	path string

	once sync.Once
	id   string
	err  error
}

// NewStore returns a Store persisted at path. An empty path keeps the
// identifier in memory only.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath is the identity file in the user's configuration directory.
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, appName, fileName), nil
}

// ID returns the installation identifier. A failure to load or persist it is
// returned on every call; the Store does not retry.
func (s *Store) ID() (string, error) {
	s.once.Do(func() {
		s.id, s.err = s.resolve()
	})
	return s.id, s.err
}

func (s *Store) Path() string { return s.path }

func (s *Store) resolve() (string, error) {
	if s.path == "" {
		return uuid.NewString(), nil
	}

	existing, err := load(s.path)
	if err == nil {
		return existing.UserID, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	created, err := save(s.path, record{UserID: uuid.NewString(), CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	return created.UserID, nil
}

func load(path string) (record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, err
	}

	var r record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return record{}, fmt.Errorf("failed to parse identity file %s: %w", path, err)
	}
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return record{}, fmt.Errorf("identity file %s has no user_id", path)
	}
	return r, nil
}

// save writes r unless another process created the file first, in which case
// the existing record wins.
func save(path string, r record) (record, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return record{}, fmt.Errorf("failed to create identity dir: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return record{}, fmt.Errorf("failed to encode identity: %w", err)
	}

	f, err := createFile(path)
	if errors.Is(err, fs.ErrExist) {
		return load(path)
	}
	if err != nil {
		return record{}, fmt.Errorf("failed to create identity file: %w", err)
	}

	// A partial file would be read back as a corrupt identity on every start.
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return record{}, fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return record{}, fmt.Errorf("failed to close identity file: %w", err)
	}
	return r, nil
}

var createFile = func(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
}
