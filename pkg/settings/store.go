package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Recognized setting keys.
const (
	KeyThemePath        = "theme_path"
	KeyLanguageDefault  = "language_default"
	KeyLanguages        = "languages"
	KeyDatabase         = "database"
	KeyDeveloperToolbar = "display_developer_toolbar"
)

// Loader produces the full settings mapping. It is called at most once per Store.
// A Loader may return a partial mapping together with an error; the Store keeps
// whatever was returned.
type Loader func() (map[string]any, error)

// Store holds the memoized settings for the process. All methods are concurrent-safe.
type Store struct {
	logger *slog.Logger
	load   Loader
	once   sync.Once
	values map[string]any
}

// NewStore creates a Store backed by load. Nothing is read until the first lookup.
func NewStore(logger *slog.Logger, load Loader) *Store {
	return &Store{
		logger: logger,
		load:   load,
	}
}

// NewStatic creates a Store over an in-memory mapping.
func NewStatic(values map[string]any) *Store {
	return NewStore(slog.New(slog.DiscardHandler), func() (map[string]any, error) {
		return maps.Clone(values), nil
	})
}

func (s *Store) ensure() {
	s.once.Do(func() {
		values, err := s.load()
		if err != nil {
			s.logger.Warn("Settings could not be fully loaded, treating missing values as not configured", "error", err)
		}
		if values == nil {
			values = map[string]any{}
		}
		s.values = values
	})
}

// Get returns the value for key and whether it is configured.
func (s *Store) Get(key string) (any, bool) {
	s.ensure()
	v, ok := s.values[key]
	return v, ok
}

// String returns the value for key if it is a string, or "".
func (s *Store) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Bool reports whether key is set to boolean true.
func (s *Store) Bool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

// Map returns the value for key if it is a mapping, or nil.
func (s *Store) Map(key string) map[string]any {
	v, _ := s.Get(key)
	m, _ := v.(map[string]any)
	return m
}

// All returns a copy of every loaded setting.
func (s *Store) All() map[string]any {
	s.ensure()
	return maps.Clone(s.values)
}

// FileLoader returns a Loader reading basePath and, when it exists and is
// readable, localPath. Keys in the local file shadow the base keys.
func FileLoader(basePath, localPath string) Loader {
	return func() (map[string]any, error) {
		base, err := readFile(basePath)
		if err != nil {
			return nil, err
		}
		if localPath == "" {
			return base, nil
		}
		local, err := readFile(localPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return base, nil
			}
			return base, err
		}
		maps.Copy(base, local)
		return base, nil
	}
}

func readFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	values := map[string]any{}
	if err = yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return values, nil
}
