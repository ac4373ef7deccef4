// Package reqctx holds the per-request context store: the key/value state
// populated during dispatch, the ordered request log and the response status.
package reqctx

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"
)

// Well-known context keys set by the dispatcher.
const (
	KeyTimeStart  = "time_start"
	KeyBasePath   = "basePath"
	KeyPath       = "path"
	KeyScriptName = "scriptName"
	KeyLanguage   = "language"
	KeyDB         = "db"
)

// Log levels used by the framework. Callers may use any other string.
const (
	LevelNotification = "notification"
	LevelWarning      = "warning"
	LevelError        = "error"
)

// Entry is a single request log record.
type Entry struct {
	Level  string    `json:"level"`
	Detail string    `json:"detail"`
	Time   time.Time `json:"time"`
}

// Store is the state of one request-handling cycle. A Store must never be
// shared between requests.
type Store struct {
	logger *slog.Logger
	mu     sync.Mutex
	values map[string]any
	logs   []Entry
	status int
	header http.Header
}

// New creates an empty Store. Log entries are mirrored to logger.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		logger: logger,
		values: map[string]any{},
		status: http.StatusOK,
		header: http.Header{},
	}
}

// Set stores value under key, replacing any earlier value.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns the value for key and whether it was set.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// String returns the value for key if it is a string, or "".
func (s *Store) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Snapshot returns a copy of the whole context mapping.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Log appends an entry to the request log.
func (s *Store) Log(level, detail string) {
	s.mu.Lock()
	s.logs = append(s.logs, Entry{Level: level, Detail: detail, Time: time.Now()})
	s.mu.Unlock()

	switch level {
	case LevelWarning:
		s.logger.Warn(detail)
	case LevelError:
		s.logger.Error(detail)
	default:
		s.logger.Debug(detail, "level", level)
	}
}

// Logs returns the request log in insertion order.
func (s *Store) Logs() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.logs))
	copy(out, s.logs)
	return out
}

// SetStatus sets the HTTP status the response will be written with.
func (s *Store) SetStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// Status returns the response status, http.StatusOK unless changed.
func (s *Store) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Header returns the response headers producers may set, such as Location
// or Content-Type. The returned map is live.
func (s *Store) Header() http.Header {
	return s.header
}

type ctxKey struct{}

var storeCtxKey = ctxKey{}

// WithStore returns a copy of ctx carrying s.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeCtxKey, s)
}

// FromContext returns the Store carried by ctx. When there is none, a fresh
// detached Store is returned so callers never need a nil check.
func FromContext(ctx context.Context) *Store {
	if s, ok := ctx.Value(storeCtxKey).(*Store); ok && s != nil {
		return s
	}
	return New(nil)
}
