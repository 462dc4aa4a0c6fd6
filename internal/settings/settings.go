// Package settings gives typed access to the three persisted values the tool
// relies on: when the page was last reloaded, whether auto-refresh is on, and
// the most recently saved cookie string.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/sessionkeeper/internal/store"
)

// Persisted keys.
const (
	KeyLastRefresh  = "last_refresh"
	KeyAutoRefresh  = "auto_refresh"
	KeySavedCookies = "saved_cookies"
)

// DefaultCookieTTL is how long a saved cookie record stays usable.
const DefaultCookieTTL = 24 * time.Hour

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SavedCookies is the persisted cookie record. Timestamp is epoch milliseconds.
type SavedCookies struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// CapturedAt returns the capture time of the record.
func (s SavedCookies) CapturedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Settings reads and writes the persisted values through a store.Store.
type Settings struct {
	store store.Store
	now   func() time.Time
	ttl   time.Duration
}

// Option configures Settings.
type Option func(*Settings)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Settings) { s.now = now }
}

// WithCookieTTL overrides how long saved cookies stay valid.
func WithCookieTTL(ttl time.Duration) Option {
	return func(s *Settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New wraps st.
func New(st store.Store, opts ...Option) *Settings {
	s := &Settings{store: st, now: time.Now, ttl: DefaultCookieTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time according to the configured clock.
func (s *Settings) Now() time.Time {
	return s.now()
}

// LastRefresh returns the last recorded reload time. ok is false when no
// reload was ever recorded.
func (s *Settings) LastRefresh(ctx context.Context) (t time.Time, ok bool, err error) {
	var ms int64
	found, err := s.get(ctx, KeyLastRefresh, &ms)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// SetLastRefresh records a reload at t with millisecond precision.
func (s *Settings) SetLastRefresh(ctx context.Context, t time.Time) error {
	return s.set(ctx, KeyLastRefresh, t.UnixMilli())
}

// AutoRefresh reports whether auto-refresh is enabled. Unset means disabled.
func (s *Settings) AutoRefresh(ctx context.Context) (bool, error) {
	var enabled bool
	if _, err := s.get(ctx, KeyAutoRefresh, &enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

// SetAutoRefresh persists the auto-refresh flag.
func (s *Settings) SetAutoRefresh(ctx context.Context, enabled bool) error {
	return s.set(ctx, KeyAutoRefresh, enabled)
}

// SaveCookies stores cookies stamped with the current time, replacing any
// earlier record.
func (s *Settings) SaveCookies(ctx context.Context, cookies string) error {
	return s.set(ctx, KeySavedCookies, SavedCookies{
		Value:     cookies,
		Timestamp: s.now().UnixMilli(),
	})
}

// SavedCookies returns the saved record if one exists and is younger than the
// TTL. ok is false for a missing or expired record; expired records are left
// in place.
func (s *Settings) SavedCookies(ctx context.Context) (rec SavedCookies, ok bool, err error) {
	found, err := s.get(ctx, KeySavedCookies, &rec)
	if err != nil || !found {
		return SavedCookies{}, false, err
	}
	if s.now().Sub(rec.CapturedAt()) >= s.ttl {
		return SavedCookies{}, false, nil
	}
	return rec, true, nil
}

func (s *Settings) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Settings) set(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
