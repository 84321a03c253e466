package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
)

// Safe wraps a KV so that reads and writes never fail the caller. Errors are
// logged with the key and turned into defaults or false results.
type Safe struct {
	kv KV
}

// NewSafe creates a safe accessor over kv.
func NewSafe(kv KV) *Safe {
	return &Safe{kv: kv}
}

// GetString returns the raw value, or ok=false when absent or unreadable.
func (s *Safe) GetString(key string) (string, bool) {
	v, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("error reading storage", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

// SetString stores value and reports success.
func (s *Safe) SetString(key, value string) bool {
	if err := s.kv.Set(key, value); err != nil {
		slog.Error("error saving to storage", "key", key, "value_len", len(value), "error", err)
		return false
	}
	return true
}

// SetJSON encodes v and stores it.
func (s *Safe) SetJSON(key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("error encoding storage value", "key", key, "error", err)
		return false
	}
	return s.SetString(key, string(data))
}

// Remove deletes key and reports success.
func (s *Safe) Remove(key string) bool {
	if err := s.kv.Delete(key); err != nil {
		slog.Error("error removing from storage", "key", key, "error", err)
		return false
	}
	return true
}

// Keys lists keys with prefix, or nil when the backend fails.
func (s *Safe) Keys(prefix string) []string {
	keys, err := s.kv.Keys(prefix)
	if err != nil {
		slog.Error("error listing storage keys", "prefix", prefix, "error", err)
		return nil
	}
	return keys
}

// ParseJSON decodes the value at key into T, returning def when the key is
// absent, empty, or not valid JSON for T.
func ParseJSON[T any](s *Safe, key string, def T) T {
	raw, ok := s.GetString(key)
	if !ok || raw == "" {
		return def
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		slog.Error("error parsing storage data", "key", key, "error", err)
		return def
	}
	return v
}
