package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-academy/internal/academy"
)

var errNotObject = errors.New("invalid response structure")

// DecodeSnapshot decodes a get_user_data response. The body must be a JSON
// object; each field falls back to its empty default when missing, null or
// of the wrong type. List elements that do not decode are dropped one by
// one, so a single bad course never empties the whole list.
func DecodeSnapshot(body []byte) (*academy.Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("decode user data: %w", errNotObject)
	}

	snap := academy.EmptySnapshot()
	decodeField(fields, "onboarding", &snap.Onboarding)
	snap.Courses = decodeList[academy.Course](fields["courses"], "courses")
	snap.Lessons = decodeListMap[academy.Lesson](fields["lessons"], "lessons")
	decodeField(fields, "progress", &snap.Progress)
	snap.TestAttempts = decodeListMap[academy.TestAttempt](fields["testAttempts"], "testAttempts")
	decodeField(fields, "certificate", &snap.Certificate)

	if snap.Progress == nil {
		snap.Progress = map[string]academy.CourseProgress{}
	}
	return &snap, nil
}

// decodeField leaves *dst untouched when the field is absent or does not
// decode.
func decodeField[T any](fields map[string]json.RawMessage, name string, dst *T) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("ignoring malformed user data field", "field", name, "error", err)
		return
	}
	*dst = v
}

// decodeList decodes a JSON array element by element and skips elements
// that fail to decode. A missing or non-array value yields an empty list.
func decodeList[T any](raw json.RawMessage, field string) []T {
	out := []T{}
	if isNull(raw) {
		return out
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		slog.Warn("ignoring malformed user data field", "field", field, "error", err)
		return out
	}
	for i, elem := range elems {
		var v T
		if err := json.Unmarshal(elem, &v); err != nil {
			slog.Warn("skipping malformed user data element", "field", field, "index", i, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// decodeListMap decodes an object of arrays, applying decodeList to every
// entry.
func decodeListMap[T any](raw json.RawMessage, field string) map[string][]T {
	out := map[string][]T{}
	if isNull(raw) {
		return out
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Warn("ignoring malformed user data field", "field", field, "error", err)
		return out
	}
	for key, list := range entries {
		out[key] = decodeList[T](list, field+"."+key)
	}
	return out
}

func decodeOnboarding(body []byte) *academy.OnboardingData {
	if isNull(body) {
		return nil
	}
	var data academy.OnboardingData
	if err := json.Unmarshal(body, &data); err != nil {
		slog.Warn("ignoring malformed onboarding response", "error", err)
		return nil
	}
	return &data
}

func isNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
