package storage

import (
	"errors"
	"testing"
)

// failingKV fails every operation.
type failingKV struct{ err error }

func (f failingKV) Get(string) (string, error)    { return "", f.err }
func (f failingKV) Set(string, string) error      { return f.err }
func (f failingKV) Delete(string) error           { return f.err }
func (f failingKV) Keys(string) ([]string, error) { return nil, f.err }

func TestParseJSON(t *testing.T) {
	kv := NewMemoryKV()
	safe := NewSafe(kv)

	_ = kv.Set("valid", `[1,2,3]`)
	_ = kv.Set("corrupt", `[1,2,`)
	_ = kv.Set("empty", ``)
	_ = kv.Set("wrong-type", `{"a":1}`)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"valid", "valid", 3},
		{"missing", "missing", -1},
		{"corrupt", "corrupt", -1},
		{"empty", "empty", -1},
		{"wrong-type", "wrong-type", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseJSON(safe, tt.key, []int{-1})
			if tt.want == -1 {
				if len(got) != 1 || got[0] != -1 {
					t.Errorf("ParseJSON() = %v, want default", got)
				}
				return
			}
			if len(got) != tt.want {
				t.Errorf("len(ParseJSON()) = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSafe_BackendFailuresNeverEscape(t *testing.T) {
	safe := NewSafe(failingKV{err: errors.New("quota exceeded")})

	if _, ok := safe.GetString("k"); ok {
		t.Error("GetString() ok = true on failing backend")
	}
	if safe.SetString("k", "v") {
		t.Error("SetString() = true on failing backend")
	}
	if safe.SetJSON("k", map[string]int{"a": 1}) {
		t.Error("SetJSON() = true on failing backend")
	}
	if safe.Remove("k") {
		t.Error("Remove() = true on failing backend")
	}
	if keys := safe.Keys("k"); keys != nil {
		t.Errorf("Keys() = %v, want nil", keys)
	}
	if got := ParseJSON(safe, "k", "fallback"); got != "fallback" {
		t.Errorf("ParseJSON() = %q, want fallback", got)
	}
}

func TestSafe_SetJSONRejectsUnencodable(t *testing.T) {
	safe := NewSafe(NewMemoryKV())
	if safe.SetJSON("k", make(chan int)) {
		t.Error("SetJSON() = true for a channel value")
	}
}
