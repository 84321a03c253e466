package cache

import (
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/0", false},
		{"empty", "", true},
		{"wrong-scheme", "http://localhost:6379", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyNamespacing(t *testing.T) {
	c := &Cache{Namespace: "academy"}

	if got := c.Key("academyCourses"); got != "academy:academyCourses" {
		t.Errorf("Key() = %q, want academy:academyCourses", got)
	}
	if got, ok := c.StripKey("academy:userId"); !ok || got != "userId" {
		t.Errorf("StripKey() = %q, %v; want userId, true", got, ok)
	}
	if _, ok := c.StripKey("other:userId"); ok {
		t.Error("StripKey() should reject keys outside the namespace")
	}
	if got := c.ChangesChannel(); got != "academy:changes" {
		t.Errorf("ChangesChannel() = %q, want academy:changes", got)
	}
}

func TestKeyWithoutNamespace(t *testing.T) {
	c := &Cache{}
	if got := c.Key("userId"); got != "userId" {
		t.Errorf("Key() = %q, want userId", got)
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999", "academy")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}
