package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryHub is shared in-process storage. Each Open returns a view that
// behaves like one browser tab: its writes are visible to every view, and
// every other view's subscribers are notified.
type MemoryHub struct {
	mu    sync.RWMutex
	data  map[string]string
	views []*MemoryKV
}

// NewMemoryHub creates empty shared storage.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{data: make(map[string]string)}
}

// Open returns a new view over the hub.
func (h *MemoryHub) Open() *MemoryKV {
	kv := &MemoryKV{hub: h}
	h.mu.Lock()
	h.views = append(h.views, kv)
	h.mu.Unlock()
	return kv
}

// NewMemoryKV returns a single view over fresh storage.
func NewMemoryKV() *MemoryKV {
	return NewMemoryHub().Open()
}

// MemoryKV is one view of a MemoryHub. It implements KV and ChangeNotifier.
type MemoryKV struct {
	hub  *MemoryHub
	subs subscribers
}

func (m *MemoryKV) Get(key string) (string, error) {
	m.hub.mu.RLock()
	defer m.hub.mu.RUnlock()
	v, ok := m.hub.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.hub.mu.Lock()
	m.hub.data[key] = value
	m.hub.mu.Unlock()
	m.broadcast(key)
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.hub.mu.Lock()
	_, existed := m.hub.data[key]
	delete(m.hub.data, key)
	m.hub.mu.Unlock()
	if existed {
		m.broadcast(key)
	}
	return nil
}

func (m *MemoryKV) Keys(prefix string) ([]string, error) {
	m.hub.mu.RLock()
	defer m.hub.mu.RUnlock()
	keys := make([]string, 0)
	for k := range m.hub.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryKV) OnExternalChange(prefix string, fn func(string)) func() {
	return m.subs.add(prefix, fn)
}

func (m *MemoryKV) broadcast(key string) {
	m.hub.mu.RLock()
	views := append([]*MemoryKV(nil), m.hub.views...)
	m.hub.mu.RUnlock()

	for _, v := range views {
		if v != m {
			v.subs.notify(key)
		}
	}
}
