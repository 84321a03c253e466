// Package storage provides the durable key-value stores behind the academy
// cache, and notifications when another process changes them.
package storage

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by KV.Get when the key is absent.
var ErrNotFound = errors.New("key not found")

const opTimeout = 5 * time.Second

// KV is a string-valued durable store. Values are JSON documents.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// ChangeNotifier reports writes made by another process (or tab) to keys
// with the given prefix. The returned func cancels the subscription.
type ChangeNotifier interface {
	OnExternalChange(prefix string, fn func(key string)) (cancel func())
}

// NopNotifier never reports changes.
type NopNotifier struct{}

func (NopNotifier) OnExternalChange(string, func(string)) func() {
	return func() {}
}

// subscribers is the prefix-filtered callback registry shared by backends.
type subscribers struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
}

type subscription struct {
	prefix string
	fn     func(string)
}

func (s *subscribers) add(prefix string, fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]subscription)
	}
	id := s.next
	s.next++
	s.subs[id] = subscription{prefix: prefix, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(key string) {
	s.mu.RLock()
	matched := make([]func(string), 0, len(s.subs))
	for _, sub := range s.subs {
		if strings.HasPrefix(key, sub.prefix) {
			matched = append(matched, sub.fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range matched {
		fn(key)
	}
}

// MultiNotifier fans a subscription out to several notifiers.
type MultiNotifier []ChangeNotifier

func (m MultiNotifier) OnExternalChange(prefix string, fn func(string)) func() {
	cancels := make([]func(), 0, len(m))
	for _, n := range m {
		if n != nil {
			cancels = append(cancels, n.OnExternalChange(prefix, fn))
		}
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
