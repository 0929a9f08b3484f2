package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	// Size bounds the number of entries (default 128).
	Size int
}

type lruEntry struct {
	key       string
	val       any
	expiresAt time.Time
}

// LRU is a fixed-size cache evicting the least recently used entry. Safe
// for concurrent use.
type LRU struct {
	mu      sync.Mutex
	size    int
	ll      *list.List
	entries map[string]*list.Element
}

func NewLRU(opts LRUOpts) *LRU {
	size := opts.Size
	if size <= 0 {
		size = 128
	}
	return &LRU{
		size:    size,
		ll:      list.New(),
		entries: map[string]*list.Element{},
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ele, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*lruEntry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		l.removeLocked(ele)
		return nil, false
	}
	l.ll.MoveToFront(ele)
	return e.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var options PutOptions
	for _, opt := range opts {
		opt(&options)
	}
	var expiresAt time.Time
	if options.TTL > 0 {
		expiresAt = time.Now().Add(options.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.entries[key]; ok {
		l.ll.MoveToFront(ele)
		e := ele.Value.(*lruEntry)
		e.val = val
		e.expiresAt = expiresAt
		return
	}

	ele := l.ll.PushFront(&lruEntry{key: key, val: val, expiresAt: expiresAt})
	l.entries[key] = ele
	if l.ll.Len() > l.size {
		if last := l.ll.Back(); last != nil {
			l.removeLocked(last)
		}
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.entries[key]; ok {
		l.removeLocked(ele)
	}
}

func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU) removeLocked(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.entries, ele.Value.(*lruEntry).key)
}

var _ Cache = (*LRU)(nil)
