// Package shard spreads item keys over a fixed number of shards.
package shard

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// Index returns the shard of key among numShards shards.
// With numShards<=1, every key goes to shard 0.
func Index(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(numShards))
}

// Label renders the shard of key as two hex digits, for log attributes.
func Label(key string, numShards int) string {
	return fmt.Sprintf("%02x", Index(key, numShards))
}

// Locks is a fixed set of mutexes striped by key. Two holders of the
// same key never run at once; distinct keys may share a stripe.
type Locks struct {
	stripes []sync.Mutex
}

// NewLocks creates a lock set with n stripes. n<1 is treated as 1.
func NewLocks(n int) *Locks {
	if n < 1 {
		n = 1
	}
	return &Locks{stripes: make([]sync.Mutex, n)}
}

// Len returns the number of stripes.
func (l *Locks) Len() int { return len(l.stripes) }

// Lock acquires the stripes of all keys and returns the function that
// releases them. Stripes are taken in index order so concurrent callers
// locking overlapping key sets cannot deadlock.
func (l *Locks) Lock(keys ...string) (unlock func()) {
	idx := make([]int, 0, len(keys))
	seen := make(map[int]bool, len(keys))
	for _, k := range keys {
		i := Index(k, len(l.stripes))
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}
