package storage

import (
	"hash/fnv"
	"sync"
)

// keyLock is a striped mutex: keys hashing to the same stripe share a lock.
type keyLock struct {
	stripes []sync.Mutex
}

func newKeyLock(n int) *keyLock {
	if n <= 0 {
		n = 1
	}
	return &keyLock{stripes: make([]sync.Mutex, n)}
}

// Lock acquires key's stripe and returns its unlock func.
func (k *keyLock) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
