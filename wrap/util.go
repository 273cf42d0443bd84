package wrap

import (
	"context"
	"hash"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrGroupLimit returns an errgroup bound to ctx running at most workers goroutines, NumCPU when workers is not set.
func ErrGroupLimit(ctx context.Context, workers int) (*errgroup.Group, context.Context) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	return eg, ctx
}

func limitStringLines(s string, count int, head bool) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= count {
		return s
	} else if head {
		lines = lines[:count]
	} else {
		lines = lines[len(lines)-count:]
	}
	return strings.Join(lines, "\n")
}

func newDefaultStripedMutex() *stripedMutex {
	return newStripedMutex(257) // prime number provides better distributions
}

// newStripedMutex creates a new mutex with the given concurrency.
func newStripedMutex(stripes uint) *stripedMutex {
	m := &stripedMutex{
		make([]*sync.Mutex, stripes),
		&sync.Pool{New: func() interface{} { return fnv.New64() }},
	}
	for i := range m.locks {
		m.locks[i] = &sync.Mutex{}
	}
	return m
}

type stripedMutex struct {
	locks []*sync.Mutex
	pool  *sync.Pool
}

// Lock acquire lock for a given key, returning the mutex for an easy unlock.
func (m *stripedMutex) Lock(key string) *sync.Mutex {
	l := m.getLock(key)
	l.Lock()
	return l
}

func (m *stripedMutex) getLock(key string) *sync.Mutex {
	h := m.pool.Get().(hash.Hash64)
	defer m.pool.Put(h)
	h.Reset()
	_, _ = h.Write([]byte(key))
	return m.locks[h.Sum64()%uint64(len(m.locks))]
}
