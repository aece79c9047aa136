// Package vlock implements the per-key value lock table of the index tree.
//
// A Table holds a fixed number of mutexes. Get maps a digest onto one of them;
// the same digest always yields the same mutex for the lifetime of the table.
// Distinct digests may share a mutex: the table trades some false contention
// for a bounded amount of memory that does not grow with the number of keys.
package vlock

import (
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/cespare/xxhash/v2"
)

// minSize is the floor for the default table size
const minSize = 64

// Table is a fixed-capacity table of value locks
type Table struct {
	mask  uint64
	locks []sync.Mutex
}

// DefaultSize returns the table size used when none is configured: env
// RBKV_VLOCK_SIZE if set, otherwise GOMAXPROCS squared with a floor of 64.
func DefaultSize() int {
	if env := os.Getenv("RBKV_VLOCK_SIZE"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			return val
		}
	}
	workers := runtime.GOMAXPROCS(0)
	if size := workers * workers; size > minSize {
		return size
	}
	return minSize
}

// New creates a table with size slots, rounded up to the next power of two.
// A size <= 0 selects DefaultSize().
func New(size int) *Table {
	if size <= 0 {
		size = DefaultSize()
	}
	n := 1
	for n < size {
		n <<= 1
	}
	return &Table{
		mask:  uint64(n - 1),
		locks: make([]sync.Mutex, n),
	}
}

// Get returns the mutex guarding values stored under d. The mutex is
// returned unlocked.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Get(d digest.Digest) *sync.Mutex {
	return &t.locks[t.slot(d)]
}

// Size returns the number of slots
func (t *Table) Size() int {
	return len(t.locks)
}

func (t *Table) slot(d digest.Digest) uint64 {
	return xxhash.Sum64(d[:]) & t.mask
}
