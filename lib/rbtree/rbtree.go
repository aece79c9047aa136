package rbtree

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/ValentinKolb/rbkv/lib/vlock"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rbtree")

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrNotFound is returned when a key is not in the tree
	ErrNotFound = errors.New("key not found")
	// ErrAlreadyExists is returned when inserting a key that is already in the tree
	ErrAlreadyExists = errors.New("key already exists")
	// ErrInvariantViolation signals a corrupted tree, it is not recoverable
	ErrInvariantViolation = errors.New("red-black invariant violation")
	// ErrReleased is raised when a fully released tree is used
	ErrReleased = errors.New("tree already released")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

type color uint8

const (
	black color = iota
	red
)

func (c color) String() string {
	if c == red {
		return "red"
	}
	return "black"
}

// Node is an entry of the tree.
//
// Key must not be modified. Value belongs to the caller: read or write it
// only while holding the value lock of Key. Nodes returned by the tree are
// snapshots, a concurrent Delete may unlink them right after the call returns.
type Node[V any] struct {
	Key   digest.Digest
	Value V

	color               color
	left, right, parent *Node[V]
}

// Destructor releases a value removed from the tree. It is called exactly
// once per value and must not call back into the tree.
type Destructor[V any] func(value V, udata any)

// ReduceFunc is called once per node during Reduce
type ReduceFunc[V any] func(key digest.Digest, value V, udata any)

// Tree is a concurrent red-black tree keyed by digests
type Tree[V any] struct {
	mu         sync.Mutex // structural lock
	root       *Node[V]   // placeholder, root.left is the actual root
	sentinel   *Node[V]   // shared nil leaf
	destructor Destructor[V]
	elements   atomic.Uint32
	locks      *vlock.Table
	refs       atomic.Int32
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

type config struct {
	locks     *vlock.Table
	lockSlots int
}

// Option configures a tree on creation
type Option func(*config)

// WithLockTable makes the tree use an existing lock table. Trees may share a
// table, a goroutine holding a value lock must then stay away from all of them.
func WithLockTable(table *vlock.Table) Option {
	return func(cfg *config) {
		cfg.locks = table
	}
}

// WithLockTableSize sets the number of value locks of a private lock table.
// Defaults to vlock.DefaultSize().
func WithLockTableSize(slots int) Option {
	return func(cfg *config) {
		cfg.lockSlots = slots
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// New creates an empty tree with a reference count of one. The destructor
// (may be nil) is called for every value leaving the tree through Delete,
// Purge or the final Release.
func New[V any](destructor Destructor[V], opts ...Option) *Tree[V] {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.locks == nil {
		cfg.locks = vlock.New(cfg.lockSlots)
	}
	if destructor == nil {
		destructor = func(V, any) {}
	}

	sentinel := &Node[V]{color: black}
	sentinel.left, sentinel.right, sentinel.parent = sentinel, sentinel, sentinel

	t := &Tree[V]{
		root: &Node[V]{
			color:  black,
			left:   sentinel,
			right:  sentinel,
			parent: sentinel,
		},
		sentinel:   sentinel,
		destructor: destructor,
		locks:      cfg.locks,
	}
	t.refs.Store(1)
	return t
}

// Reserve adds a reference to the tree and returns it.
//
// Thread-safety: lock-free, safe for concurrent use.
func (t *Tree[V]) Reserve() *Tree[V] {
	if t.refs.Add(1) <= 1 {
		panic(fmt.Errorf("rbtree.Reserve(): %w", ErrReleased))
	}
	return t
}

// Release drops a reference to the tree. The call that drops the last
// reference purges all values (passing udata to the destructor) and returns
// true. The tree must not be used afterward.
func (t *Tree[V]) Release(udata any) bool {
	refs := t.refs.Add(-1)
	if refs > 0 {
		return false
	}
	if refs < 0 {
		panic("rbtree.Release(): refcount gone negative")
	}

	// refcount is ZERO, nobody else may touch the tree anymore
	t.mu.Lock()
	defer t.mu.Unlock()

	purged := t.purge(t.root.left, udata)
	t.root.left = t.sentinel
	t.elements.Store(0)

	Logger.Debugf("released tree, purged %d values", purged)
	return true
}

// Size returns the number of elements. The counter is read without the
// structural lock: it is exact with respect to completed operations but may
// be outdated by the time the caller looks at it.
func (t *Tree[V]) Size() uint32 {
	return t.elements.Load()
}

// VLock returns the value lock for key (unlocked). Useful to mutate a value
// in place from within a ReduceFunc: the structural lock is already held
// there, so the lock order is respected.
func (t *Tree[V]) VLock(key digest.Digest) *sync.Mutex {
	return t.locks.Get(key)
}

// LockTableSize returns the number of value locks of the tree
func (t *Tree[V]) LockTableSize() int {
	return t.locks.Size()
}

// lock acquires the structural lock and fails fast on released trees
func (t *Tree[V]) lock() {
	t.mu.Lock()
	if t.refs.Load() <= 0 {
		t.mu.Unlock()
		panic(fmt.Errorf("rbtree: %w", ErrReleased))
	}
}
