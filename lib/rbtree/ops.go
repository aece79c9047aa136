package rbtree

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/rbkv/lib/digest"
)

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// Search returns the node stored under key or nil.
//
// The node is a point-in-time snapshot: a concurrent Delete may remove it
// as soon as the structural lock is released. Use SearchVLock to access
// the value safely.
func (t *Tree[V]) Search(key digest.Digest) *Node[V] {
	t.lock()
	defer t.mu.Unlock()

	n, _, _ := t.locate(key)
	return n
}

// SearchVLock returns the node stored under key together with its value
// lock, already locked. The caller must unlock it. Returns nil, nil if the
// key is not in the tree.
func (t *Tree[V]) SearchVLock(key digest.Digest) (*Node[V], *sync.Mutex) {
	t.lock()
	defer t.mu.Unlock()

	n, _, _ := t.locate(key)
	if n == nil {
		return nil, nil
	}

	vlock := t.locks.Get(key)
	vlock.Lock()
	return n, vlock
}

// --------------------------------------------------------------------------
// Inserts
// --------------------------------------------------------------------------

// Insert adds value under key. If the key is already present the tree is
// left unmodified and ErrAlreadyExists is returned.
func (t *Tree[V]) Insert(key digest.Digest, value V) (*Node[V], error) {
	t.lock()
	defer t.mu.Unlock()

	n, parent, cmp := t.locate(key)
	if n != nil {
		return nil, ErrAlreadyExists
	}

	n = t.link(key, parent, cmp)
	n.Value = value
	return n, nil
}

// InsertVLock adds an empty slot under key and returns it with its value
// lock held. The caller fills in the value and unlocks. If the key is
// already present ErrAlreadyExists is returned and nothing is locked.
func (t *Tree[V]) InsertVLock(key digest.Digest) (*Node[V], *sync.Mutex, error) {
	t.lock()
	defer t.mu.Unlock()

	n, parent, cmp := t.locate(key)
	if n != nil {
		return nil, nil, ErrAlreadyExists
	}

	n = t.link(key, parent, cmp)
	vlock := t.locks.Get(key)
	vlock.Lock()
	return n, vlock, nil
}

// GetInsertVLock is the atomic find-or-create primitive. It returns the node
// stored under key, creating it with a zero value if needed, with its value
// lock held. created reports whether this call created the node; in that case
// the caller must populate the value exactly once before unlocking.
//
// Since the search and the insert happen in the same structural critical
// section, concurrent callers for the same key create exactly one node.
func (t *Tree[V]) GetInsertVLock(key digest.Digest) (n *Node[V], vlock *sync.Mutex, created bool) {
	t.lock()
	defer t.mu.Unlock()

	n, parent, cmp := t.locate(key)
	if n == nil {
		n = t.link(key, parent, cmp)
		created = true
	}

	vlock = t.locks.Get(key)
	vlock.Lock()
	return n, vlock, created
}

// --------------------------------------------------------------------------
// Removal
// --------------------------------------------------------------------------

// Delete removes key from the tree and passes its value and udata to the
// destructor. Returns ErrNotFound if the key is not present. An error
// wrapping ErrInvariantViolation means the tree is corrupt; the value was
// still removed and destroyed but the tree must not be trusted anymore.
//
// Delete waits for the value lock of key before destroying the value.
func (t *Tree[V]) Delete(key digest.Digest, udata any) error {
	t.lock()
	defer t.mu.Unlock()

	z, _, _ := t.locate(key)
	if z == nil {
		return ErrNotFound
	}

	vlock := t.locks.Get(key)
	vlock.Lock()
	defer vlock.Unlock()

	err := t.remove(z)
	t.elements.Add(^uint32(0))

	t.destructor(z.Value, udata)

	// help the go gc and make stale references obvious
	var zero V
	z.Value = zero
	z.left, z.right, z.parent = nil, nil, nil

	if err != nil {
		Logger.Errorf("delete of %s: %v", key, err)
		return fmt.Errorf("delete of %s: %w", key, err)
	}
	return nil
}

// Purge removes every value from the tree, passing each one to the
// destructor in post-order.
func (t *Tree[V]) Purge(udata any) {
	t.lock()
	defer t.mu.Unlock()

	t.purge(t.root.left, udata)
	t.root.left = t.sentinel
	t.elements.Store(0)
}

// --------------------------------------------------------------------------
// Traversal
// --------------------------------------------------------------------------

// Reduce calls fn for every node in ascending key order. The structural lock
// is held for the whole traversal: all other operations on the tree block
// until Reduce returns, and fn must not call back into the tree (it would
// deadlock).
//
// Each value is read under its value lock, which is released again before fn
// runs. Since Delete and the inserts need the structural lock, the value
// passed to fn stays in the tree until Reduce returns.
func (t *Tree[V]) Reduce(fn ReduceFunc[V], udata any) {
	t.lock()
	defer t.mu.Unlock()

	s := t.sentinel
	stack := make([]*Node[V], 0, 64)
	n := t.root.left
	for n != s || len(stack) > 0 {
		for n != s {
			stack = append(stack, n)
			n = n.left
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		vlock := t.locks.Get(n.Key)
		vlock.Lock()
		value := n.Value
		vlock.Unlock()

		fn(n.Key, value, udata)
		n = n.right
	}
}

// --------------------------------------------------------------------------
// Helpers (structural lock must be held)
// --------------------------------------------------------------------------

// locate walks down from the actual root. It returns the node with key, or
// nil plus the parent and the side (cmp < 0: left) the key would be linked at.
func (t *Tree[V]) locate(key digest.Digest) (n, parent *Node[V], cmp int) {
	parent, cmp = t.root, -1
	n = t.root.left
	for n != t.sentinel {
		c := digest.Compare(key, n.Key)
		if c == 0 {
			return n, parent, 0
		}
		parent, cmp = n, c
		if c < 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return nil, parent, cmp
}

// link splices a new red node in place of the sentinel leaf below parent and
// rebalances
func (t *Tree[V]) link(key digest.Digest, parent *Node[V], cmp int) *Node[V] {
	n := &Node[V]{
		Key:    key,
		color:  red,
		left:   t.sentinel,
		right:  t.sentinel,
		parent: parent,
	}
	if cmp < 0 {
		parent.left = n
	} else {
		parent.right = n
	}

	t.insertFixup(n)
	t.elements.Add(1)
	return n
}

// purge destroys the subtree rooted at n in post-order and returns the number
// of destroyed values
func (t *Tree[V]) purge(n *Node[V], udata any) int {
	s := t.sentinel
	if n == s {
		return 0
	}

	// reversed (node, right, left) pre-order is a post-order
	var order []*Node[V]
	stack := []*Node[V]{n}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, x)
		if x.left != s {
			stack = append(stack, x.left)
		}
		if x.right != s {
			stack = append(stack, x.right)
		}
	}

	var zero V
	for i := len(order) - 1; i >= 0; i-- {
		x := order[i]
		vlock := t.locks.Get(x.Key)
		vlock.Lock()
		t.destructor(x.Value, udata)
		vlock.Unlock()
		x.Value = zero
		x.left, x.right, x.parent = nil, nil, nil
	}
	return len(order)
}
