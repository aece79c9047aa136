// Package rbtree implements a concurrent red-black tree keyed by fixed-width
// digests. It is the sorted index underneath the rbidx engine.
//
// Structure:
//
//	The tree uses two conventions to keep rotations free of special cases:
//
//	- Placeholder root: the root node of the tree is a black, key-less
//	  placeholder. The actual root is its left child, so every real node has
//	  a real parent and "am I my parent's left child" always has an answer.
//
//	- Sentinel: a single black node per tree stands in for every nil leaf.
//	  The sentinel is never written after construction. Deletion tracks the
//	  parent of the replacement node explicitly instead of parking it in the
//	  sentinel.
//
// Locking:
//
//	Two levels of locks are involved:
//
//	1. A structural mutex serializes every shape-changing operation (Insert,
//	   Delete, rebalancing) and the full duration of Reduce.
//	2. A value lock per key, taken from a vlock.Table, serializes access to
//	   the payload of one key independently of the shape of the tree.
//
//	GetInsertVLock and SearchVLock acquire the value lock inside the
//	structural critical section and return with only the value lock held.
//	The caller can then initialize or mutate the value while other
//	goroutines keep using the tree. Delete takes the value lock of the node
//	it removes before running the destructor, so teardown never overlaps
//	with a holder of that value lock. Reduce and Purge read each value
//	under its value lock as well.
//
//	Acquisition order is always structural mutex -> value lock. A goroutine
//	holding a value lock must not call back into the same tree; since value
//	locks are shared between keys (see package vlock) this applies to every
//	key, not only the locked one.
//
// Lifetime:
//
//	The tree is reference counted (Reserve / Release). The release that
//	drops the count to zero purges the tree, calling the destructor once for
//	every remaining value in post-order.
//
// Errors:
//
//	ErrNotFound and ErrAlreadyExists are ordinary outcomes. ErrInvariantViolation
//	signals a detected red-black inconsistency and must be treated as fatal.
package rbtree
