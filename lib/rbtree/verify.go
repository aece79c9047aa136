package rbtree

import (
	"fmt"

	"github.com/ValentinKolb/rbkv/lib/digest"
)

// Verify checks the structure of the tree: the placeholder and sentinel are
// black and untouched, keys are strictly ascending in-order, parent links are
// consistent, no red node has a red child, every path to a leaf has the same
// number of black nodes and the element counter matches. It returns an error
// wrapping ErrInvariantViolation describing the first problem found.
//
// Verify holds the structural lock while walking the whole tree.
func (t *Tree[V]) Verify() error {
	t.lock()
	defer t.mu.Unlock()

	s := t.sentinel
	if t.root.color != black || s.color != black {
		return fmt.Errorf("placeholder or sentinel not black: %w", ErrInvariantViolation)
	}
	if s.left != s || s.right != s || s.parent != s {
		return fmt.Errorf("sentinel links modified: %w", ErrInvariantViolation)
	}
	if t.root.right != s {
		return fmt.Errorf("placeholder has a right child: %w", ErrInvariantViolation)
	}

	realRoot := t.root.left
	if realRoot == s {
		if n := t.elements.Load(); n != 0 {
			return fmt.Errorf("empty tree counts %d elements: %w", n, ErrInvariantViolation)
		}
		return nil
	}
	if realRoot.color != black {
		return fmt.Errorf("root is red: %w", ErrInvariantViolation)
	}
	if realRoot.parent != t.root {
		return fmt.Errorf("root is not linked to the placeholder: %w", ErrInvariantViolation)
	}

	count := 0
	if _, err := t.verify(realRoot, nil, nil, &count); err != nil {
		return err
	}
	if n := t.elements.Load(); uint32(count) != n {
		return fmt.Errorf("counted %d nodes but element counter is %d: %w", count, n, ErrInvariantViolation)
	}
	return nil
}

// verify checks the subtree below n whose keys must lie strictly between lo
// and hi (nil = unbounded) and returns its black height
func (t *Tree[V]) verify(n *Node[V], lo, hi *digest.Digest, count *int) (int, error) {
	if n == t.sentinel {
		return 1, nil
	}
	*count++

	if lo != nil && digest.Compare(n.Key, *lo) <= 0 {
		return 0, fmt.Errorf("key %s not above %s: %w", n.Key, *lo, ErrInvariantViolation)
	}
	if hi != nil && digest.Compare(n.Key, *hi) >= 0 {
		return 0, fmt.Errorf("key %s not below %s: %w", n.Key, *hi, ErrInvariantViolation)
	}

	for _, child := range []*Node[V]{n.left, n.right} {
		if child == t.sentinel {
			continue
		}
		if child.parent != n {
			return 0, fmt.Errorf("broken parent link below %s: %w", n.Key, ErrInvariantViolation)
		}
		if n.color == red && child.color == red {
			return 0, fmt.Errorf("red node %s has a red child: %w", n.Key, ErrInvariantViolation)
		}
	}

	key := n.Key
	left, err := t.verify(n.left, lo, &key, count)
	if err != nil {
		return 0, err
	}
	right, err := t.verify(n.right, &key, hi, count)
	if err != nil {
		return 0, err
	}
	if left != right {
		return 0, fmt.Errorf("black heights %d/%d differ below %s: %w", left, right, n.Key, ErrInvariantViolation)
	}

	if n.color == black {
		left++
	}
	return left, nil
}

// Height returns the number of nodes on the longest path from the root to a
// leaf. Used in tests and statistics, holds the structural lock.
func (t *Tree[V]) Height() int {
	t.lock()
	defer t.mu.Unlock()

	return t.height(t.root.left)
}

func (t *Tree[V]) height(n *Node[V]) int {
	if n == t.sentinel {
		return 0
	}
	return 1 + max(t.height(n.left), t.height(n.right))
}
