package rbtree

import "fmt"

// --------------------------------------------------------------------------
// Rotations
// --------------------------------------------------------------------------

// rotateLeft turns x.right into the parent of x. x is never the placeholder,
// so x.parent always exists.
func (t *Tree[V]) rotateLeft(x *Node[V]) {
	y := x.right

	x.right = y.left
	if y.left != t.sentinel {
		y.left.parent = x
	}

	y.parent = x.parent
	if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}

	y.left = x
	x.parent = y
}

// rotateRight turns x.left into the parent of x
func (t *Tree[V]) rotateRight(x *Node[V]) {
	y := x.left

	x.left = y.right
	if y.right != t.sentinel {
		y.right.parent = x
	}

	y.parent = x.parent
	if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}

	y.right = x
	x.parent = y
}

// --------------------------------------------------------------------------
// Insert
// --------------------------------------------------------------------------

// insertFixup restores the red-black properties after x was linked as a red
// leaf. The loop stops at the placeholder since it is black.
func (t *Tree[V]) insertFixup(x *Node[V]) {
	for x.parent.color == red {
		p := x.parent
		g := p.parent

		if p == g.left {
			u := g.right
			if u.color == red {
				// red uncle: push blackness down from the grandparent
				p.color = black
				u.color = black
				g.color = red
				x = g
				continue
			}
			if x == p.right {
				// inner grandchild: rotate into the outer position first
				x = p
				t.rotateLeft(x)
				p = x.parent
			}
			p.color = black
			g.color = red
			t.rotateRight(g)
		} else {
			u := g.left
			if u.color == red {
				p.color = black
				u.color = black
				g.color = red
				x = g
				continue
			}
			if x == p.left {
				x = p
				t.rotateRight(x)
				p = x.parent
			}
			p.color = black
			g.color = red
			t.rotateLeft(g)
		}
	}
	t.root.left.color = black
}

// --------------------------------------------------------------------------
// Delete
// --------------------------------------------------------------------------

// transplant puts v where u hangs below its parent
func (t *Tree[V]) transplant(u, v *Node[V]) {
	if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != t.sentinel {
		v.parent = u.parent
	}
}

// minimum returns the leftmost node below n
func (t *Tree[V]) minimum(n *Node[V]) *Node[V] {
	for n.left != t.sentinel {
		n = n.left
	}
	return n
}

// remove unlinks z. A node with two children is replaced by its in-order
// successor, so nodes keep their keys and outstanding node references stay
// meaningful.
func (t *Tree[V]) remove(z *Node[V]) error {
	s := t.sentinel

	var (
		x       *Node[V] // node moving into the vacated position (may be the sentinel)
		xParent *Node[V] // parent of x after the splice
	)
	removedColor := z.color

	switch {
	case z.left == s:
		x, xParent = z.right, z.parent
		t.transplant(z, z.right)
	case z.right == s:
		x, xParent = z.left, z.parent
		t.transplant(z, z.left)
	default:
		y := t.minimum(z.right)
		removedColor = y.color
		x = y.right

		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}

		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if removedColor == black {
		return t.deleteFixup(x, xParent)
	}
	return nil
}

// deleteFixup restores equal black heights after a black node was removed
// above x. parent is tracked explicitly because x may be the sentinel.
func (t *Tree[V]) deleteFixup(x, parent *Node[V]) error {
	s := t.sentinel

	for x != t.root.left && x.color == black {
		if x == parent.left {
			w := parent.right
			if w == s {
				return fmt.Errorf("black node removed without sibling: %w", ErrInvariantViolation)
			}
			if w.color == red {
				w.color = black
				parent.color = red
				t.rotateLeft(parent)
				w = parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = parent
				parent = x.parent
				continue
			}
			if w.right.color == black {
				w.left.color = black
				w.color = red
				t.rotateRight(w)
				w = parent.right
			}
			w.color = parent.color
			parent.color = black
			w.right.color = black
			t.rotateLeft(parent)
			x = t.root.left
		} else {
			w := parent.left
			if w == s {
				return fmt.Errorf("black node removed without sibling: %w", ErrInvariantViolation)
			}
			if w.color == red {
				w.color = black
				parent.color = red
				t.rotateRight(parent)
				w = parent.left
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = parent
				parent = x.parent
				continue
			}
			if w.left.color == black {
				w.right.color = black
				w.color = red
				t.rotateLeft(w)
				w = parent.left
			}
			w.color = parent.color
			parent.color = black
			w.left.color = black
			t.rotateRight(parent)
			x = t.root.left
		}
	}

	if x != s {
		x.color = black
	}
	return nil
}
