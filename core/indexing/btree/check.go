package btree

import (
	"fmt"
	"math"

	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
)

// checker accumulates what a full walk of the tree observed.
type checker struct {
	bt       *BTree
	keys     uint64
	nodes    uint64
	leafSeq  []pagemanager.PageID
	leafDeep int
}

// Check walks the whole tree and verifies key ordering, parent pointers, the
// leaf sibling chain, fan-out upper bounds and the counters in the super
// page. Leaves and internal nodes below the minimum fan-out are allowed,
// since merges only happen with a fitting sibling.
func (bt *BTree) Check() error {
	if bt.closed {
		return ErrTreeClosed
	}
	sp := bt.super()
	root := sp.RootPage()
	if root == pagemanager.InvalidPageID {
		if sp.Height() != 0 || sp.KeysCount() != 0 || sp.NodesCount() != 0 {
			return fmt.Errorf("%w: empty tree with height %d, %d keys, %d nodes",
				ErrTreeInconsistent, sp.Height(), sp.KeysCount(), sp.NodesCount())
		}
		return nil
	}

	c := &checker{bt: bt, leafDeep: -1}
	if err := c.walk(root, pagemanager.InvalidPageID, 0, math.MaxUint64, 1, true); err != nil {
		return err
	}
	if uint32(c.leafDeep) != sp.Height() {
		return fmt.Errorf("%w: leaves at depth %d, height says %d", ErrTreeInconsistent, c.leafDeep, sp.Height())
	}
	if c.keys != sp.KeysCount() {
		return fmt.Errorf("%w: counted %d keys, super page says %d", ErrTreeInconsistent, c.keys, sp.KeysCount())
	}
	if c.nodes != sp.NodesCount() {
		return fmt.Errorf("%w: counted %d nodes, super page says %d", ErrTreeInconsistent, c.nodes, sp.NodesCount())
	}
	return c.checkChain()
}

// walk checks the subtree at pid. Keys must lie in [low, high); high is
// inclusive only when unbounded is set for the rightmost path.
func (c *checker) walk(pid, parent pagemanager.PageID, low, high uint64, depth int, unbounded bool) error {
	h, err := c.bt.node(pid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTreeInconsistent, err)
	}
	if h.ParentID() != parent {
		return fmt.Errorf("%w: page %d has parent %d, expected %d", ErrTreeInconsistent, pid, h.ParentID(), parent)
	}
	c.nodes++

	inRange := func(k uint64) bool {
		return k >= low && (k < high || (unbounded && k == high))
	}

	if h.IsLeaf() {
		leaf, _ := c.bt.leaf(pid)
		n := leaf.NumKeys()
		if n > pagemanager.MaxLeafFanout {
			return fmt.Errorf("%w: leaf %d holds %d records", ErrTreeInconsistent, pid, n)
		}
		for i := range n {
			k := leaf.Key(i)
			if i > 0 && k <= leaf.Key(i-1) {
				return fmt.Errorf("%w: leaf %d keys out of order at %d", ErrTreeInconsistent, pid, i)
			}
			if !inRange(k) {
				return fmt.Errorf("%w: leaf %d key %d outside [%d, %d)", ErrTreeInconsistent, pid, k, low, high)
			}
		}
		if c.leafDeep == -1 {
			c.leafDeep = depth
		} else if c.leafDeep != depth {
			return fmt.Errorf("%w: leaf %d at depth %d, others at %d", ErrTreeInconsistent, pid, depth, c.leafDeep)
		}
		c.keys += uint64(n)
		c.leafSeq = append(c.leafSeq, pid)
		return nil
	}

	node, _ := c.bt.internal(pid)
	n := node.NumKeys()
	if n > pagemanager.MaxInternalFanout {
		return fmt.Errorf("%w: internal %d holds %d keys", ErrTreeInconsistent, pid, n)
	}
	if parent == pagemanager.InvalidPageID && n == 0 {
		return fmt.Errorf("%w: internal root %d has no keys", ErrTreeInconsistent, pid)
	}
	keys := node.Keys()
	children := node.Children()
	for i, k := range keys {
		if i > 0 && k <= keys[i-1] {
			return fmt.Errorf("%w: internal %d keys out of order at %d", ErrTreeInconsistent, pid, i)
		}
		if !inRange(k) {
			return fmt.Errorf("%w: internal %d key %d outside [%d, %d)", ErrTreeInconsistent, pid, k, low, high)
		}
	}
	for i, child := range children {
		lo, hi, last := low, high, unbounded
		if i > 0 {
			lo = keys[i-1]
		}
		if i < n {
			hi, last = keys[i], false
		}
		if err := c.walk(child, pid, lo, hi, depth+1, last); err != nil {
			return err
		}
	}
	return nil
}

// checkChain verifies that the sibling links visit the leaves in the same
// order as the tree walk.
func (c *checker) checkChain() error {
	for i, pid := range c.leafSeq {
		leaf, err := c.bt.leaf(pid)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTreeInconsistent, err)
		}
		wantPrev, wantNext := pagemanager.InvalidPageID, pagemanager.InvalidPageID
		if i > 0 {
			wantPrev = c.leafSeq[i-1]
		}
		if i < len(c.leafSeq)-1 {
			wantNext = c.leafSeq[i+1]
		}
		if leaf.PrevLeaf() != wantPrev || leaf.NextLeaf() != wantNext {
			return fmt.Errorf("%w: leaf %d links prev=%d next=%d, expected prev=%d next=%d",
				ErrTreeInconsistent, pid, leaf.PrevLeaf(), leaf.NextLeaf(), wantPrev, wantNext)
		}
	}
	return nil
}
