package btree

import (
	"errors"
	"fmt"
	"time"

	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"go.uber.org/zap"
)

// Delete removes key. An under-full leaf is merged with its next sibling when
// both share a parent and fit in one page; otherwise it stays under-full.
func (bt *BTree) Delete(key uint64) (DeleteResult, error) {
	if bt.closed {
		return DeleteRemoved, ErrTreeClosed
	}
	started := time.Now()

	res, err := bt.del(key)
	switch {
	case err == nil:
		bt.observe("del", res.label(), started)
	case errors.Is(err, ErrKeyNotFound):
		bt.observe("del", "not_found", started)
	default:
		bt.observe("del", "error", started)
	}
	return res, err
}

func (bt *BTree) del(key uint64) (DeleteResult, error) {
	leafPID, err := bt.findLeaf(key)
	if err != nil {
		return DeleteRemoved, err
	}
	if leafPID == pagemanager.InvalidPageID {
		return DeleteRemoved, ErrKeyNotFound
	}
	leaf, err := bt.leaf(leafPID)
	if err != nil {
		return DeleteRemoved, err
	}
	idx, found := leaf.Search(key)
	if !found {
		return DeleteRemoved, ErrKeyNotFound
	}

	leaf.RemoveAt(idx)
	sp := bt.super()
	sp.SetKeysCount(sp.KeysCount() - 1)
	bt.flush(leafPID)
	bt.flushSuper()

	if leaf.NumKeys() >= pagemanager.MinLeafFanout {
		return DeleteRemoved, nil
	}
	if leaf.IsRoot() {
		if leaf.NumKeys() > 0 {
			return DeleteRemoved, nil
		}
		return bt.clearTree(leafPID)
	}

	merged, err := bt.mergeLeaf(leafPID)
	if err != nil {
		return DeleteRemoved, err
	}
	if !merged {
		return DeleteRemoved, nil
	}

	// The merge may have collapsed every level above this leaf.
	if bt.super().RootPage() == leafPID {
		if leaf, err = bt.leaf(leafPID); err != nil {
			return DeleteMerged, err
		}
		if leaf.NumKeys() == 0 {
			return bt.clearTree(leafPID)
		}
	}
	return DeleteMerged, nil
}

// clearTree releases the last, empty, root leaf.
func (bt *BTree) clearTree(rootPID pagemanager.PageID) (DeleteResult, error) {
	if err := bt.free(rootPID); err != nil {
		return DeleteRemoved, err
	}
	sp := bt.super()
	sp.SetRootPage(pagemanager.InvalidPageID)
	sp.SetHeight(0)
	bt.flushSuper()
	bt.logger.Debug("Tree cleared")
	return DeleteCleared, nil
}

// mergeLeaf folds the next sibling into the leaf at pid when both hang off the
// same parent and their records fit in one page.
func (bt *BTree) mergeLeaf(pid pagemanager.PageID) (bool, error) {
	leaf, err := bt.leaf(pid)
	if err != nil {
		return false, err
	}
	nextPID := leaf.NextLeaf()
	if nextPID == pagemanager.InvalidPageID {
		return false, nil
	}
	next, err := bt.leaf(nextPID)
	if err != nil {
		return false, err
	}
	if next.ParentID() != leaf.ParentID() || leaf.NumKeys()+next.NumKeys() > pagemanager.MaxLeafFanout {
		return false, nil
	}

	leaf.Append(next)
	after := next.NextLeaf()
	leaf.SetNextLeaf(after)
	if after != pagemanager.InvalidPageID {
		succ, err := bt.leaf(after)
		if err != nil {
			return false, err
		}
		succ.SetPrevLeaf(pid)
		bt.flush(after)
	}
	bt.flush(pid)

	parentPID := leaf.ParentID()
	if err := bt.free(nextPID); err != nil {
		return false, err
	}
	bt.metrics.RecordMerge(internaltelemetry.LevelLeaf)
	bt.logger.Debug("Merged leaves",
		zap.Uint64("leftPID", pid.GetID()),
		zap.Uint64("freedPID", nextPID.GetID()))
	return true, bt.removeChild(parentPID, nextPID)
}

// removeChild drops child and the separator to its left from the internal
// node at pid, then shrinks the root or merges pid with a sibling if it fell
// under the minimum fan-out.
func (bt *BTree) removeChild(pid, child pagemanager.PageID) error {
	node, err := bt.internal(pid)
	if err != nil {
		return err
	}
	ptrIdx := node.ChildIndex(child)
	if ptrIdx <= 0 {
		bt.logger.Warn("Child to remove not found or is leftmost; skipping",
			zap.Uint64("pid", pid.GetID()),
			zap.Uint64("childPID", child.GetID()),
			zap.Int("index", ptrIdx))
		return nil
	}
	node.RemoveAt(ptrIdx)
	bt.flush(pid)

	if node.NumKeys() >= pagemanager.MinInternalFanout {
		return nil
	}
	if node.IsRoot() {
		if node.NumKeys() > 0 {
			return nil
		}
		return bt.shrinkRoot(pid)
	}
	return bt.rebalanceInternal(pid)
}

// shrinkRoot replaces a key-less internal root with its only child.
func (bt *BTree) shrinkRoot(rootPID pagemanager.PageID) error {
	root, err := bt.internal(rootPID)
	if err != nil {
		return err
	}
	only := root.Child(0)
	if err := bt.setParent(only, pagemanager.InvalidPageID); err != nil {
		return err
	}
	if err := bt.free(rootPID); err != nil {
		return err
	}

	sp := bt.super()
	sp.SetRootPage(only)
	sp.SetHeight(sp.Height() - 1)
	bt.flushSuper()
	bt.logger.Debug("Shrank root",
		zap.Uint64("rootPID", only.GetID()),
		zap.Uint32("height", sp.Height()))
	return nil
}

// rebalanceInternal merges an under-full internal node with its right
// sibling, or with its left one when it is the last child.
func (bt *BTree) rebalanceInternal(pid pagemanager.PageID) error {
	node, err := bt.internal(pid)
	if err != nil {
		return err
	}
	parentPID := node.ParentID()
	parent, err := bt.internal(parentPID)
	if err != nil {
		return err
	}
	idx := parent.ChildIndex(pid)
	if idx < 0 {
		return fmt.Errorf("%w: page %d missing from parent %d", ErrTreeInconsistent, pid, parentPID)
	}

	if idx < parent.NumKeys() {
		rightPID := parent.Child(idx + 1)
		right, err := bt.internal(rightPID)
		if err != nil {
			return err
		}
		if node.NumKeys()+1+right.NumKeys() <= pagemanager.MaxInternalFanout {
			return bt.mergeInternal(pid, rightPID, idx)
		}
		return nil
	}

	if idx == 0 {
		return nil
	}
	leftPID := parent.Child(idx - 1)
	left, err := bt.internal(leftPID)
	if err != nil {
		return err
	}
	if left.NumKeys()+1+node.NumKeys() <= pagemanager.MaxInternalFanout {
		return bt.mergeInternal(leftPID, pid, idx-1)
	}
	return nil
}

// mergeInternal pulls separator sepIdx down from the parent and appends the
// right node's entries to the left one, then removes the right node from the
// parent.
func (bt *BTree) mergeInternal(leftPID, rightPID pagemanager.PageID, sepIdx int) error {
	left, err := bt.internal(leftPID)
	if err != nil {
		return err
	}
	right, err := bt.internal(rightPID)
	if err != nil {
		return err
	}
	parentPID := left.ParentID()
	parent, err := bt.internal(parentPID)
	if err != nil {
		return err
	}

	moved := right.Children()
	keys := append(left.Keys(), parent.Key(sepIdx))
	keys = append(keys, right.Keys()...)
	children := append(left.Children(), moved...)
	left.SetEntries(keys, children)
	bt.flush(leftPID)

	for _, c := range moved {
		if err := bt.setParent(c, leftPID); err != nil {
			return err
		}
	}
	if err := bt.free(rightPID); err != nil {
		return err
	}

	bt.metrics.RecordMerge(internaltelemetry.LevelInternal)
	bt.logger.Debug("Merged internal nodes",
		zap.Uint64("leftPID", leftPID.GetID()),
		zap.Uint64("freedPID", rightPID.GetID()))
	return bt.removeChild(parentPID, rightPID)
}
