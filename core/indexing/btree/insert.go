package btree

import (
	"fmt"
	"slices"
	"time"

	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"go.uber.org/zap"
)

// Put stores value under key, overwriting any previous value.
func (bt *BTree) Put(key uint64, value []byte) (PutResult, error) {
	if bt.closed {
		return PutInserted, ErrTreeClosed
	}
	if len(value) > MaxValueLen {
		return PutInserted, fmt.Errorf("%w: %d bytes, max %d", ErrValueTooLong, len(value), MaxValueLen)
	}
	started := time.Now()

	res, err := bt.put(key, value)
	if err != nil {
		bt.observe("put", "error", started)
		return res, err
	}
	bt.observe("put", res.label(), started)
	return res, nil
}

func (bt *BTree) put(key uint64, value []byte) (PutResult, error) {
	if bt.super().RootPage() == pagemanager.InvalidPageID {
		return bt.startNewTree(key, value)
	}

	leafPID, err := bt.findLeaf(key)
	if err != nil {
		return PutInserted, err
	}
	leaf, err := bt.leaf(leafPID)
	if err != nil {
		return PutInserted, err
	}

	idx, found := leaf.Search(key)
	if found {
		leaf.SetValue(idx, value)
		bt.flush(leafPID)
		return PutUpdated, nil
	}

	if leaf.NumKeys() < pagemanager.MaxLeafFanout {
		leaf.InsertAt(idx, key, value)
		sp := bt.super()
		sp.SetKeysCount(sp.KeysCount() + 1)
		bt.flush(leafPID)
		bt.flushSuper()
		return PutInserted, nil
	}

	if err := bt.splitLeaf(leafPID, idx, key, value); err != nil {
		return PutInserted, err
	}
	return PutSplit, nil
}

// startNewTree makes a single leaf root holding the first record.
func (bt *BTree) startNewTree(key uint64, value []byte) (PutResult, error) {
	pid, err := bt.allocate()
	if err != nil {
		return PutInserted, err
	}
	leaf := pagemanager.InitLeaf(bt.arena.Page(pid), pagemanager.InvalidPageID)
	leaf.InsertAt(0, key, value)

	sp := bt.super()
	sp.SetRootPage(pid)
	sp.SetHeight(1)
	sp.SetKeysCount(1)
	bt.flush(pid)
	bt.flushSuper()
	bt.logger.Debug("Started new tree", zap.Uint64("rootPID", pid.GetID()))
	return PutInserted, nil
}

// splitLeaf inserts the record into a full leaf by moving its upper half to a
// new right sibling, then posts the sibling's first key to the parent.
func (bt *BTree) splitLeaf(leafPID pagemanager.PageID, idx int, key uint64, value []byte) error {
	leaf, err := bt.leaf(leafPID)
	if err != nil {
		return err
	}
	recs := slices.Insert(leaf.Records(), idx, pagemanager.EncodeLeafRecord(key, value))

	rightPID, err := bt.allocate()
	if err != nil {
		return err
	}
	if leaf, err = bt.leaf(leafPID); err != nil {
		return err
	}
	right := pagemanager.InitLeaf(bt.arena.Page(rightPID), leaf.ParentID())

	leaf.SetRecords(recs[:pagemanager.MinLeafFanout])
	right.SetRecords(recs[pagemanager.MinLeafFanout:])

	successor := leaf.NextLeaf()
	right.SetNextLeaf(successor)
	right.SetPrevLeaf(leafPID)
	leaf.SetNextLeaf(rightPID)
	if successor != pagemanager.InvalidPageID {
		succ, err := bt.leaf(successor)
		if err != nil {
			return err
		}
		succ.SetPrevLeaf(rightPID)
		bt.flush(successor)
	}

	sp := bt.super()
	sp.SetKeysCount(sp.KeysCount() + 1)
	bt.flush(leafPID, rightPID)
	bt.flushSuper()

	bt.metrics.RecordSplit(internaltelemetry.LevelLeaf)
	bt.logger.Debug("Split leaf",
		zap.Uint64("leftPID", leafPID.GetID()),
		zap.Uint64("rightPID", rightPID.GetID()),
		zap.Uint64("separator", right.Key(0)))
	return bt.insertIntoParent(leafPID, right.Key(0), rightPID)
}

// insertIntoParent registers rightPID as the sibling directly after leftPID
// with separator key, growing a new root or splitting the parent as needed.
func (bt *BTree) insertIntoParent(leftPID pagemanager.PageID, key uint64, rightPID pagemanager.PageID) error {
	left, err := bt.node(leftPID)
	if err != nil {
		return err
	}
	parentPID := left.ParentID()

	if parentPID == pagemanager.InvalidPageID {
		return bt.growRoot(leftPID, key, rightPID)
	}

	parent, err := bt.internal(parentPID)
	if err != nil {
		return err
	}
	if parent.NumKeys() < pagemanager.MaxInternalFanout {
		parent.InsertAt(parent.InsertIndex(key), key, rightPID)
		bt.flush(parentPID)
		return nil
	}
	return bt.splitInternal(parentPID, key, rightPID)
}

// growRoot puts a new internal root above the two halves of a split root.
func (bt *BTree) growRoot(leftPID pagemanager.PageID, key uint64, rightPID pagemanager.PageID) error {
	rootPID, err := bt.allocate()
	if err != nil {
		return err
	}
	root := pagemanager.InitInternal(bt.arena.Page(rootPID), pagemanager.InvalidPageID)
	root.SetEntries([]uint64{key}, []pagemanager.PageID{leftPID, rightPID})
	bt.flush(rootPID)

	if err := bt.setParent(leftPID, rootPID); err != nil {
		return err
	}
	if err := bt.setParent(rightPID, rootPID); err != nil {
		return err
	}

	sp := bt.super()
	sp.SetRootPage(rootPID)
	sp.SetHeight(sp.Height() + 1)
	bt.flushSuper()
	bt.logger.Debug("Grew new root",
		zap.Uint64("rootPID", rootPID.GetID()),
		zap.Uint32("height", sp.Height()))
	return nil
}

// splitInternal adds (key, child) to a full internal node by moving the keys
// after the middle one to a new sibling and promoting the middle key.
func (bt *BTree) splitInternal(pid pagemanager.PageID, key uint64, child pagemanager.PageID) error {
	node, err := bt.internal(pid)
	if err != nil {
		return err
	}
	idx := node.InsertIndex(key)
	keys := slices.Insert(node.Keys(), idx, key)
	children := slices.Insert(node.Children(), idx+1, child)

	rightPID, err := bt.allocate()
	if err != nil {
		return err
	}
	if node, err = bt.internal(pid); err != nil {
		return err
	}
	right := pagemanager.InitInternal(bt.arena.Page(rightPID), node.ParentID())

	mid := pagemanager.MinInternalFanout
	promoted := keys[mid]
	node.SetEntries(keys[:mid], children[:mid+1])
	right.SetEntries(keys[mid+1:], children[mid+1:])
	bt.flush(pid, rightPID)

	for _, c := range children[mid+1:] {
		if err := bt.setParent(c, rightPID); err != nil {
			return err
		}
	}

	bt.metrics.RecordSplit(internaltelemetry.LevelInternal)
	bt.logger.Debug("Split internal node",
		zap.Uint64("leftPID", pid.GetID()),
		zap.Uint64("rightPID", rightPID.GetID()),
		zap.Uint64("promoted", promoted))
	return bt.insertIntoParent(pid, promoted, rightPID)
}
