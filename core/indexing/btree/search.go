package btree

import (
	"errors"
	"fmt"
	"time"

	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
)

// findLeaf descends from the root to the leaf whose range covers key. It
// returns InvalidPageID for an empty tree.
func (bt *BTree) findLeaf(key uint64) (pagemanager.PageID, error) {
	sp := bt.super()
	pid := sp.RootPage()
	if pid == pagemanager.InvalidPageID {
		return pagemanager.InvalidPageID, nil
	}

	for depth := uint32(1); ; depth++ {
		if depth > sp.Height() {
			return pagemanager.InvalidPageID, fmt.Errorf("%w: descent deeper than height %d", ErrTreeInconsistent, sp.Height())
		}
		page, err := bt.page(pid)
		if err != nil {
			return pagemanager.InvalidPageID, err
		}
		if pagemanager.KindOf(page) == pagemanager.KindLeaf {
			return pid, nil
		}
		n, err := pagemanager.AsInternal(page)
		if err != nil {
			return pagemanager.InvalidPageID, fmt.Errorf("page %d: %w", pid, err)
		}
		pid = n.Route(key)
	}
}

// Get returns a copy of the value stored under key, or ErrKeyNotFound.
func (bt *BTree) Get(key uint64) ([]byte, error) {
	if bt.closed {
		return nil, ErrTreeClosed
	}
	started := time.Now()

	value, err := bt.get(key)
	switch {
	case err == nil:
		bt.observe("get", "found", started)
	case errors.Is(err, ErrKeyNotFound):
		bt.observe("get", "not_found", started)
	default:
		bt.observe("get", "error", started)
	}
	return value, err
}

func (bt *BTree) get(key uint64) ([]byte, error) {
	leafPID, err := bt.findLeaf(key)
	if err != nil {
		return nil, err
	}
	if leafPID == pagemanager.InvalidPageID {
		return nil, ErrKeyNotFound
	}
	leaf, err := bt.leaf(leafPID)
	if err != nil {
		return nil, err
	}
	idx, found := leaf.Search(key)
	if !found {
		return nil, ErrKeyNotFound
	}
	return leaf.Value(idx), nil
}
