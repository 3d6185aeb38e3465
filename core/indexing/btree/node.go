package btree

import (
	"fmt"

	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
)

// --- Page Access ---
// Views returned here alias the mapping. Any allocation may remap it, so
// callers hold PIDs across AllocatePage and fetch the views again afterwards.

func (bt *BTree) super() pagemanager.SuperPage {
	return pagemanager.NewSuperPage(bt.arena.SuperPage())
}

// page returns the window of a content page after checking it lies in
// [1, nextPID).
func (bt *BTree) page(pid pagemanager.PageID) ([]byte, error) {
	if pid == pagemanager.InvalidPageID || pid >= bt.super().NextPID() {
		return nil, fmt.Errorf("%w: pid %d", pagemanager.ErrPageOutOfRange, pid)
	}
	page := bt.arena.Page(pid)
	if page == nil {
		return nil, fmt.Errorf("%w: pid %d beyond mapping", pagemanager.ErrPageOutOfRange, pid)
	}
	return page, nil
}

func (bt *BTree) node(pid pagemanager.PageID) (pagemanager.Header, error) {
	page, err := bt.page(pid)
	if err != nil {
		return pagemanager.Header{}, err
	}
	h, err := pagemanager.AsNode(page)
	if err != nil {
		return pagemanager.Header{}, fmt.Errorf("page %d: %w", pid, err)
	}
	return h, nil
}

func (bt *BTree) leaf(pid pagemanager.PageID) (pagemanager.LeafPage, error) {
	page, err := bt.page(pid)
	if err != nil {
		return pagemanager.LeafPage{}, err
	}
	l, err := pagemanager.AsLeaf(page)
	if err != nil {
		return pagemanager.LeafPage{}, fmt.Errorf("page %d: %w", pid, err)
	}
	return l, nil
}

func (bt *BTree) internal(pid pagemanager.PageID) (pagemanager.InternalPage, error) {
	page, err := bt.page(pid)
	if err != nil {
		return pagemanager.InternalPage{}, err
	}
	n, err := pagemanager.AsInternal(page)
	if err != nil {
		return pagemanager.InternalPage{}, fmt.Errorf("page %d: %w", pid, err)
	}
	return n, nil
}

// setParent rewrites the parent pointer of pid and flushes it.
func (bt *BTree) setParent(pid, parent pagemanager.PageID) error {
	h, err := bt.node(pid)
	if err != nil {
		return err
	}
	h.SetParentID(parent)
	bt.arena.Flush(pid)
	return nil
}

// --- Allocation ---

func (bt *BTree) allocate() (pagemanager.PageID, error) {
	pid, err := bt.pm.AllocatePage()
	if err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("allocating page: %w", err)
	}
	bt.metrics.RecordPageAllocated()
	return pid, nil
}

func (bt *BTree) free(pid pagemanager.PageID) error {
	if err := bt.pm.FreePage(pid); err != nil {
		return fmt.Errorf("freeing page %d: %w", pid, err)
	}
	bt.metrics.RecordPageFreed()
	return nil
}

// --- Flushing ---

func (bt *BTree) flush(pids ...pagemanager.PageID) {
	for _, pid := range pids {
		if pid != pagemanager.InvalidPageID {
			bt.arena.Flush(pid)
		}
	}
}

func (bt *BTree) flushSuper() {
	bt.arena.Flush(pagemanager.SuperPageID)
}
