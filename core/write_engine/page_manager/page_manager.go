package pagemanager

import (
	"fmt"

	"go.uber.org/zap"
)

// PageStore is the byte-addressable region the allocator works on. Any
// slice returned by Page or SuperPage is invalid after Extend.
type PageStore interface {
	Page(pid PageID) []byte
	SuperPage() []byte
	Extend(bound PageID) error
	Flush(pid PageID)
	FlushRange(first PageID, count int)
}

// PageManager hands out and reclaims PIDs through the free list rooted in
// the super page. It is not safe for concurrent use.
type PageManager struct {
	store  PageStore
	logger *zap.Logger
}

func NewPageManager(store PageStore, logger *zap.Logger) *PageManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageManager{store: store, logger: logger}
}

func (pm *PageManager) super() SuperPage {
	return NewSuperPage(pm.store.SuperPage())
}

// AllocatePage pops the free-list head, growing the store by
// GrowthBlockPages when the list is empty. The returned page is zeroed.
// Growing remaps the store, so callers must re-fetch every page afterwards.
func (pm *PageManager) AllocatePage() (PageID, error) {
	if pm.super().FreeHead() == InvalidPageID {
		if err := pm.grow(); err != nil {
			return InvalidPageID, err
		}
	}

	sp := pm.super()
	pid := sp.FreeHead()
	page := pm.store.Page(pid)
	if page == nil {
		return InvalidPageID, fmt.Errorf("%w: free-list head %d", ErrPageOutOfRange, pid)
	}
	free, err := AsFree(page)
	if err != nil {
		return InvalidPageID, fmt.Errorf("free-list head %d: %w", pid, err)
	}

	sp.SetFreeHead(free.NextFree())
	sp.SetNodesCount(sp.NodesCount() + 1)
	clear(page)
	pm.store.Flush(SuperPageID)
	return pid, nil
}

// grow extends the store by one block and threads the new pages onto the
// free list in PID order.
func (pm *PageManager) grow() error {
	start := pm.super().NextPID()
	end := start + GrowthBlockPages
	if err := pm.store.Extend(end); err != nil {
		return fmt.Errorf("growing store to %d pages: %w", end, err)
	}

	sp := pm.super()
	tail := sp.FreeHead()
	for pid := start; pid < end; pid++ {
		next := pid + 1
		if next == end {
			next = tail
		}
		InitFree(pm.store.Page(pid), next)
	}
	sp.SetFreeHead(start)
	sp.SetNextPID(end)

	pm.store.FlushRange(start, GrowthBlockPages)
	pm.store.Flush(SuperPageID)
	pm.logger.Debug("Grew page store", zap.Uint64("fromPID", start.GetID()), zap.Uint64("toPID", end.GetID()))
	return nil
}

// FreePage stamps pid free and pushes it onto the free list. The page
// payload is not zeroed. Freeing InvalidPageID is a no-op.
func (pm *PageManager) FreePage(pid PageID) error {
	if pid == InvalidPageID {
		return nil
	}
	page := pm.store.Page(pid)
	if page == nil {
		return fmt.Errorf("%w: free of page %d", ErrPageOutOfRange, pid)
	}

	sp := pm.super()
	InitFree(page, sp.FreeHead())
	sp.SetFreeHead(pid)
	if n := sp.NodesCount(); n > 0 {
		sp.SetNodesCount(n - 1)
	}

	pm.store.Flush(pid)
	pm.store.Flush(SuperPageID)
	return nil
}

// FreeCount walks the free list. The walk is bounded by the high-water mark
// so a corrupt cycle cannot hang it.
func (pm *PageManager) FreeCount() (uint64, error) {
	sp := pm.super()
	limit := sp.NextPID().GetID()
	var count uint64
	for pid := sp.FreeHead(); pid != InvalidPageID; count++ {
		if count >= limit {
			return count, fmt.Errorf("%w: free list longer than %d pages", ErrCorruptSuperPage, limit)
		}
		free, err := AsFree(pm.store.Page(pid))
		if err != nil {
			return count, fmt.Errorf("free-list entry %d: %w", pid, err)
		}
		pid = free.NextFree()
	}
	return count, nil
}
