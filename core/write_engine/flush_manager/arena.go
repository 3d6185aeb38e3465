package flushmanager

import (
	"fmt"
	"os"

	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Arena maps the store file into memory and hands out page-sized windows by
// PID. It implements pagemanager.PageStore.
//
// Every slice returned by Page or SuperPage aliases the mapping and becomes
// invalid as soon as Extend or Close runs.
type Arena struct {
	path   string
	file   *os.File
	data   []byte
	fresh  bool
	logger *zap.Logger
}

// Open opens or creates the store file and maps it. A file smaller than one
// page is grown to exactly one page and reported as Fresh, so the caller
// formats a new super page.
func Open(path string, logger *zap.Logger) (*Arena, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, path, err)
	}

	a := &Arena{path: path, file: file, logger: logger}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, path, err)
	}

	size := fi.Size()
	if size < pagemanager.PageSize {
		a.fresh = true
		size = pagemanager.PageSize
		if err := unix.Ftruncate(a.fd(), size); err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: sizing new file %s: %v", ErrIO, path, err)
		}
	}

	if err := a.mmap(size); err != nil {
		file.Close()
		return nil, err
	}
	logger.Info("Page arena opened",
		zap.String("path", path),
		zap.Int64("sizeBytes", size),
		zap.Bool("fresh", a.fresh))
	return a, nil
}

func (a *Arena) fd() int {
	return int(a.file.Fd())
}

func (a *Arena) mmap(size int64) error {
	data, err := unix.Mmap(a.fd(), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: mapping %d bytes of %s: %v", ErrIO, size, a.path, err)
	}
	a.data = data
	return nil
}

func (a *Arena) munmap() error {
	if a.data == nil {
		return nil
	}
	err := unix.Munmap(a.data)
	a.data = nil
	if err != nil {
		return fmt.Errorf("%w: unmapping %s: %v", ErrIO, a.path, err)
	}
	return nil
}

// Fresh reports whether Open created or re-initialised the file.
func (a *Arena) Fresh() bool { return a.fresh }

func (a *Arena) Path() string { return a.path }

// Size is the mapped length in bytes.
func (a *Arena) Size() int64 { return int64(len(a.data)) }

// Pages is the number of whole pages currently mapped.
func (a *Arena) Pages() pagemanager.PageID {
	return pagemanager.PageID(len(a.data) / pagemanager.PageSize)
}

// Page returns the window for pid, or nil for the null PID and for PIDs
// beyond the mapping.
func (a *Arena) Page(pid pagemanager.PageID) []byte {
	if pid == pagemanager.InvalidPageID || pid >= a.Pages() {
		return nil
	}
	off := pid.Offset()
	return a.data[off : off+pagemanager.PageSize : off+pagemanager.PageSize]
}

// SuperPage returns the window for PID 0.
func (a *Arena) SuperPage() []byte {
	if len(a.data) < pagemanager.PageSize {
		return nil
	}
	return a.data[:pagemanager.PageSize:pagemanager.PageSize]
}

// Extend grows the file so that pages [0, bound) exist, then remaps it.
// Shrinking is never done; a bound within the current mapping is a no-op.
func (a *Arena) Extend(bound pagemanager.PageID) error {
	if a.file == nil {
		return ErrArenaClosed
	}
	if bound == pagemanager.InvalidPageID {
		return ErrInvalidBound
	}
	newSize := bound.Offset()
	if newSize <= a.Size() {
		return nil
	}

	oldSize := a.Size()
	if err := a.munmap(); err != nil {
		return err
	}
	if err := unix.Ftruncate(a.fd(), newSize); err != nil {
		// Try to get the old mapping back so the arena stays usable.
		if remapErr := a.mmap(oldSize); remapErr != nil {
			a.logger.Error("Failed to restore mapping after truncate failure", zap.Error(remapErr))
		}
		return fmt.Errorf("%w: growing %s to %d bytes: %v", ErrIO, a.path, newSize, err)
	}
	if err := a.mmap(newSize); err != nil {
		return err
	}
	a.logger.Debug("Page arena extended",
		zap.Int64("fromBytes", oldSize),
		zap.Int64("toBytes", newSize))
	return nil
}

// Flush persists one page.
func (a *Arena) Flush(pid pagemanager.PageID) {
	a.FlushRange(pid, 1)
}

// FlushRange persists count pages starting at first. Failures are logged and
// swallowed: the mapping already holds the change.
func (a *Arena) FlushRange(first pagemanager.PageID, count int) {
	if a.data == nil || count <= 0 {
		return
	}
	start := first.Offset()
	end := start + int64(count)*pagemanager.PageSize
	if end > a.Size() {
		end = a.Size()
	}
	if start >= end {
		return
	}
	// msync wants an address aligned to the OS page, which may be larger than ours.
	osPage := int64(os.Getpagesize())
	start -= start % osPage
	if err := unix.Msync(a.data[start:end], unix.MS_SYNC); err != nil {
		a.logger.Warn("Failed to flush pages",
			zap.Uint64("firstPID", first.GetID()),
			zap.Int("count", count),
			zap.Error(err))
	}
}

// FlushAll persists the whole mapping.
func (a *Arena) FlushAll() {
	if a.data == nil {
		return
	}
	if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
		a.logger.Warn("Failed to flush page arena", zap.String("path", a.path), zap.Error(err))
	}
}

// Close flushes and unmaps the region and closes the file. It is idempotent.
func (a *Arena) Close() error {
	if a.file == nil {
		return nil
	}
	a.FlushAll()
	unmapErr := a.munmap()
	closeErr := a.file.Close()
	a.file = nil
	if unmapErr != nil {
		return unmapErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, a.path, closeErr)
	}
	a.logger.Info("Page arena closed", zap.String("path", a.path))
	return nil
}
