// Package btree implements a disk-resident B+ tree mapping uint64 keys to
// short byte values. Pages live in a single memory-mapped file; every mutating
// operation flushes the pages it touched before returning.
//
// A BTree is not safe for concurrent use.
package btree

import (
	"errors"
	"fmt"
	"time"

	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"go.uber.org/zap"
)

// --- Error Definitions ---

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrValueTooLong     = errors.New("value exceeds maximum length")
	ErrTreeInconsistent = errors.New("tree structure is inconsistent")
	ErrTreeClosed       = errors.New("btree is closed")
)

// MaxValueLen is the longest value Put accepts.
const MaxValueLen = pagemanager.MaxValueLen

// --- Operation Results ---

// PutResult tells how a successful Put changed the tree.
type PutResult int

const (
	PutInserted PutResult = iota
	PutUpdated
	PutSplit
)

func (r PutResult) String() string {
	switch r {
	case PutInserted:
		return "OK"
	case PutUpdated:
		return "OK (Updated)"
	case PutSplit:
		return "OK (Split occurred)"
	default:
		return fmt.Sprintf("PutResult(%d)", int(r))
	}
}

func (r PutResult) label() string {
	switch r {
	case PutUpdated:
		return "updated"
	case PutSplit:
		return "split"
	default:
		return "inserted"
	}
}

// DeleteResult tells how a successful Delete changed the tree.
type DeleteResult int

const (
	DeleteRemoved DeleteResult = iota
	DeleteMerged
	DeleteCleared
)

func (r DeleteResult) String() string {
	switch r {
	case DeleteRemoved:
		return "OK (Deleted successfully)"
	case DeleteMerged:
		return "OK (Value deleted and leafs merged)"
	case DeleteCleared:
		return "Tree is fully cleared"
	default:
		return fmt.Sprintf("DeleteResult(%d)", int(r))
	}
}

func (r DeleteResult) label() string {
	switch r {
	case DeleteMerged:
		return "merged"
	case DeleteCleared:
		return "cleared"
	default:
		return "removed"
	}
}

// --- Options ---

type options struct {
	logger  *zap.Logger
	metrics *internaltelemetry.TreeMetrics
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. The tree and its arena log under named children.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the instruments the tree records into.
func WithMetrics(metrics *internaltelemetry.TreeMetrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// --- BTree ---

// BTree is an open store file.
type BTree struct {
	arena   *flushmanager.Arena
	pm      *pagemanager.PageManager
	logger  *zap.Logger
	metrics *internaltelemetry.TreeMetrics
	closed  bool
}

// Open opens the store at path, creating and formatting it when the file is
// missing or shorter than one page. An existing file must carry a valid super
// page.
func Open(path string, opts ...Option) (*BTree, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = internaltelemetry.NewNoopTreeMetrics()
	}

	arena, err := flushmanager.Open(path, o.logger.Named("arena"))
	if err != nil {
		return nil, err
	}

	sp := pagemanager.NewSuperPage(arena.SuperPage())
	if arena.Fresh() {
		sp.Init()
		arena.Flush(pagemanager.SuperPageID)
	} else if err := sp.Validate(); err != nil {
		arena.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	} else if pages, next := arena.Pages(), sp.NextPID(); pages < next {
		// sp aliases the mapping; read it before Close unmaps.
		arena.Close()
		return nil, fmt.Errorf("opening %s: %w: file holds %d pages, super page expects %d",
			path, pagemanager.ErrCorruptSuperPage, pages, next)
	}

	bt := &BTree{
		arena:   arena,
		pm:      pagemanager.NewPageManager(arena, o.logger.Named("allocator")),
		logger:  o.logger.Named("btree"),
		metrics: o.metrics,
	}
	bt.logger.Info("B+ tree opened",
		zap.String("path", path),
		zap.Bool("created", arena.Fresh()),
		zap.Uint64("rootPID", sp.RootPage().GetID()),
		zap.Uint32("height", sp.Height()),
		zap.Uint64("keys", sp.KeysCount()))
	return bt, nil
}

// Path returns the store file path.
func (bt *BTree) Path() string {
	return bt.arena.Path()
}

// Close flushes every page and releases the file. Calling it again is a no-op.
func (bt *BTree) Close() error {
	if bt.closed {
		return nil
	}
	bt.closed = true
	if err := bt.arena.Close(); err != nil {
		return fmt.Errorf("closing btree: %w", err)
	}
	return nil
}

func (bt *BTree) observe(op, result string, started time.Time) {
	bt.metrics.RecordOperation(op, result, started)
}
