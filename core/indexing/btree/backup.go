package btree

import (
	"context"
	"fmt"
	"time"

	"github.com/sushant-115/gojokv/core/storage_engine/snapshot"
)

// BackupOptions tunes Backup.
type BackupOptions struct {
	// BytesPerSec caps copy throughput when positive.
	BytesPerSec int64
	// LowerPriority copies on a reniced thread.
	LowerPriority bool
}

// Backup flushes every page and copies the store file to dstPath. The copy
// is a valid store that Open accepts.
func (bt *BTree) Backup(ctx context.Context, dstPath string, opts BackupOptions) (snapshot.Result, error) {
	started := time.Now()
	if bt.closed {
		bt.observe("backup", "error", started)
		return snapshot.Result{}, ErrTreeClosed
	}
	bt.arena.FlushAll()
	res, err := snapshot.CopyThrottled(ctx, bt.arena.Path(), dstPath, snapshot.Options{
		BytesPerSec:   opts.BytesPerSec,
		LowerPriority: opts.LowerPriority,
		Logger:        bt.logger.Named("snapshot"),
	})
	if err != nil {
		bt.observe("backup", "error", started)
		return res, fmt.Errorf("backing up to %s: %w", dstPath, err)
	}
	bt.observe("backup", "ok", started)
	return res, nil
}
