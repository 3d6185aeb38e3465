// Package snapshot copies a store file to another location at a bounded
// rate, hashing the bytes as they go.
package snapshot

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// chunkSize is the read/write unit and the limiter burst.
const chunkSize = 4 * 1024 * 1024

var ErrSameFile = errors.New("snapshot destination is the source file")

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// Result describes a finished copy.
type Result struct {
	Path   string
	Bytes  int64
	SHA256 [sha256.Size]byte
}

// Options tunes CopyThrottled.
type Options struct {
	// BytesPerSec caps throughput; zero or less means unlimited.
	BytesPerSec int64
	// LowerPriority runs the copy on a dedicated OS thread reniced to 19.
	// The rest of the process keeps its priority.
	LowerPriority bool
	Logger        *zap.Logger
}

// backgroundNice is the niceness of the copying thread under LowerPriority.
const backgroundNice = 19

// lowerThreadPriority renices the calling OS thread only. The caller must
// hold the thread with runtime.LockOSThread and exit without unlocking, so
// the runtime discards the thread instead of reusing it.
func lowerThreadPriority() error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), backgroundNice); err != nil {
		return fmt.Errorf("setpriority failed: %w", err)
	}
	return nil
}

// CopyThrottled copies srcPath to dstPath, replacing dstPath, and syncs the
// result. The returned checksum covers every byte written.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	res := Result{Path: dstPath}

	src, err := os.Open(srcPath)
	if err != nil {
		return res, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	if srcInfo, err := src.Stat(); err == nil {
		if dstInfo, err := os.Stat(dstPath); err == nil && os.SameFile(srcInfo, dstInfo) {
			return res, fmt.Errorf("%w: %s", ErrSameFile, dstPath)
		}
	}

	if !opts.LowerPriority {
		return copyFile(ctx, src, dstPath, opts.BytesPerSec, logger)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Never unlocked: the reniced thread exits with this goroutine.
		runtime.LockOSThread()
		if perr := lowerThreadPriority(); perr != nil {
			logger.Warn("Could not lower copy thread priority", zap.Error(perr))
		}
		res, err = copyFile(ctx, src, dstPath, opts.BytesPerSec, logger)
	}()
	<-done
	return res, err
}

func copyFile(ctx context.Context, src *os.File, dstPath string, bytesPerSec int64, logger *zap.Logger) (Result, error) {
	res := Result{Path: dstPath}
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return res, fmt.Errorf("open dst: %w", err)
	}
	defer dst.Close()

	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), chunkSize)
	}

	sum := sha256.New()
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	for {
		n, rerr := src.ReadAt(buf[:chunkSize], res.Bytes)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return res, fmt.Errorf("rate limiter error: %w", err)
				}
			} else if err := ctx.Err(); err != nil {
				return res, err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return res, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			res.Bytes += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return res, fmt.Errorf("read error: %w", rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return res, fmt.Errorf("sync error: %w", err)
	}
	copy(res.SHA256[:], sum.Sum(nil))
	logger.Info("Snapshot written",
		zap.String("src", src.Name()),
		zap.String("dst", dstPath),
		zap.Int64("bytes", res.Bytes),
		zap.String("sha256", fmt.Sprintf("%x", res.SHA256)))
	return res, nil
}
