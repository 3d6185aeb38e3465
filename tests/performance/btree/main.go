// Command btree drives a B+ tree store with a paced insert/read/delete
// workload and prints throughput figures.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojokv/core/indexing/btree"
	"github.com/sushant-115/gojokv/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	dbPath       = flag.String("db", filepath.Join(os.TempDir(), "gojokv-bench.db"), "Store file path (removed before the run)")
	numKeys      = flag.Int("keys", 100000, "Number of keys to insert")
	deleteRatio  = flag.Float64("delete", 0.5, "Fraction of keys to delete after reading")
	opsPerSecond = flag.Float64("rate", 0, "Maximum operations per second (0 = unlimited)")
	valueSize    = flag.Int("value-size", 64, "Value length in bytes")
	shuffle      = flag.Bool("shuffle", true, "Insert keys in random order")
	seed         = flag.Int64("seed", 1, "Random seed")
)

type phase struct {
	name    string
	ops     int
	elapsed time.Duration
}

func (p phase) String() string {
	perSec := float64(p.ops) / p.elapsed.Seconds()
	return fmt.Sprintf("%-7s %10s ops in %-12v %12s ops/s",
		p.name, humanize.Comma(int64(p.ops)), p.elapsed.Round(time.Millisecond), humanize.Comma(int64(perSec)))
}

func main() {
	flag.Parse()
	if err := checkFlags(*numKeys, *deleteRatio, *valueSize); err != nil {
		log.Fatal(err)
	}

	zlogger, err := logger.New(logger.Config{Level: "error", Format: "console", OutputFile: "stderr"})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlogger.Sync()

	os.Remove(*dbPath)
	tree, err := btree.Open(*dbPath, btree.WithLogger(zlogger))
	if err != nil {
		zlogger.Fatal("Failed to open store", zap.Error(err))
	}
	defer tree.Close()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if *opsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(*opsPerSecond), 1)
	}

	keys := make([]uint64, *numKeys)
	for i := range keys {
		keys[i] = uint64(i + 1)
	}
	r := rand.New(rand.NewSource(*seed))
	if *shuffle {
		r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	}
	value := make([]byte, *valueSize)
	for i := range value {
		value[i] = byte('a' + i%26)
	}

	ctx := context.Background()
	var phases []phase

	phases = append(phases, timed("insert", keys, func(k uint64) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := tree.Put(k, value)
		return err
	}))

	phases = append(phases, timed("read", keys, func(k uint64) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := tree.Get(k)
		return err
	}))

	toDelete := keys[:int(float64(len(keys))**deleteRatio)]
	phases = append(phases, timed("delete", toDelete, func(k uint64) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := tree.Delete(k)
		return err
	}))

	for _, p := range phases {
		fmt.Println(p)
	}
	if err := tree.Check(); err != nil {
		zlogger.Fatal("Tree failed verification", zap.Error(err))
	}
	fmt.Print(tree.Stats())
}

// checkFlags rejects workload settings that cannot be run.
func checkFlags(keys int, deleteRatio float64, valueSize int) error {
	if keys < 0 {
		return fmt.Errorf("keys must not be negative, got %d", keys)
	}
	if deleteRatio < 0 || deleteRatio > 1 || math.IsNaN(deleteRatio) {
		return fmt.Errorf("delete must be within [0, 1], got %v", deleteRatio)
	}
	if valueSize < 0 || valueSize > btree.MaxValueLen {
		return fmt.Errorf("value-size must be within [0, %d], got %d", btree.MaxValueLen, valueSize)
	}
	return nil
}

func timed(name string, keys []uint64, op func(uint64) error) phase {
	start := time.Now()
	for _, k := range keys {
		if err := op(k); err != nil {
			log.Fatalf("%s %d: %v", name, k, err)
		}
	}
	return phase{name: name, ops: len(keys), elapsed: time.Since(start)}
}
