package btree

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

func setupTree(t *testing.T) (*BTree, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.db")
	bt, err := Open(path, WithLogger(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))))
	require.NoError(t, err)
	t.Cleanup(func() { bt.Close() })
	return bt, path
}

func setupMeteredTree(t *testing.T) (*BTree, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	metrics, err := internaltelemetry.NewTreeMetrics(provider.Meter("btree-test"))
	require.NoError(t, err)

	bt, err := Open(filepath.Join(t.TempDir(), "tree.db"), WithMetrics(metrics))
	require.NoError(t, err)
	t.Cleanup(func() { bt.Close() })
	return bt, reader
}

// collectSums totals every counter by name, and by "name/level" for data
// points carrying a level attribute.
func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
				if level, ok := dp.Attributes.Value(internaltelemetry.AttrLevel); ok {
					totals[m.Name+"/"+level.AsString()] += dp.Value
				}
			}
		}
	}
	return totals
}

func valueFor(key uint64) []byte {
	return []byte(fmt.Sprintf("value-%d", key))
}

func putRange(t *testing.T, bt *BTree, keys []uint64) {
	t.Helper()
	for _, k := range keys {
		_, err := bt.Put(k, valueFor(k))
		require.NoError(t, err, "put %d", k)
	}
}

func seq(from, to uint64) []uint64 {
	keys := make([]uint64, 0, to-from+1)
	for k := from; k <= to; k++ {
		keys = append(keys, k)
	}
	return keys
}

func shuffled(keys []uint64, seed int64) []uint64 {
	out := append([]uint64(nil), keys...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// --- Test Cases ---

func TestOpen_FreshFileIsEmpty(t *testing.T) {
	bt, path := setupTree(t)

	st := bt.Stats()
	require.Equal(t, path, st.Path)
	require.Equal(t, pagemanager.SuperMagic, st.Magic)
	require.Equal(t, uint32(1), st.Version)
	require.Equal(t, uint32(pagemanager.PageSize), st.PageSize)
	require.Equal(t, pagemanager.InvalidPageID, st.RootPage)
	require.Zero(t, st.Height)
	require.Zero(t, st.Keys)
	require.Zero(t, st.Nodes)
	require.Equal(t, uint64(1), st.TotalPages)
	require.Zero(t, st.FillFactor)
	require.NoError(t, bt.Check())

	_, err := bt.Get(1)
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = bt.Delete(1)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPutGet_RoundTrip(t *testing.T) {
	bt, _ := setupTree(t)

	res, err := bt.Put(42, []byte("answer"))
	require.NoError(t, err)
	require.Equal(t, PutInserted, res)

	v, err := bt.Get(42)
	require.NoError(t, err)
	require.Equal(t, []byte("answer"), v)

	st := bt.Stats()
	require.Equal(t, uint32(1), st.Height)
	require.Equal(t, uint64(1), st.Keys)
	require.Equal(t, uint64(1), st.Nodes)

	_, err = bt.Get(41)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPut_EmptyAndMaxValue(t *testing.T) {
	bt, _ := setupTree(t)

	_, err := bt.Put(1, nil)
	require.NoError(t, err)
	v, err := bt.Get(1)
	require.NoError(t, err)
	require.Empty(t, v)

	long := bytes.Repeat([]byte{'x'}, MaxValueLen)
	_, err = bt.Put(2, long)
	require.NoError(t, err)
	v, err = bt.Get(2)
	require.NoError(t, err)
	require.Equal(t, long, v)
}

func TestPut_UpdateKeepsCount(t *testing.T) {
	bt, _ := setupTree(t)

	_, err := bt.Put(7, []byte("first value"))
	require.NoError(t, err)
	res, err := bt.Put(7, []byte("2nd"))
	require.NoError(t, err)
	require.Equal(t, PutUpdated, res)
	require.Equal(t, "OK (Updated)", res.String())

	v, err := bt.Get(7)
	require.NoError(t, err)
	require.Equal(t, []byte("2nd"), v)
	require.Equal(t, uint64(1), bt.Stats().Keys)
}

func TestPut_ValueTooLongLeavesTreeUntouched(t *testing.T) {
	bt, _ := setupTree(t)
	putRange(t, bt, seq(1, 10))
	before := bt.Stats()

	_, err := bt.Put(11, bytes.Repeat([]byte{'v'}, MaxValueLen+1))
	require.ErrorIs(t, err, ErrValueTooLong)
	_, err = bt.Put(5, bytes.Repeat([]byte{'v'}, MaxValueLen+1))
	require.ErrorIs(t, err, ErrValueTooLong)

	require.Equal(t, before, bt.Stats())
	v, err := bt.Get(5)
	require.NoError(t, err)
	require.Equal(t, valueFor(5), v)
}

func TestGet_ReturnsCopy(t *testing.T) {
	bt, _ := setupTree(t)
	_, err := bt.Put(1, []byte("abc"))
	require.NoError(t, err)

	v, err := bt.Get(1)
	require.NoError(t, err)
	v[0] = 'z'

	v, err = bt.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), v)
}

func TestFanOutBoundary(t *testing.T) {
	bt, _ := setupTree(t)

	putRange(t, bt, seq(1, pagemanager.MaxLeafFanout))
	st := bt.Stats()
	require.Equal(t, uint32(1), st.Height)
	require.Equal(t, uint64(1), st.Nodes)
	require.Equal(t, uint64(31), st.Keys)

	res, err := bt.Put(32, valueFor(32))
	require.NoError(t, err)
	require.Equal(t, PutSplit, res)
	require.Equal(t, "OK (Split occurred)", res.String())

	st = bt.Stats()
	require.Equal(t, uint32(2), st.Height)
	require.Equal(t, uint64(3), st.Nodes)
	require.Equal(t, uint64(32), st.Keys)
	require.NoError(t, bt.Check())

	for _, k := range seq(1, 32) {
		v, err := bt.Get(k)
		require.NoError(t, err)
		require.Equal(t, valueFor(k), v)
	}
}

func TestMergeBoundary(t *testing.T) {
	bt, _ := setupTree(t)
	putRange(t, bt, seq(1, 32))

	res, err := bt.Delete(1)
	require.NoError(t, err)
	require.Equal(t, DeleteMerged, res)
	require.Equal(t, "OK (Value deleted and leafs merged)", res.String())

	st := bt.Stats()
	require.Equal(t, uint32(1), st.Height)
	require.Equal(t, uint64(1), st.Nodes)
	require.Equal(t, uint64(31), st.Keys)
	require.NoError(t, bt.Check())

	_, err = bt.Get(1)
	require.ErrorIs(t, err, ErrKeyNotFound)
	for _, k := range seq(2, 32) {
		_, err := bt.Get(k)
		require.NoError(t, err)
	}
}

func TestDelete_SimpleRemove(t *testing.T) {
	bt, _ := setupTree(t)
	putRange(t, bt, seq(1, 5))

	res, err := bt.Delete(3)
	require.NoError(t, err)
	require.Equal(t, DeleteRemoved, res, "a root leaf below minimum is not merged")
	require.Equal(t, "OK (Deleted successfully)", res.String())

	_, err = bt.Get(3)
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = bt.Delete(3)
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Equal(t, uint64(4), bt.Stats().Keys)
}

func TestDelete_LastKeyClearsTree(t *testing.T) {
	bt, _ := setupTree(t)
	_, err := bt.Put(9, []byte("only"))
	require.NoError(t, err)

	res, err := bt.Delete(9)
	require.NoError(t, err)
	require.Equal(t, DeleteCleared, res)
	require.Equal(t, "Tree is fully cleared", res.String())

	st := bt.Stats()
	require.Equal(t, pagemanager.InvalidPageID, st.RootPage)
	require.Zero(t, st.Height)
	require.Zero(t, st.Nodes)
	require.NoError(t, bt.Check())

	// The tree grows again from scratch and reuses the freed page.
	_, err = bt.Put(10, []byte("again"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), bt.Stats().Height)
}

func TestFullDrain(t *testing.T) {
	const n = 1500
	keys := seq(1, n)
	desc := append([]uint64(nil), keys...)
	slices.Reverse(desc)
	orders := map[string][]uint64{
		"ascending":  keys,
		"descending": desc,
		"random":     shuffled(keys, 7),
	}

	for name, deleteOrder := range orders {
		t.Run(name, func(t *testing.T) {
			bt, _ := setupTree(t)
			putRange(t, bt, shuffled(keys, 3))
			require.Equal(t, uint32(2), bt.Stats().Height)
			require.NoError(t, bt.Check())

			var last DeleteResult
			for i, k := range deleteOrder {
				res, err := bt.Delete(k)
				require.NoError(t, err, "delete %d", k)
				last = res
				if i%250 == 0 {
					require.NoError(t, bt.Check(), "after %d deletes", i+1)
				}
			}
			require.Equal(t, DeleteCleared, last)

			st := bt.Stats()
			require.Equal(t, pagemanager.InvalidPageID, st.RootPage)
			require.Zero(t, st.Height)
			require.Zero(t, st.Keys)
			require.Zero(t, st.Nodes)
			require.NoError(t, bt.Check())
		})
	}
}

func TestThreeLevels(t *testing.T) {
	bt, reader := setupMeteredTree(t)
	keys := seq(1, 5000)
	putRange(t, bt, keys)

	// Ascending inserts leave 311 leaves of 16 records plus a last one of 24,
	// under two internal nodes of 127 and 185 children.
	st := bt.Stats()
	require.Equal(t, uint32(3), st.Height)
	require.Equal(t, uint64(5000), st.Keys)
	require.Equal(t, uint64(315), st.Nodes)
	require.Contains(t, st.String(), "Total Keys: 5000\n")
	require.NoError(t, bt.Check())
	sums := collectSums(t, reader)
	require.Equal(t, int64(311), sums["gojokv.btree.splits/leaf"])
	require.Equal(t, int64(1), sums["gojokv.btree.splits/internal"])

	for _, k := range shuffled(keys, 11)[:500] {
		v, err := bt.Get(k)
		require.NoError(t, err)
		require.Equal(t, valueFor(k), v)
	}

	// Deleting a prefix merges leaves into the first one every 16 deletes.
	// The 60th merge lets the left internal node absorb its right sibling,
	// and the key-less root gives way.
	for _, k := range seq(1, 2000) {
		_, err := bt.Delete(k)
		require.NoError(t, err)
	}
	require.NoError(t, bt.Check())
	st = bt.Stats()
	require.Equal(t, uint32(2), st.Height)
	require.Equal(t, uint64(3000), st.Keys)
	require.Equal(t, uint64(188), st.Nodes)
	sums = collectSums(t, reader)
	require.Equal(t, int64(125), sums["gojokv.btree.merges/leaf"])
	require.Equal(t, int64(1), sums["gojokv.btree.merges/internal"])

	root, err := bt.internal(st.RootPage)
	require.NoError(t, err)
	require.Equal(t, 186, root.NumKeys())
	for _, k := range seq(2001, 5000) {
		_, err := bt.Get(k)
		require.NoError(t, err)
	}
}

func TestInternalMergeWithLeftSibling(t *testing.T) {
	bt, reader := setupMeteredTree(t)
	putRange(t, bt, seq(1, 5000))

	// The last child of the root starts with 184 keys; its first leaf holds
	// 2033..2048. Draining from there merges one leaf per 16 deletes.
	for _, k := range seq(2033, 2976) {
		res, err := bt.Delete(k)
		require.NoError(t, err)
		require.NotEqual(t, DeleteCleared, res)
	}
	// 59 merges: 126 + 1 + 125 keys do not fit, so no internal merge yet.
	st := bt.Stats()
	require.Equal(t, uint32(3), st.Height)
	require.Equal(t, uint64(256), st.Nodes)
	sums := collectSums(t, reader)
	require.Equal(t, int64(59), sums["gojokv.btree.merges/leaf"])
	require.Zero(t, sums["gojokv.btree.merges/internal"])
	require.NoError(t, bt.Check())

	res, err := bt.Delete(2977)
	require.NoError(t, err)
	require.Equal(t, DeleteMerged, res)

	st = bt.Stats()
	require.Equal(t, uint32(2), st.Height)
	require.Equal(t, uint64(4055), st.Keys)
	require.Equal(t, uint64(253), st.Nodes)
	sums = collectSums(t, reader)
	require.Equal(t, int64(60), sums["gojokv.btree.merges/leaf"])
	require.Equal(t, int64(1), sums["gojokv.btree.merges/internal"])
	require.NoError(t, bt.Check())

	root, err := bt.internal(st.RootPage)
	require.NoError(t, err)
	require.Equal(t, pagemanager.MaxInternalFanout, root.NumKeys())

	for _, k := range seq(2978, 5000) {
		_, err := bt.Get(k)
		require.NoError(t, err, "get %d", k)
	}
	_, err = bt.Get(2977)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRandomWorkloadMatchesMap(t *testing.T) {
	bt, _ := setupTree(t)
	r := rand.New(rand.NewSource(42))
	model := make(map[uint64][]byte)

	for i := range 6000 {
		k := uint64(r.Intn(2000))
		switch r.Intn(3) {
		case 0, 1:
			v := []byte(fmt.Sprintf("v%d-%d", k, i))
			_, err := bt.Put(k, v)
			require.NoError(t, err)
			model[k] = v
		default:
			_, err := bt.Delete(k)
			if _, ok := model[k]; ok {
				require.NoError(t, err)
				delete(model, k)
			} else {
				require.ErrorIs(t, err, ErrKeyNotFound)
			}
		}
	}

	require.NoError(t, bt.Check())
	require.Equal(t, uint64(len(model)), bt.Stats().Keys)
	for k := range uint64(2000) {
		v, err := bt.Get(k)
		if want, ok := model[k]; ok {
			require.NoError(t, err)
			require.Equal(t, want, v)
		} else {
			require.ErrorIs(t, err, ErrKeyNotFound)
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	bt, path := setupTree(t)
	keys := shuffled(seq(1, 800), 5)
	putRange(t, bt, keys)
	for _, k := range keys[:100] {
		_, err := bt.Delete(k)
		require.NoError(t, err)
	}
	before := bt.Stats()
	require.NoError(t, bt.Close())
	require.NoError(t, bt.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, before, reopened.Stats())
	require.NoError(t, reopened.Check())
	for _, k := range keys[100:] {
		v, err := reopened.Get(k)
		require.NoError(t, err)
		require.Equal(t, valueFor(k), v)
	}
	for _, k := range keys[:100] {
		_, err := reopened.Get(k)
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
}

func TestFreedPagesAreReused(t *testing.T) {
	bt, _ := setupTree(t)
	putRange(t, bt, seq(1, 1000))
	grown := bt.Stats()

	for _, k := range seq(1, 1000) {
		_, err := bt.Delete(k)
		require.NoError(t, err)
	}
	drained := bt.Stats()
	require.Zero(t, drained.Nodes)
	require.Equal(t, grown.TotalPages, drained.TotalPages, "the file never shrinks")
	require.Equal(t, drained.TotalPages-1, drained.FreePages)

	putRange(t, bt, seq(1, 1000))
	require.Equal(t, grown.TotalPages, bt.Stats().TotalPages, "refill must come from the free list")
	require.NoError(t, bt.Check())
}

func TestOpen_RejectsCorruptSuperPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, pagemanager.PageSize), 0600))

	_, err := Open(path)
	require.ErrorIs(t, err, pagemanager.ErrCorruptSuperPage)
}

func TestOpen_RejectsTruncatedFile(t *testing.T) {
	bt, path := setupTree(t)
	putRange(t, bt, seq(1, 100))
	require.NoError(t, bt.Close())
	require.NoError(t, os.Truncate(path, 2*pagemanager.PageSize))

	_, err := Open(path)
	require.ErrorIs(t, err, pagemanager.ErrCorruptSuperPage)
	require.ErrorContains(t, err, "file holds 2 pages, super page expects 1025")
}

func TestClosedTree(t *testing.T) {
	bt, _ := setupTree(t)
	require.NoError(t, bt.Close())

	_, err := bt.Get(1)
	require.ErrorIs(t, err, ErrTreeClosed)
	_, err = bt.Put(1, nil)
	require.ErrorIs(t, err, ErrTreeClosed)
	_, err = bt.Delete(1)
	require.ErrorIs(t, err, ErrTreeClosed)
	require.ErrorIs(t, bt.Check(), ErrTreeClosed)
	_, err = bt.Backup(context.Background(), filepath.Join(t.TempDir(), "b.db"), BackupOptions{})
	require.ErrorIs(t, err, ErrTreeClosed)
}

func TestBackupOpensAsEqualTree(t *testing.T) {
	bt, _ := setupTree(t)
	keys := shuffled(seq(1, 800), 11)
	putRange(t, bt, keys)
	for _, k := range seq(1, 100) {
		_, err := bt.Delete(k)
		require.NoError(t, err)
	}

	dst := filepath.Join(t.TempDir(), "backup.db")
	res, err := bt.Backup(context.Background(), dst, BackupOptions{BytesPerSec: 64 << 20, LowerPriority: true})
	require.NoError(t, err)
	require.Equal(t, int64(bt.Stats().FileSize), res.Bytes)

	// Later writes to the source must not reach the copy.
	_, err = bt.Put(5000, []byte("after"))
	require.NoError(t, err)

	copied, err := Open(dst)
	require.NoError(t, err)
	defer copied.Close()
	require.NoError(t, copied.Check())
	require.Equal(t, uint64(700), copied.Stats().Keys)
	for _, k := range seq(101, 800) {
		got, err := copied.Get(k)
		require.NoError(t, err)
		require.Equal(t, valueFor(k), got)
	}
	_, err = copied.Get(5000)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStatsString(t *testing.T) {
	bt, path := setupTree(t)
	putRange(t, bt, seq(1, 32))

	out := bt.Stats().String()
	require.Contains(t, out, "--- B+ Tree Statistics ---")
	require.Contains(t, out, "File: "+path)
	require.Contains(t, out, "Magic/Version: BPL1 / 1")
	require.Contains(t, out, "Height: 2")
	require.Contains(t, out, "Max Leaf Records (M_leaf): 31 (Min: 16)")
	require.Contains(t, out, "Max Internal Keys (M_int): 251 (Min: 126)")
	require.Contains(t, out, "Total Keys: 32")
	require.Contains(t, out, "Total Nodes (used pages): 3")
	require.Contains(t, out, "Total Pages (file size): 1025\n")
	require.Contains(t, out, "File Size: 4 MB (4.0 MiB)\n")
	require.Contains(t, out, "Free List Head: 4\n")
	require.Contains(t, out, "Overall Fill Factor (Data/Total): 33.33%")
}

func TestMetricsAreRecorded(t *testing.T) {
	bt, reader := setupMeteredTree(t)

	putRange(t, bt, seq(1, 32))
	_, err := bt.Delete(1)
	require.NoError(t, err)

	totals := collectSums(t, reader)
	require.Equal(t, int64(33), totals["gojokv.btree.operations"])
	require.Equal(t, int64(1), totals["gojokv.btree.splits"])
	require.Equal(t, int64(1), totals["gojokv.btree.merges"])
	require.Equal(t, int64(3), totals["gojokv.btree.pages_allocated"])
	require.Equal(t, int64(2), totals["gojokv.btree.pages_freed"])
}
