package pagemanager

import (
	"encoding/binary"
	"fmt"
)

// Leaf record layout: | key (8) | value length (1) | value (MaxValueLen) |
const (
	recordKeyOffset   = 0
	recordLenOffset   = 8
	recordValueOffset = 9
)

// LeafRecord is the raw encoding of one key/value slot of a leaf.
type LeafRecord [LeafRecordSize]byte

// EncodeLeafRecord packs a key and value into a record. The caller validates
// that value fits MaxValueLen.
func EncodeLeafRecord(key uint64, value []byte) LeafRecord {
	var rec LeafRecord
	binary.LittleEndian.PutUint64(rec[recordKeyOffset:], key)
	rec[recordLenOffset] = byte(len(value))
	copy(rec[recordValueOffset:], value)
	return rec
}

func (r LeafRecord) Key() uint64 {
	return binary.LittleEndian.Uint64(r[recordKeyOffset:])
}

func (r LeafRecord) Value() []byte {
	n := int(r[recordLenOffset])
	return append([]byte(nil), r[recordValueOffset:recordValueOffset+n]...)
}

// LeafPage is the view over a leaf node: header plus up to MaxLeafFanout
// records sorted by key.
type LeafPage struct {
	Header
}

// AsLeaf checks the kind tag and returns a leaf view.
func AsLeaf(page []byte) (LeafPage, error) {
	h, err := AsNode(page)
	if err != nil {
		return LeafPage{}, err
	}
	if !h.IsLeaf() {
		return LeafPage{}, fmt.Errorf("%w: expected leaf, got %s", ErrWrongPageKind, h.Kind())
	}
	return LeafPage{Header: h}, nil
}

// InitLeaf formats a freshly allocated page as an empty leaf.
func InitLeaf(page []byte, parent PageID) LeafPage {
	l := LeafPage{Header: Header{data: page}}
	l.reset(KindLeaf)
	l.SetParentID(parent)
	return l
}

func (l LeafPage) slot(i int) []byte {
	off := ContentOffset + i*LeafRecordSize
	return l.data[off : off+LeafRecordSize]
}

func (l LeafPage) Key(i int) uint64 {
	return binary.LittleEndian.Uint64(l.slot(i)[recordKeyOffset:])
}

// Value returns a copy of the value stored in slot i.
func (l LeafPage) Value(i int) []byte {
	s := l.slot(i)
	n := int(s[recordLenOffset])
	return append([]byte(nil), s[recordValueOffset:recordValueOffset+n]...)
}

// SetValue overwrites the value of slot i in place.
func (l LeafPage) SetValue(i int, value []byte) {
	s := l.slot(i)
	clear(s[recordLenOffset:])
	s[recordLenOffset] = byte(len(value))
	copy(s[recordValueOffset:], value)
}

func (l LeafPage) Record(i int) LeafRecord {
	var rec LeafRecord
	copy(rec[:], l.slot(i))
	return rec
}

func (l LeafPage) SetRecord(i int, rec LeafRecord) {
	copy(l.slot(i), rec[:])
}

// Records copies out every stored record.
func (l LeafPage) Records() []LeafRecord {
	n := l.NumKeys()
	recs := make([]LeafRecord, n, n+1)
	for i := range n {
		recs[i] = l.Record(i)
	}
	return recs
}

// SetRecords replaces the leaf payload with recs and updates numKeys.
func (l LeafPage) SetRecords(recs []LeafRecord) {
	for i, rec := range recs {
		l.SetRecord(i, rec)
	}
	l.SetNumKeys(len(recs))
}

// Search binary-searches the keys. It returns the slot holding key, or the
// insertion index when key is absent.
func (l LeafPage) Search(key uint64) (int, bool) {
	low, high := 0, l.NumKeys()-1
	for low <= high {
		mid := low + (high-low)/2
		k := l.Key(mid)
		switch {
		case k == key:
			return mid, true
		case k < key:
			low = mid + 1
		default:
			high = mid - 1
		}
	}
	return low, false
}

// InsertAt opens a gap at index i and writes the record there. The caller
// guarantees NumKeys() < MaxLeafFanout.
func (l LeafPage) InsertAt(i int, key uint64, value []byte) {
	n := l.NumKeys()
	start := ContentOffset + i*LeafRecordSize
	end := ContentOffset + n*LeafRecordSize
	copy(l.data[start+LeafRecordSize:end+LeafRecordSize], l.data[start:end])
	l.SetRecord(i, EncodeLeafRecord(key, value))
	l.SetNumKeys(n + 1)
}

// RemoveAt deletes slot i by shifting the following records left.
func (l LeafPage) RemoveAt(i int) {
	n := l.NumKeys()
	start := ContentOffset + i*LeafRecordSize
	end := ContentOffset + n*LeafRecordSize
	copy(l.data[start:end-LeafRecordSize], l.data[start+LeafRecordSize:end])
	l.SetNumKeys(n - 1)
}

// Append copies every record of src after the records of l.
func (l LeafPage) Append(src LeafPage) {
	n := l.NumKeys()
	m := src.NumKeys()
	copy(l.data[ContentOffset+n*LeafRecordSize:], src.data[ContentOffset:ContentOffset+m*LeafRecordSize])
	l.SetNumKeys(n + m)
}
