package pagemanager

import (
	"encoding/binary"
	"fmt"
)

// InternalPage is the view over an internal node. The payload holds the
// children array (MaxInternalFanout+1 PIDs) followed by the keys array
// (MaxInternalFanout keys). Child i covers [keys[i-1], keys[i]).
type InternalPage struct {
	Header
}

// AsInternal checks the kind tag and returns an internal view.
func AsInternal(page []byte) (InternalPage, error) {
	h, err := AsNode(page)
	if err != nil {
		return InternalPage{}, err
	}
	if h.IsLeaf() {
		return InternalPage{}, fmt.Errorf("%w: expected internal, got %s", ErrWrongPageKind, h.Kind())
	}
	return InternalPage{Header: h}, nil
}

// InitInternal formats a freshly allocated page as an empty internal node.
func InitInternal(page []byte, parent PageID) InternalPage {
	n := InternalPage{Header: Header{data: page}}
	n.reset(KindInternal)
	n.SetParentID(parent)
	return n
}

func (n InternalPage) Key(i int) uint64 {
	return binary.LittleEndian.Uint64(n.data[internalKeysStart+i*8:])
}

func (n InternalPage) SetKey(i int, key uint64) {
	binary.LittleEndian.PutUint64(n.data[internalKeysStart+i*8:], key)
}

func (n InternalPage) Child(i int) PageID {
	return PageID(binary.LittleEndian.Uint64(n.data[ContentOffset+i*8:]))
}

func (n InternalPage) SetChild(i int, pid PageID) {
	binary.LittleEndian.PutUint64(n.data[ContentOffset+i*8:], uint64(pid))
}

// Keys copies out the used part of the keys array.
func (n InternalPage) Keys() []uint64 {
	keys := make([]uint64, n.NumKeys(), MaxInternalFanout+1)
	for i := range keys {
		keys[i] = n.Key(i)
	}
	return keys
}

// Children copies out the used part of the children array.
func (n InternalPage) Children() []PageID {
	children := make([]PageID, n.NumKeys()+1, MaxInternalFanout+2)
	for i := range children {
		children[i] = n.Child(i)
	}
	return children
}

// SetEntries rewrites the node with keys and children. len(children) must be
// len(keys)+1 and len(keys) must not exceed MaxInternalFanout.
func (n InternalPage) SetEntries(keys []uint64, children []PageID) {
	for i, k := range keys {
		n.SetKey(i, k)
	}
	for i, c := range children {
		n.SetChild(i, c)
	}
	n.SetNumKeys(len(keys))
}

// Route picks the child covering key. A key equal to a separator goes right.
func (n InternalPage) Route(key uint64) PageID {
	low, high := 0, n.NumKeys()-1
	for low <= high {
		mid := low + (high-low)/2
		k := n.Key(mid)
		switch {
		case k == key:
			return n.Child(mid + 1)
		case k < key:
			low = mid + 1
		default:
			high = mid - 1
		}
	}
	return n.Child(low)
}

// InsertIndex returns the first key index whose key is not less than key.
func (n InternalPage) InsertIndex(key uint64) int {
	low, high := 0, n.NumKeys()
	for low < high {
		mid := low + (high-low)/2
		if n.Key(mid) < key {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low
}

// ChildIndex returns the pointer index of pid, or -1.
func (n InternalPage) ChildIndex(pid PageID) int {
	for i := 0; i <= n.NumKeys(); i++ {
		if n.Child(i) == pid {
			return i
		}
	}
	return -1
}

// InsertAt places key at keyIdx and child right after it, at keyIdx+1. The
// caller guarantees NumKeys() < MaxInternalFanout.
func (n InternalPage) InsertAt(keyIdx int, key uint64, child PageID) {
	num := n.NumKeys()
	for i := num; i > keyIdx; i-- {
		n.SetKey(i, n.Key(i-1))
	}
	for i := num + 1; i > keyIdx+1; i-- {
		n.SetChild(i, n.Child(i-1))
	}
	n.SetKey(keyIdx, key)
	n.SetChild(keyIdx+1, child)
	n.SetNumKeys(num + 1)
}

// RemoveAt drops child ptrIdx together with the key to its left. ptrIdx must
// be at least 1.
func (n InternalPage) RemoveAt(ptrIdx int) {
	num := n.NumKeys()
	for i := ptrIdx - 1; i < num-1; i++ {
		n.SetKey(i, n.Key(i+1))
	}
	for i := ptrIdx; i < num; i++ {
		n.SetChild(i, n.Child(i+1))
	}
	n.SetNumKeys(num - 1)
}
