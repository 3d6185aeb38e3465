package pagemanager

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// --- Page Layout ---

const (
	PageSize = 4096 // Bytes

	InvalidPageID PageID = 0 // Null sentinel; also the PID of the super page
	SuperPageID   PageID = 0

	// ContentOffset separates the node header from the payload on every content page.
	ContentOffset = 64

	MaxValueLen    = 119
	LeafRecordSize = 8 + 1 + MaxValueLen // key + value length + value bytes

	MaxLeafFanout     = (PageSize - ContentOffset) / LeafRecordSize // 31
	MinLeafFanout     = (MaxLeafFanout + 2) / 2                     // ceil((M+1)/2) = 16
	MaxInternalFanout = (PageSize - ContentOffset - 8) / (8 + 8)    // 251
	MinInternalFanout = (MaxInternalFanout + 2) / 2                 // 126

	// GrowthBlockPages is how many pages the allocator adds per file extension.
	GrowthBlockPages = 1024

	internalKeysStart = ContentOffset + (MaxInternalFanout+1)*8 // children array comes first
)

// Node header offsets, relative to the start of a page.
const (
	kindOffset     = 0
	numKeysOffset  = 2
	parentOffset   = 8
	nextLeafOffset = 16
	prevLeafOffset = 24

	// A free page keeps its kind byte and stores the next free PID where the
	// parent pointer of a content page would be.
	nextFreeOffset = parentOffset
)

// --- Error Definitions ---

var (
	ErrWrongPageKind    = errors.New("page has unexpected node kind")
	ErrCorruptSuperPage = errors.New("super page is missing or corrupt")
	ErrPageOutOfRange   = errors.New("page id out of range")
	ErrShortPage        = errors.New("page buffer shorter than page size")
)

// PageID represents a unique identifier for a page in the store file.
type PageID uint64

func (p PageID) GetID() uint64 {
	return uint64(p)
}

// Offset returns the byte offset of the page within the file.
func (p PageID) Offset() int64 {
	return int64(p) * PageSize
}

// NodeKind tags every content page.
type NodeKind uint8

const (
	KindInternal NodeKind = 0
	KindLeaf     NodeKind = 1
	KindFree     NodeKind = 0xFF
)

func (k NodeKind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindLeaf:
		return "leaf"
	case KindFree:
		return "free"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(k))
	}
}

// KindOf reads the kind tag of a page without checking it.
func KindOf(page []byte) NodeKind {
	return NodeKind(page[kindOffset])
}

// --- Node Header ---

// Header is the view over the first ContentOffset bytes of a leaf or internal page.
type Header struct {
	data []byte
}

// AsNode returns a header view for a leaf or internal page. Free pages are rejected.
func AsNode(page []byte) (Header, error) {
	if len(page) < PageSize {
		return Header{}, ErrShortPage
	}
	switch k := KindOf(page); k {
	case KindLeaf, KindInternal:
		return Header{data: page}, nil
	default:
		return Header{}, fmt.Errorf("%w: expected leaf or internal, got %s", ErrWrongPageKind, k)
	}
}

func (h Header) Kind() NodeKind { return NodeKind(h.data[kindOffset]) }
func (h Header) IsLeaf() bool   { return h.Kind() == KindLeaf }

func (h Header) NumKeys() int {
	return int(binary.LittleEndian.Uint16(h.data[numKeysOffset:]))
}

func (h Header) SetNumKeys(n int) {
	binary.LittleEndian.PutUint16(h.data[numKeysOffset:], uint16(n))
}

func (h Header) ParentID() PageID {
	return PageID(binary.LittleEndian.Uint64(h.data[parentOffset:]))
}

func (h Header) SetParentID(pid PageID) {
	binary.LittleEndian.PutUint64(h.data[parentOffset:], uint64(pid))
}

func (h Header) NextLeaf() PageID {
	return PageID(binary.LittleEndian.Uint64(h.data[nextLeafOffset:]))
}

func (h Header) SetNextLeaf(pid PageID) {
	binary.LittleEndian.PutUint64(h.data[nextLeafOffset:], uint64(pid))
}

func (h Header) PrevLeaf() PageID {
	return PageID(binary.LittleEndian.Uint64(h.data[prevLeafOffset:]))
}

func (h Header) SetPrevLeaf(pid PageID) {
	binary.LittleEndian.PutUint64(h.data[prevLeafOffset:], uint64(pid))
}

// IsRoot reports whether the node has no parent.
func (h Header) IsRoot() bool {
	return h.ParentID() == InvalidPageID
}

// reset zeroes the header and stamps the kind.
func (h Header) reset(kind NodeKind) {
	clear(h.data[:ContentOffset])
	h.data[kindOffset] = byte(kind)
}
