package pagemanager

import (
	"encoding/binary"
	"fmt"
)

// --- Super Page ---
// Fixed little-endian layout at PID 0:
//
//	| magic 4 | version 4 | page size 4 | reserved 4 | root 8 | height 4 |
//	| order leaf 2 | order internal 2 | free head 8 | next pid 8 |
//	| keys count 8 | nodes count 8 |
const (
	superMagicOffset     = 0
	superVersionOffset   = 4
	superPageSizeOffset  = 8
	superRootOffset      = 16
	superHeightOffset    = 24
	superOrderLeafOffset = 28
	superOrderIntOffset  = 30
	superFreeHeadOffset  = 32
	superNextPIDOffset   = 40
	superKeysOffset      = 48
	superNodesOffset     = 56

	SuperMagic    = "BPL1"
	FormatVersion = 1
)

// SuperPage is the view over the metadata page, the tree's only durable entry point.
type SuperPage struct {
	data []byte
}

func NewSuperPage(page []byte) SuperPage {
	return SuperPage{data: page}
}

// Init formats an empty store: no root, height 0, next PID 1.
func (s SuperPage) Init() {
	clear(s.data[:PageSize])
	copy(s.data[superMagicOffset:], SuperMagic)
	binary.LittleEndian.PutUint32(s.data[superVersionOffset:], FormatVersion)
	binary.LittleEndian.PutUint32(s.data[superPageSizeOffset:], PageSize)
	binary.LittleEndian.PutUint16(s.data[superOrderLeafOffset:], MaxLeafFanout)
	binary.LittleEndian.PutUint16(s.data[superOrderIntOffset:], MaxInternalFanout)
	s.SetRootPage(InvalidPageID)
	s.SetHeight(0)
	s.SetFreeHead(InvalidPageID)
	s.SetNextPID(1)
	s.SetKeysCount(0)
	s.SetNodesCount(0)
}

// Validate checks that the page was written by this format.
func (s SuperPage) Validate() error {
	if len(s.data) < PageSize {
		return ErrShortPage
	}
	if m := s.Magic(); m != SuperMagic {
		return fmt.Errorf("%w: bad magic %q", ErrCorruptSuperPage, m)
	}
	if v := s.Version(); v != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptSuperPage, v)
	}
	if ps := s.PageSize(); ps != PageSize {
		return fmt.Errorf("%w: page size %d, expected %d", ErrCorruptSuperPage, ps, PageSize)
	}
	if s.OrderLeaf() != MaxLeafFanout || s.OrderInternal() != MaxInternalFanout {
		return fmt.Errorf("%w: fan-out %d/%d, expected %d/%d", ErrCorruptSuperPage,
			s.OrderLeaf(), s.OrderInternal(), MaxLeafFanout, MaxInternalFanout)
	}
	if s.NextPID() == InvalidPageID {
		return fmt.Errorf("%w: next pid is zero", ErrCorruptSuperPage)
	}
	return nil
}

func (s SuperPage) Magic() string {
	return string(s.data[superMagicOffset : superMagicOffset+4])
}

func (s SuperPage) Version() uint32 {
	return binary.LittleEndian.Uint32(s.data[superVersionOffset:])
}

func (s SuperPage) PageSize() uint32 {
	return binary.LittleEndian.Uint32(s.data[superPageSizeOffset:])
}

func (s SuperPage) RootPage() PageID {
	return PageID(binary.LittleEndian.Uint64(s.data[superRootOffset:]))
}

func (s SuperPage) SetRootPage(pid PageID) {
	binary.LittleEndian.PutUint64(s.data[superRootOffset:], uint64(pid))
}

func (s SuperPage) Height() uint32 {
	return binary.LittleEndian.Uint32(s.data[superHeightOffset:])
}

func (s SuperPage) SetHeight(h uint32) {
	binary.LittleEndian.PutUint32(s.data[superHeightOffset:], h)
}

func (s SuperPage) OrderLeaf() uint16 {
	return binary.LittleEndian.Uint16(s.data[superOrderLeafOffset:])
}

func (s SuperPage) OrderInternal() uint16 {
	return binary.LittleEndian.Uint16(s.data[superOrderIntOffset:])
}

func (s SuperPage) FreeHead() PageID {
	return PageID(binary.LittleEndian.Uint64(s.data[superFreeHeadOffset:]))
}

func (s SuperPage) SetFreeHead(pid PageID) {
	binary.LittleEndian.PutUint64(s.data[superFreeHeadOffset:], uint64(pid))
}

// NextPID is the high-water mark: every PID below it exists in the file.
func (s SuperPage) NextPID() PageID {
	return PageID(binary.LittleEndian.Uint64(s.data[superNextPIDOffset:]))
}

func (s SuperPage) SetNextPID(pid PageID) {
	binary.LittleEndian.PutUint64(s.data[superNextPIDOffset:], uint64(pid))
}

func (s SuperPage) KeysCount() uint64 {
	return binary.LittleEndian.Uint64(s.data[superKeysOffset:])
}

func (s SuperPage) SetKeysCount(n uint64) {
	binary.LittleEndian.PutUint64(s.data[superKeysOffset:], n)
}

func (s SuperPage) NodesCount() uint64 {
	return binary.LittleEndian.Uint64(s.data[superNodesOffset:])
}

func (s SuperPage) SetNodesCount(n uint64) {
	binary.LittleEndian.PutUint64(s.data[superNodesOffset:], n)
}
