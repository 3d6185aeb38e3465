package pagemanager

import (
	"encoding/binary"
	"fmt"
)

// FreePage is the view over a page on the free list. It intentionally
// exposes nothing but the link to the next free page.
type FreePage struct {
	data []byte
}

// AsFree checks the kind tag and returns a free-page view.
func AsFree(page []byte) (FreePage, error) {
	if len(page) < PageSize {
		return FreePage{}, ErrShortPage
	}
	if k := KindOf(page); k != KindFree {
		return FreePage{}, fmt.Errorf("%w: expected free, got %s", ErrWrongPageKind, k)
	}
	return FreePage{data: page}, nil
}

// InitFree stamps page as free and links it to next. The rest of the page is
// left untouched.
func InitFree(page []byte, next PageID) FreePage {
	f := FreePage{data: page}
	f.data[kindOffset] = byte(KindFree)
	f.SetNextFree(next)
	return f
}

func (f FreePage) NextFree() PageID {
	return PageID(binary.LittleEndian.Uint64(f.data[nextFreeOffset:]))
}

func (f FreePage) SetNextFree(pid PageID) {
	binary.LittleEndian.PutUint64(f.data[nextFreeOffset:], uint64(pid))
}
