package btree

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	pagemanager "github.com/sushant-115/gojokv/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// Stats is a snapshot of the super page plus a few derived figures.
type Stats struct {
	Path          string
	Magic         string
	Version       uint32
	PageSize      uint32
	RootPage      pagemanager.PageID
	Height        uint32
	OrderLeaf     uint16
	OrderInternal uint16
	MinLeaf       int
	MinInternal   int
	Keys          uint64
	Nodes         uint64
	TotalPages    uint64 // next PID, including the super page
	FileSize      int64
	FreeHead      pagemanager.PageID
	FreePages     uint64
	FillFactor    float64 // record bytes over node bytes, 0..1
}

// Stats reads the current counters. A damaged free list is logged and
// reported as zero free pages.
func (bt *BTree) Stats() Stats {
	if bt.closed {
		return Stats{Path: bt.arena.Path()}
	}
	sp := bt.super()
	st := Stats{
		Path:          bt.arena.Path(),
		Magic:         sp.Magic(),
		Version:       sp.Version(),
		PageSize:      sp.PageSize(),
		RootPage:      sp.RootPage(),
		Height:        sp.Height(),
		OrderLeaf:     sp.OrderLeaf(),
		OrderInternal: sp.OrderInternal(),
		MinLeaf:       pagemanager.MinLeafFanout,
		MinInternal:   pagemanager.MinInternalFanout,
		Keys:          sp.KeysCount(),
		Nodes:         sp.NodesCount(),
		TotalPages:    sp.NextPID().GetID(),
		FileSize:      bt.arena.Size(),
		FreeHead:      sp.FreeHead(),
	}
	if st.Nodes > 0 {
		st.FillFactor = float64(st.Keys*pagemanager.LeafRecordSize) / float64(st.Nodes*pagemanager.PageSize)
	}

	free, err := bt.pm.FreeCount()
	if err != nil {
		bt.logger.Warn("Failed to walk free list", zap.Error(err))
	} else {
		st.FreePages = free
	}
	return st
}

// String renders the statistics block printed by the STATS command.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, "--- B+ Tree Statistics ---")
	fmt.Fprintf(&b, "File: %s\n", s.Path)
	fmt.Fprintf(&b, "Magic/Version: %s / %d\n", s.Magic, s.Version)
	fmt.Fprintf(&b, "Page Size: %d bytes\n", s.PageSize)
	fmt.Fprintf(&b, "Root Page ID: %d\n", s.RootPage)
	fmt.Fprintf(&b, "Height: %d\n", s.Height)
	fmt.Fprintf(&b, "Max Leaf Records (M_leaf): %d (Min: %d)\n", s.OrderLeaf, s.MinLeaf)
	fmt.Fprintf(&b, "Max Internal Keys (M_int): %d (Min: %d)\n", s.OrderInternal, s.MinInternal)
	fmt.Fprintf(&b, "Total Keys: %d\n", s.Keys)
	fmt.Fprintf(&b, "Total Nodes (used pages): %d\n", s.Nodes)
	fmt.Fprintf(&b, "Total Pages (file size): %d\n", s.TotalPages)
	// Whole mebibytes first so the line parses like the counters above.
	fmt.Fprintf(&b, "File Size: %d MB (%s)\n", s.TotalPages*uint64(s.PageSize)/(1<<20), humanize.IBytes(uint64(s.FileSize)))
	fmt.Fprintf(&b, "Free List Head: %d\n", s.FreeHead)
	fmt.Fprintf(&b, "Free Pages: %d (%s)\n", s.FreePages, humanize.IBytes(s.FreePages*uint64(s.PageSize)))
	if s.Nodes > 0 {
		fmt.Fprintf(&b, "Overall Fill Factor (Data/Total): %.2f%%\n", s.FillFactor*100)
	}
	return b.String()
}
