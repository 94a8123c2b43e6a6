// Package coremap implements the kernel's page-frame allocator: the map from
// physical page frames to their ownership state. It owns every post-boot
// physical frame and hands out contiguous runs to the address-space and
// TLB-fault code.
//
// There is no swapping and no copy-on-write, so frames need no reference
// counts: a frame is FREE, FIXED, or allocated (DIRTY), nothing else.
//
// Physical memory itself is modeled as a flat byte arena addressed by page
// index, rather than as unsafe pointers into real RAM: this core runs as an
// ordinary Go program, so frame content is a slice of that arena, and a
// physical address is simply pageIndex * PageSize.
package coremap

import (
	"sync"

	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/kassert"
	"github.com/steveny9911/os161/limits"
)

// State is a coremap frame's allocation state.
type State int

const (
	// Free frames are available to alloc_pages.
	Free State = iota
	// Fixed frames hold the coremap's own storage and never change state.
	Fixed
	// Dirty frames are allocated, either to a kernel caller or to an
	// address space.
	Dirty
	// Clean is reserved for future swap-out support; nothing in this core
	// produces it.
	Clean
)

// Frame is one physical page's coremap entry.
type Frame struct {
	State State
	// Paddr is this frame's physical address; redundant with its index,
	// retained for clarity.
	Paddr int
	// RunLength is valid only on the head frame of an allocation: the
	// number of contiguous frames in that run.
	RunLength int
	// Owner and VaddrHint identify, for heap frames, the address space
	// that lazily faulted this page in and the virtual address it backs,
	// so a free-frame lookup can find it without a per-process page table.
	// Owner is 0 for frames not backing a lazily-faulted heap page.
	Owner     int
	VaddrHint int
	hasHint   bool
}

// Coremap is the kernel-wide page-frame allocator. One lock protects the
// whole table; the critical section is the O(n) allocation scan, bounded
// and short, and nothing blocking may be done while holding it.
type Coremap struct {
	mu     sync.Mutex
	frames []Frame
	ram    []byte
}

// New creates a coremap over npages physical frames, with the first
// fixedPages marked FIXED (the coremap's own storage) and the rest FREE,
// mirroring vm_bootstrap's firstaddr/freeaddr/lastaddr carve.
func New(npages, fixedPages int) *Coremap {
	kassert.Assert(npages > 0, "coremap: npages must be positive")
	kassert.Assert(fixedPages >= 0 && fixedPages <= npages, "coremap: bad fixedPages")
	c := &Coremap{
		frames: make([]Frame, npages),
		ram:    make([]byte, npages*limits.PageSize),
	}
	for i := range c.frames {
		c.frames[i].Paddr = i * limits.PageSize
		if i < fixedPages {
			c.frames[i].State = Fixed
		} else {
			c.frames[i].State = Free
		}
	}
	return c
}

// NPages returns the total number of frames managed by c.
func (c *Coremap) NPages() int {
	return len(c.frames)
}

// FreeCount returns the number of FREE frames, used by tests checking
// invariant E6 (exec frees the old address space's frames).
func (c *Coremap) FreeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.State == Free {
			n++
		}
	}
	return n
}

func (c *Coremap) idx(paddr int) int {
	return paddr / limits.PageSize
}

// AllocPages scans from index 0 for the first run of n consecutive FREE
// frames (first-fit; ties go to the lowest index), marks them DIRTY, and
// returns the physical address of the head frame. It fails with ENOMEM if no
// sufficiently long run exists.
func (c *Coremap) AllocPages(n int) (int, errs.Errno) {
	kassert.Assert(n > 0, "coremap: AllocPages n must be positive")
	c.mu.Lock()
	defer c.mu.Unlock()

	run := 0
	start := -1
	for i := 0; i < len(c.frames); i++ {
		if c.frames[i].State == Free {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				for j := start; j < start+n; j++ {
					c.frames[j].State = Dirty
					c.frames[j].RunLength = 0
					c.frames[j].Owner = 0
					c.frames[j].hasHint = false
				}
				c.frames[start].RunLength = n
				clear(c.ram[c.frames[start].Paddr : c.frames[start].Paddr+n*limits.PageSize])
				return c.frames[start].Paddr, 0
			}
			continue
		}
		run = 0
		start = -1
	}
	return 0, errs.ENOMEM
}

// FreePages locates the allocation headed at paddr, reads its run length,
// and marks that many consecutive frames FREE. Freeing a non-head frame or
// double-freeing is a programming error and panics in debug builds.
func (c *Coremap) FreePages(paddr int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.idx(paddr)
	kassert.Assertf(i >= 0 && i < len(c.frames), "coremap: FreePages bad paddr %#x", paddr)
	f := &c.frames[i]
	kassert.Assertf(f.State == Dirty, "coremap: double free or free of non-dirty frame at %#x", paddr)
	kassert.Assertf(f.RunLength > 0, "coremap: FreePages on non-head frame at %#x", paddr)
	n := f.RunLength
	for j := i; j < i+n; j++ {
		c.frames[j] = Frame{State: Free, Paddr: c.frames[j].Paddr}
	}
}

// PageBytes returns the byte slice backing the page at paddr, for zeroing or
// copying page content (used by as.AddressSpace for fork/exec copies).
func (c *Coremap) PageBytes(paddr int) []byte {
	i := c.idx(paddr)
	kassert.Assertf(i >= 0 && i < len(c.frames), "coremap: PageBytes bad paddr %#x", paddr)
	return c.ram[paddr : paddr+limits.PageSize]
}

// SetHeapOwner records that the single-page allocation at paddr backs vaddr
// in the address space identified by owner, so as.Destroy can later free it
// without a per-process page table.
func (c *Coremap) SetHeapOwner(paddr, owner, vaddr int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &c.frames[c.idx(paddr)]
	f.Owner = owner
	f.VaddrHint = vaddr
	f.hasHint = true
}

// FindHeapPage returns the physical address of the frame already backing
// vaddr for owner, if one was faulted in previously: a heap fault searches
// the coremap for a vaddr hint matching the fault page before allocating a
// fresh frame.
func (c *Coremap) FindHeapPage(owner, vaddr int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.frames {
		f := &c.frames[i]
		if f.State == Dirty && f.hasHint && f.Owner == owner && f.VaddrHint == vaddr {
			return f.Paddr, true
		}
	}
	return 0, false
}

// FreeHeapRange frees every frame owned by owner whose recorded vaddr hint
// falls in [lo, hi), used by as.Destroy to reclaim lazily-faulted heap pages.
func (c *Coremap) FreeHeapRange(owner, lo, hi int) {
	c.mu.Lock()
	var toFree []int
	for i := range c.frames {
		f := &c.frames[i]
		if f.State == Dirty && f.hasHint && f.Owner == owner && f.VaddrHint >= lo && f.VaddrHint < hi {
			toFree = append(toFree, f.Paddr)
		}
	}
	c.mu.Unlock()
	for _, p := range toFree {
		c.FreePages(p)
	}
}
