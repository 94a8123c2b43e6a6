// Package tlb implements the software side of TLB refill: translating a
// fault address through the current address space and writing the result
// into a (possibly random-replacement) hardware TLB.
//
// Reading and writing the hardware TLB registers is an external
// collaborator's job; Hardware is that collaborator's interface. There is
// no copy-on-write and no demand paging: a miss either resolves to a frame
// the address space already owns, lazily materializes a heap page, or is a
// genuine fault.
package tlb

import (
	"github.com/steveny9911/os161/as"
	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/limits"
	"github.com/steveny9911/os161/util"
)

// FaultKind is the reason the hardware trapped into the refill handler.
type FaultKind int

const (
	// FaultRead is a TLB miss on a load.
	FaultRead FaultKind = iota
	// FaultWrite is a TLB miss on a store.
	FaultWrite
	// FaultReadOnly is a store into a page the hardware already has mapped
	// read-only; this is always rejected, never refilled.
	FaultReadOnly
)

// Entry is one hardware TLB slot.
type Entry struct {
	Valid bool
	Vaddr int
	Paddr int
	Dirty bool // clear means read-only
}

// Hardware is the external TLB register file. Read and Write mirror the
// MIPS-style tlbp/tlbwi/tlbwr instructions; entries beyond a real machine's
// count are addressable here only because this model keeps the whole array
// in Go memory rather than in hardware registers.
type Hardware interface {
	NumEntries() int
	Read(i int) Entry
	Write(i int, e Entry)
	// Random returns an implementation-chosen victim index when every entry
	// is valid, mirroring tlb_random's pseudo-random replacement.
	Random() int
}

// Soft is a Hardware double: a fixed-size array with round-robin victim
// selection (see Random), enough to drive the refill algorithm
// under test without real MIPS coprocessor-0 registers.
type Soft struct {
	entries []Entry
	next    int
}

// NewSoft creates a Soft TLB with n entries, all initially invalid.
func NewSoft(n int) *Soft {
	return &Soft{entries: make([]Entry, n)}
}

func (s *Soft) NumEntries() int { return len(s.entries) }
func (s *Soft) Read(i int) Entry { return s.entries[i] }
func (s *Soft) Write(i int, e Entry) { s.entries[i] = e }

// Random advances a simple round-robin counter; real hardware's tlb_random
// is unpredictable, but any replacement policy is correct as long as it
// picks some valid, in-range index, which is all the refill algorithm
// depends on.
func (s *Soft) Random() int {
	i := s.next
	s.next = (s.next + 1) % len(s.entries)
	return i
}

// Activate invalidates every hardware entry, as as_activate does on every
// context switch so a new address space never observes a stale mapping.
// There is no ASID optimisation.
func Activate(hw Hardware) {
	for i := 0; i < hw.NumEntries(); i++ {
		hw.Write(i, Entry{})
	}
}

// Refill resolves a TLB miss: it page-aligns faultAddr, immediately rejects
// a FaultReadOnly trap, looks up the physical frame through the current
// address space, and installs the mapping in the first invalid hardware
// entry (or a victim chosen by Random if the TLB is full). A fault against
// a fully-loaded code page is installed read-only; every other page is
// installed read-write.
func Refill(hw Hardware, space *as.AddressSpace, faultAddr int, kind FaultKind) errs.Errno {
	if kind == FaultReadOnly {
		return errs.EFAULT
	}

	page := util.Rounddown(faultAddr, limits.PageSize)
	write := kind == FaultWrite
	paddr, region, err := space.Resolve(page, write)
	if err != 0 {
		return err
	}

	dirty := true
	if region == as.CodeRegion && space.ElfLoaded {
		dirty = false
	}

	slot := -1
	for i := 0; i < hw.NumEntries(); i++ {
		if !hw.Read(i).Valid {
			slot = i
			break
		}
	}
	if slot == -1 {
		slot = hw.Random()
	}
	hw.Write(slot, Entry{Valid: true, Vaddr: page, Paddr: paddr, Dirty: dirty})
	return 0
}
