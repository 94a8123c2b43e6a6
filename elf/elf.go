// Package elf declares the ELF loader as an external collaborator: the
// kernel core consumes a loader, it does not parse ELF itself. Loader loads
// a program's code and data segments into an already-prepared address space
// and reports the entry point; Minimal is a tiny double for tests that
// defines a one-page code segment containing no real instructions, enough
// to drive execv's bookkeeping.
package elf

import "github.com/steveny9911/os161/errs"

// Region describes one loadable segment discovered in the ELF file.
type Region struct {
	Vaddr      int
	Size       int
	Readable   bool
	Writable   bool
	Executable bool
}

// AddressSpace is the subset of as.AddressSpace the loader needs, kept as an
// interface here so this package does not import as (as imports nothing of
// elf's; the kernel package wires the two together).
type AddressSpace interface {
	DefineRegion(vaddr, size int, r, w, x bool) errs.Errno
	PrepareLoad() errs.Errno
	CompleteLoad()
	LoadPage(vaddr int, data []byte) errs.Errno
}

// Loader loads an executable's segments into an address space.
type Loader interface {
	Load(path string, as AddressSpace) (entry int, err errs.Errno)
}

// Minimal is a Loader double: it defines a single code page (occupying
// vaddr 0x400000) and a single data page immediately above it, and loads no
// actual bytes, matching what execv's tests need to exercise stack setup and
// address-space replacement without a real ELF file.
type Minimal struct {
	CodeBase int
	DataBase int
	Entry    int
}

// NewMinimal returns a Minimal loader with a conventional MIPS-like layout.
func NewMinimal() *Minimal {
	return &Minimal{CodeBase: 0x00400000, DataBase: 0x00401000, Entry: 0x00400000}
}

// Load implements Loader.
func (m *Minimal) Load(path string, as AddressSpace) (int, errs.Errno) {
	_ = path
	if err := as.DefineRegion(m.CodeBase, 4096, true, false, true); err != 0 {
		return 0, err
	}
	if err := as.DefineRegion(m.DataBase, 4096, true, true, false); err != 0 {
		return 0, err
	}
	if err := as.PrepareLoad(); err != 0 {
		return 0, err
	}
	as.CompleteLoad()
	return m.Entry, 0
}
