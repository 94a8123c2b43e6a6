// Package as implements the per-process address space: the description of
// text/data/heap/stack regions and their backing physical frames, and the
// user-memory copy primitives built on top of it.
//
// There is no copy-on-write, no shared file mapping, and no multi-level
// page table: each region is a flat array of physical frame addresses
// indexed by page number, matching this machine's simpler,
// non-demand-paging model.
package as

import (
	"sync"

	"github.com/steveny9911/os161/coremap"
	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/kassert"
	"github.com/steveny9911/os161/limits"
	"github.com/steveny9911/os161/ustr"
	"github.com/steveny9911/os161/util"
)

// RegionKind classifies a virtual address for the TLB fault handler and for
// the read-only code-page check the user-copy primitives must honor.
type RegionKind int

const (
	NoRegion RegionKind = iota
	CodeRegion
	DataRegion
	HeapRegion
	StackRegion
)

// Region is one code or data segment: its virtual base and the physical
// frames backing it, one entry per page.
type Region struct {
	Vaddr   int
	Frames  []int
	R, W, X bool
}

func (r *Region) pages() int { return len(r.Frames) }

// AddressSpace is the per-process description of user-visible virtual
// memory. The mutex protects the region and frame-array fields against
// concurrent fork/exec/fault/copy operations.
type AddressSpace struct {
	mu sync.Mutex

	cm    *coremap.Coremap
	owner int // process identity, used as the coremap heap-owner key

	Code Region
	Data Region

	HeapBase int
	HeapTop  int

	Stack []int // STACK_PAGES physical frame addresses

	ElfLoaded bool

	regionsDefined int
	stackPages     int
}

// Create allocates an empty address space descriptor; no frames yet
// (mirrors as_create).
func Create(cm *coremap.Coremap, owner int, cfg limits.Config) *AddressSpace {
	return &AddressSpace{cm: cm, owner: owner, stackPages: cfg.StackPages}
}

// DefineRegion records one segment: the first call becomes the code
// segment, the second the data segment; a third is rejected as unsupported.
func (a *AddressSpace) DefineRegion(vaddr, size int, r, w, x bool) errs.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()

	base := util.Rounddown(vaddr, limits.PageSize)
	end := util.Roundup(vaddr+size, limits.PageSize)
	npages := (end - base) / limits.PageSize

	switch a.regionsDefined {
	case 0:
		a.Code = Region{Vaddr: base, Frames: make([]int, npages), R: r, W: w, X: x}
	case 1:
		a.Data = Region{Vaddr: base, Frames: make([]int, npages), R: r, W: w, X: x}
	default:
		return errs.ENOSYS
	}
	a.regionsDefined++
	return 0
}

// PrepareLoad allocates and zeroes one physical frame per code and data
// page, places the heap immediately above the data segment, and allocates
// the fixed-size stack. Any allocation failure unwinds everything already
// allocated.
func (a *AddressSpace) PrepareLoad() errs.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()

	var allocated []int
	unwind := func() {
		for _, p := range allocated {
			a.cm.FreePages(p)
		}
		a.Code.Frames, a.Data.Frames, a.Stack = nil, nil, nil
	}
	allocRegion := func(r *Region) errs.Errno {
		for i := range r.Frames {
			p, err := a.cm.AllocPages(1)
			if err != 0 {
				unwind()
				return err
			}
			r.Frames[i] = p
			allocated = append(allocated, p)
		}
		return 0
	}

	if err := allocRegion(&a.Code); err != 0 {
		return err
	}
	if err := allocRegion(&a.Data); err != 0 {
		return err
	}

	a.HeapBase = a.Data.Vaddr + a.Data.pages()*limits.PageSize
	a.HeapTop = a.HeapBase

	a.Stack = make([]int, a.stackPages)
	for i := range a.Stack {
		p, err := a.cm.AllocPages(1)
		if err != 0 {
			unwind()
			return err
		}
		a.Stack[i] = p
		allocated = append(allocated, p)
	}
	return 0
}

// CompleteLoad marks the ELF as fully loaded; after this, code pages
// installed in the TLB are read-only.
func (a *AddressSpace) CompleteLoad() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ElfLoaded = true
}

// LoadPage copies data (at most one page) into the physical frame backing
// vaddr in the code or data region, for use by an elf.Loader double.
func (a *AddressSpace) LoadPage(vaddr int, data []byte) errs.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	paddr, _, ok := a.translateLocked(vaddr)
	if !ok {
		return errs.EFAULT
	}
	copy(a.cm.PageBytes(paddr), data)
	return 0
}

// DefineStack returns the fixed initial user stack pointer.
func (a *AddressSpace) DefineStack() (int, errs.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kassert.Assert(len(a.Stack) > 0, "as: DefineStack before PrepareLoad")
	return limits.USERSTACK, 0
}

// stackBase is the lowest stack virtual address for this address space.
func (a *AddressSpace) stackBase() int {
	return limits.USERSTACK - len(a.Stack)*limits.PageSize
}

// Copy creates a new address space, allocates fresh frames for every code,
// data, and stack page, and copies content page-by-page; the heap range is
// inherited and lazily-faulted heap pages present in the source are located
// via the coremap's vaddr hints and copied too, mirroring as_copy. On any
// allocation failure the new address space is destroyed and the failure
// propagated.
func (a *AddressSpace) Copy(newOwner int) (*AddressSpace, errs.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := &AddressSpace{
		cm:             a.cm,
		owner:          newOwner,
		regionsDefined: a.regionsDefined,
		stackPages:     len(a.Stack),
		HeapBase:       a.HeapBase,
		HeapTop:        a.HeapTop,
		ElfLoaded:      a.ElfLoaded,
	}
	n.Code = Region{Vaddr: a.Code.Vaddr, Frames: make([]int, 0, len(a.Code.Frames)), R: a.Code.R, W: a.Code.W, X: a.Code.X}
	n.Data = Region{Vaddr: a.Data.Vaddr, Frames: make([]int, 0, len(a.Data.Frames)), R: a.Data.R, W: a.Data.W, X: a.Data.X}
	n.Stack = make([]int, 0, len(a.Stack))

	copyRegion := func(dst *Region, src *Region) errs.Errno {
		for i := range src.Frames {
			p, err := a.cm.AllocPages(1)
			if err != 0 {
				n.destroyLocked()
				return err
			}
			copy(a.cm.PageBytes(p), a.cm.PageBytes(src.Frames[i]))
			dst.Frames = append(dst.Frames, p)
		}
		return 0
	}
	if err := copyRegion(&n.Code, &a.Code); err != 0 {
		return nil, err
	}
	if err := copyRegion(&n.Data, &a.Data); err != 0 {
		return nil, err
	}
	for _, src := range a.Stack {
		p, err := a.cm.AllocPages(1)
		if err != 0 {
			n.destroyLocked()
			return nil, err
		}
		copy(a.cm.PageBytes(p), a.cm.PageBytes(src))
		n.Stack = append(n.Stack, p)
	}

	// Copy any heap pages the source has already lazily faulted in.
	for va := a.HeapBase; va < a.HeapTop; va += limits.PageSize {
		if src, ok := a.cm.FindHeapPage(a.owner, va); ok {
			p, err := a.cm.AllocPages(1)
			if err != 0 {
				n.destroyLocked()
				return nil, err
			}
			copy(a.cm.PageBytes(p), a.cm.PageBytes(src))
			a.cm.SetHeapOwner(p, n.owner, va)
		}
	}

	return n, 0
}

// Destroy releases every frame referenced by the code, data, and stack
// arrays, plus any lazily-faulted heap frames owned by this address space,
// mirroring as_destroy.
func (a *AddressSpace) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyLocked()
}

func (a *AddressSpace) destroyLocked() {
	for _, p := range a.Code.Frames {
		a.cm.FreePages(p)
	}
	for _, p := range a.Data.Frames {
		a.cm.FreePages(p)
	}
	for _, p := range a.Stack {
		a.cm.FreePages(p)
	}
	a.cm.FreeHeapRange(a.owner, a.HeapBase, a.HeapTop)
	a.Code.Frames, a.Data.Frames, a.Stack = nil, nil, nil
}

// Sbrk moves the heap break by delta bytes and returns its previous value;
// it only moves HeapTop. Pages are not allocated here; they are
// materialized lazily on first fault by Resolve/the TLB handler.
func (a *AddressSpace) Sbrk(delta int) (int, errs.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if delta%limits.PageSize != 0 {
		return 0, errs.EINVAL
	}
	prev := a.HeapTop
	if delta == 0 {
		return prev, 0
	}
	if delta < 0 {
		if prev+delta < a.HeapBase {
			return 0, errs.EINVAL
		}
		a.HeapTop += delta
		return prev, 0
	}
	if prev+delta >= a.stackBase() {
		return 0, errs.ENOMEM
	}
	a.HeapTop += delta
	return prev, 0
}

// Resolve classifies vaddr into code/data/heap/stack and returns the
// physical frame backing it, allocating and recording a fresh heap frame on
// first touch. write reports whether the access
// intends to modify the page; a write to a fully-loaded code page fails
// with EFAULT, mirroring the TLB handler's READONLY rejection for the
// user-copy primitives that go through here directly instead of through a
// hardware TLB entry.
func (a *AddressSpace) Resolve(vaddr int, write bool) (int, RegionKind, errs.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolveLocked(vaddr, write)
}

func (a *AddressSpace) resolveLocked(vaddr int, write bool) (int, RegionKind, errs.Errno) {
	page := util.Rounddown(vaddr, limits.PageSize)

	if within(page, a.Code.Vaddr, a.Code.pages()) {
		if write && a.ElfLoaded {
			return 0, CodeRegion, errs.EFAULT
		}
		idx := (page - a.Code.Vaddr) / limits.PageSize
		return a.Code.Frames[idx], CodeRegion, 0
	}
	if within(page, a.Data.Vaddr, a.Data.pages()) {
		idx := (page - a.Data.Vaddr) / limits.PageSize
		return a.Data.Frames[idx], DataRegion, 0
	}
	if page >= a.HeapBase && page < a.HeapTop {
		if p, ok := a.cm.FindHeapPage(a.owner, page); ok {
			return p, HeapRegion, 0
		}
		p, err := a.cm.AllocPages(1)
		if err != 0 {
			return 0, HeapRegion, err
		}
		a.cm.SetHeapOwner(p, a.owner, page)
		return p, HeapRegion, 0
	}
	if within(page, a.stackBase(), len(a.Stack)) {
		idx := (page - a.stackBase()) / limits.PageSize
		return a.Stack[idx], StackRegion, 0
	}
	return 0, NoRegion, errs.EFAULT
}

func (a *AddressSpace) translateLocked(vaddr int) (int, RegionKind, bool) {
	p, kind, err := a.resolveLocked(vaddr, false)
	return p, kind, err == 0
}

func within(page, base, pages int) bool {
	return pages > 0 && page >= base && page < base+pages*limits.PageSize
}

// CopyOut copies src into user memory starting at uva (a kernel-to-user
// copy, as in read() filling a user buffer). It may span several pages.
func (a *AddressSpace) CopyOut(src []byte, uva int) errs.Errno {
	for len(src) > 0 {
		paddr, _, err := a.Resolve(uva, true)
		if err != 0 {
			return err
		}
		off := uva - util.Rounddown(uva, limits.PageSize)
		page := a.cm.PageBytes(util.Rounddown(paddr, limits.PageSize))
		n := copy(page[off:], src)
		src = src[n:]
		uva += n
	}
	return 0
}

// CopyIn copies len(dst) bytes from user memory at uva into dst (a
// user-to-kernel copy, as in write() reading a user buffer).
func (a *AddressSpace) CopyIn(dst []byte, uva int) errs.Errno {
	for len(dst) > 0 {
		paddr, _, err := a.Resolve(uva, false)
		if err != 0 {
			return err
		}
		off := uva - util.Rounddown(uva, limits.PageSize)
		page := a.cm.PageBytes(util.Rounddown(paddr, limits.PageSize))
		n := copy(dst, page[off:])
		dst = dst[n:]
		uva += n
	}
	return 0
}

// CopyInString copies a NUL-terminated string from user space, up to lenmax
// bytes, failing with ENAMETOOLONG if no terminator is found in time. It
// reads in chunks of at most 64 bytes that never cross a page boundary
// (rather than lenmax at once) so a short string backed by a small user
// buffer never drives a fault past its real end, and hands each chunk to
// ustr.MkUstrBounded to do the actual NUL scan.
func (a *AddressSpace) CopyInString(uva, lenmax int) (ustr.Ustr, errs.Errno) {
	if lenmax < 0 {
		return nil, errs.EINVAL
	}
	s := ustr.MkUstr()
	buf := make([]byte, 64)
	for len(s) < lenmax {
		n := len(buf)
		if rem := lenmax - len(s); rem < n {
			n = rem
		}
		if toPage := limits.PageSize - (uva - util.Rounddown(uva, limits.PageSize)); toPage < n {
			n = toPage
		}
		if err := a.CopyIn(buf[:n], uva); err != 0 {
			return nil, err
		}
		if got, err := ustr.MkUstrBounded(buf[:n], n); err == 0 {
			return append(s, got...), 0
		}
		s = append(s, buf[:n]...)
		uva += n
	}
	return nil, errs.ENAMETOOLONG
}

// ReadN reads an n-byte (<=8) little-endian value from user address va.
func (a *AddressSpace) ReadN(va, n int) (int, errs.Errno) {
	kassert.Assert(n <= 8, "as: ReadN n too large")
	buf := make([]byte, n)
	if err := a.CopyIn(buf, va); err != 0 {
		return 0, err
	}
	return util.Readn(buf, n, 0), 0
}

// WriteN writes the low n bytes of val to user address va.
func (a *AddressSpace) WriteN(va, n, val int) errs.Errno {
	kassert.Assert(n <= 8, "as: WriteN n too large")
	buf := make([]byte, n)
	util.Writen(buf, n, 0, val)
	return a.CopyOut(buf, va)
}
