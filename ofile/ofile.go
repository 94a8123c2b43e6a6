// Package ofile implements the open-file object: the kernel-wide record of
// one open()'d file, shared by every file descriptor (in any process) that
// dup2 or fork caused to alias it.
//
// The lifecycle follows the classic openfile_open/openfile_incref/
// openfile_decref contract: created with one reference by open, shared by
// dup2 and fork, and destroyed exactly when the last reference is dropped,
// which also closes the underlying node.
package ofile

import (
	"sync"

	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/kassert"
	"github.com/steveny9911/os161/node"
)

// OpenFile is one open file: a node, the access mode it was opened with, a
// shared seek offset, and a reference count. The offset mutex and the
// refcount mutex are distinct locks: advancing the offset during a read or
// write never needs to block a concurrent dup2/close adjusting the
// refcount, and vice versa.
type OpenFile struct {
	node   node.Node
	access node.AccessMode
	append bool

	offMu sync.Mutex
	off   int64

	refMu sync.Mutex
	ref   int
}

// Open opens path through fs with the given flags and mode, and returns a
// freshly refcounted OpenFile (refcount 1). On any failure after the vnode
// is obtained, the vnode is closed before the error is returned, mirroring
// openfile_open's cleanup-on-failure path.
func Open(fs node.FS, path string, flags, mode int) (*OpenFile, errs.Errno) {
	if !node.ValidFlags(flags) {
		return nil, errs.EINVAL
	}
	n, err := fs.Open(path, flags, mode)
	if err != 0 {
		return nil, err
	}
	of := &OpenFile{
		node:   n,
		access: node.AccessModeOf(flags),
		append: flags&node.OAppend != 0,
		ref:    1,
	}
	return of, 0
}

// IncRef adds one reference, taken whenever a second file descriptor (via
// dup2 or fork) begins aliasing this open file.
func (of *OpenFile) IncRef() {
	of.refMu.Lock()
	defer of.refMu.Unlock()
	kassert.Assert(of.ref > 0, "ofile: IncRef on a destroyed OpenFile")
	of.ref++
}

// DecRef drops one reference and, if it was the last one, closes the
// underlying node.
func (of *OpenFile) DecRef() errs.Errno {
	of.refMu.Lock()
	defer of.refMu.Unlock()
	kassert.Assert(of.ref > 0, "ofile: DecRef on an already-destroyed OpenFile")
	of.ref--
	if of.ref == 0 {
		return of.node.Close()
	}
	return 0
}

// RefCount reports the current reference count, for tests.
func (of *OpenFile) RefCount() int {
	of.refMu.Lock()
	defer of.refMu.Unlock()
	return of.ref
}

// Access reports the mode this file was opened with, used by read/write to
// reject accesses the open() call itself didn't permit.
func (of *OpenFile) Access() node.AccessMode {
	return of.access
}

// Read reads into buf starting at the shared offset and advances it by the
// number of bytes actually read.
func (of *OpenFile) Read(buf []byte) (int, errs.Errno) {
	if of.access == node.WriteOnly {
		return 0, errs.EBADF
	}
	of.offMu.Lock()
	defer of.offMu.Unlock()
	n, err := of.node.Read(buf, of.off)
	if err != 0 {
		return 0, err
	}
	of.off += int64(n)
	return n, 0
}

// Write writes buf at the shared offset (or at end-of-file when the file
// was opened O_APPEND) and advances the offset by the number of bytes
// actually written.
func (of *OpenFile) Write(buf []byte) (int, errs.Errno) {
	if of.access == node.ReadOnly {
		return 0, errs.EBADF
	}
	of.offMu.Lock()
	defer of.offMu.Unlock()
	off := of.off
	if of.append {
		st, err := of.node.Stat()
		if err != 0 {
			return 0, err
		}
		off = st.Size
	}
	n, err := of.node.Write(buf, off)
	if err != 0 {
		return 0, err
	}
	of.off = off + int64(n)
	return n, 0
}

// Seek whence values, matching lseek(2).
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Seek repositions the shared offset and returns its new value. A
// resulting negative offset is rejected with EINVAL.
func (of *OpenFile) Seek(offset int64, whence int) (int64, errs.Errno) {
	of.offMu.Lock()
	defer of.offMu.Unlock()

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = of.off
	case SeekEnd:
		st, err := of.node.Stat()
		if err != 0 {
			return 0, err
		}
		base = st.Size
	default:
		return 0, errs.EINVAL
	}

	newOff := base + offset
	if newOff < 0 {
		return 0, errs.EINVAL
	}
	of.off = newOff
	return newOff, 0
}
