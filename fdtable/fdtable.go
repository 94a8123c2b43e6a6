// Package fdtable implements the per-process file descriptor table: a
// fixed-size array mapping small integers to shared ofile.OpenFile objects.
//
// A get() of an out-of-range descriptor and a get() of an empty slot both
// report EBADF; the table never distinguishes the two.
package fdtable

import (
	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/ofile"
)

// FileTable is a fixed-capacity array of open file descriptors.
type FileTable struct {
	files []*ofile.OpenFile
}

// New returns an empty table with the given capacity (OPEN_MAX by default,
// injectable for small-scale tests).
func New(capacity int) *FileTable {
	return &FileTable{files: make([]*ofile.OpenFile, capacity)}
}

// Add installs of in the first empty slot and returns its index, or fails
// with EMFILE if the table is full.
func (ft *FileTable) Add(of *ofile.OpenFile) (int, errs.Errno) {
	for i, f := range ft.files {
		if f == nil {
			ft.files[i] = of
			return i, 0
		}
	}
	return 0, errs.EMFILE
}

// Get returns the open file at fd, or EBADF if fd is out of range or the
// slot is empty.
func (ft *FileTable) Get(fd int) (*ofile.OpenFile, errs.Errno) {
	if fd < 0 || fd >= len(ft.files) || ft.files[fd] == nil {
		return nil, errs.EBADF
	}
	return ft.files[fd], 0
}

// Remove clears fd's slot without dropping a reference; the caller is
// responsible for calling OpenFile.DecRef.
func (ft *FileTable) Remove(fd int) errs.Errno {
	if fd < 0 || fd >= len(ft.files) {
		return errs.EBADF
	}
	ft.files[fd] = nil
	return 0
}

// Set installs of at the exact index fd, overwriting any existing entry
// without taking or releasing a reference itself; used by dup2, whose
// caller handles the incref/decref bookkeeping.
func (ft *FileTable) Set(fd int, of *ofile.OpenFile) errs.Errno {
	if fd < 0 || fd >= len(ft.files) {
		return errs.EBADF
	}
	ft.files[fd] = of
	return 0
}

// Capacity returns OPEN_MAX for this table.
func (ft *FileTable) Capacity() int {
	return len(ft.files)
}

// Copy allocates a new table of the same capacity, copies every non-empty
// entry, and increments the refcount on each shared open file; used by fork.
func (ft *FileTable) Copy() *FileTable {
	n := New(len(ft.files))
	for i, f := range ft.files {
		if f != nil {
			f.IncRef()
			n.files[i] = f
		}
	}
	return n
}

// CloseAll clears every slot and decrefs each file it held, used when a
// process exits so its descriptors stop counting toward their open files'
// refcounts.
func (ft *FileTable) CloseAll() {
	for i, f := range ft.files {
		if f != nil {
			ft.files[i] = nil
			f.DecRef()
		}
	}
}
