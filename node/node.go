// Package node declares the boundary between the process/VM/syscall core and
// the underlying block/console file system: the file system is an external
// collaborator, reached through a node abstraction with read/write/stat
// operations and a path-lookup/open/close interface; this package is that
// interface only. A full implementation is out of scope here. The sibling
// package node/memfs provides a minimal in-memory double used by this
// module's own tests.
package node

import "github.com/steveny9911/os161/errs"

// AccessMode is the read/write mode an OpenFile was opened with.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	WriteOnly
	ReadWrite
)

// Stat carries the subset of file metadata the core needs: lseek's SEEK_END
// reads Size from it.
type Stat struct {
	Size int64
}

// Node is a single open reference to a file-system object: a regular file,
// device, or directory.
type Node interface {
	Read(buf []byte, offset int64) (int, errs.Errno)
	Write(buf []byte, offset int64) (int, errs.Errno)
	Stat() (Stat, errs.Errno)
	Close() errs.Errno
}

// FS is the path-lookup/open/chdir/getcwd surface sys_open, sys_chdir, and
// sys___getcwd delegate to.
type FS interface {
	Open(path string, flags int, mode int) (Node, errs.Errno)
	Chdir(path string) errs.Errno
	Getcwd() (string, errs.Errno)
}

// Open flag bits: the POSIX-ish subset sys_open accepts,
// O_RDONLY|O_WRONLY|O_RDWR|O_CREAT|O_EXCL|O_TRUNC|O_APPEND.
const (
	ORdonly  = 0x0
	OWronly  = 0x1
	ORdwr    = 0x2
	OAccmode = 0x3

	OCreat  = 0x040
	OExcl   = 0x080
	OTrunc  = 0x200
	OAppend = 0x400
)

// ValidFlags reports whether flags contains only recognized bits.
func ValidFlags(flags int) bool {
	const known = OAccmode | OCreat | OExcl | OTrunc | OAppend
	return flags&^known == 0
}

// AccessModeOf derives the access mode from open flags.
func AccessModeOf(flags int) AccessMode {
	switch flags & OAccmode {
	case OWronly:
		return WriteOnly
	case ORdwr:
		return ReadWrite
	default:
		return ReadOnly
	}
}
