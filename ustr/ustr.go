// Package ustr provides a small, allocation-light string type for kernel
// path and argument strings. Kernel-side copies of user-supplied paths must
// respect PATH_MAX, so MkUstrBounded reports ENAMETOOLONG instead of
// silently truncating.
package ustr

import "github.com/steveny9911/os161/errs"

// Ustr is an immutable path or argument string used by the kernel.
type Ustr []byte

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr { return Ustr{} }

// MkUstrBounded scans buf (at most max bytes of it) for a NUL terminator and
// returns everything before it; it fails with ENAMETOOLONG if none occurs
// within the bound. This is the one primitive as.CopyInString needs; path
// joining and comparison happen below the node.FS boundary, not here.
func MkUstrBounded(buf []byte, max int) (Ustr, errs.Errno) {
	lim := len(buf)
	if lim > max {
		lim = max
	}
	for i := 0; i < lim; i++ {
		if buf[i] == 0 {
			return Ustr(buf[:i]), 0
		}
	}
	return nil, errs.ENAMETOOLONG
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}
