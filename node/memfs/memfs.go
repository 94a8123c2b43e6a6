// Package memfs is an in-memory node.FS double used by this repository's own
// tests to exercise the syscall layer end to end without a real disk. It is
// not part of the kernel core; the file system is an external collaborator.
// Open handles hold a reference to a shared, named backing object, but the
// namespace is a flat directory of named byte buffers; a real directory
// tree is out of scope here.
package memfs

import (
	"strings"
	"sync"

	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/node"
)

type file struct {
	mu   sync.Mutex
	data []byte
}

// FS is a flat, in-memory file system keyed by path.
type FS struct {
	mu    sync.Mutex
	files map[string]*file
	cwd   string
}

// New returns an empty file system rooted at "/".
func New() *FS {
	return &FS{files: make(map[string]*file), cwd: "/"}
}

// Open implements node.FS.
func (fs *FS) Open(path string, flags int, mode int) (node.Node, errs.Errno) {
	_ = mode
	full := fs.resolve(path)

	fs.mu.Lock()
	f, ok := fs.files[full]
	if !ok {
		if flags&node.OCreat == 0 {
			fs.mu.Unlock()
			return nil, errs.ENOENT
		}
		f = &file{}
		fs.files[full] = f
	} else if flags&node.OTrunc != 0 {
		f.data = nil
	}
	fs.mu.Unlock()

	return &handle{f: f, mode: node.AccessModeOf(flags), appendMode: flags&node.OAppend != 0}, 0
}

// Chdir implements node.FS.
func (fs *FS) Chdir(path string) errs.Errno {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.cwd = fs.resolveLocked(path)
	return 0
}

// Getcwd implements node.FS.
func (fs *FS) Getcwd() (string, errs.Errno) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.cwd, 0
}

func (fs *FS) resolve(path string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.resolveLocked(path)
}

func (fs *FS) resolveLocked(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	if fs.cwd == "/" {
		return "/" + path
	}
	return fs.cwd + "/" + path
}

// handle is a single open reference to a file, implementing node.Node.
// Reads and writes are protected by the backing file's mutex; the offset
// itself is owned by ofile.OpenFile, not here.
type handle struct {
	f          *file
	mode       node.AccessMode
	appendMode bool
}

func (h *handle) Read(buf []byte, offset int64) (int, errs.Errno) {
	if h.mode == node.WriteOnly {
		return 0, errs.EBADF
	}
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if offset >= int64(len(h.f.data)) {
		return 0, 0
	}
	n := copy(buf, h.f.data[offset:])
	return n, 0
}

func (h *handle) Write(buf []byte, offset int64) (int, errs.Errno) {
	if h.mode == node.ReadOnly {
		return 0, errs.EBADF
	}
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if h.appendMode {
		offset = int64(len(h.f.data))
	}
	need := offset + int64(len(buf))
	if need > int64(len(h.f.data)) {
		grown := make([]byte, need)
		copy(grown, h.f.data)
		h.f.data = grown
	}
	copy(h.f.data[offset:], buf)
	return len(buf), 0
}

func (h *handle) Stat() (node.Stat, errs.Errno) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	return node.Stat{Size: int64(len(h.f.data))}, 0
}

func (h *handle) Close() errs.Errno {
	return 0
}
