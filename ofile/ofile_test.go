package ofile

import (
	"testing"

	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/node"
	"github.com/steveny9911/os161/node/memfs"
)

func TestOpenWriteReadRoundTrip(t *testing.T) {
	fs := memfs.New()
	wf, err := Open(fs, "/a", node.OWronly|node.OCreat, 0644)
	if err != 0 {
		t.Fatalf("Open for write: %v", err)
	}
	if n, err := wf.Write([]byte("hello")); err != 0 || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	wf.DecRef()

	rf, err := Open(fs, "/a", node.ORdonly, 0)
	if err != 0 {
		t.Fatalf("Open for read: %v", err)
	}
	buf := make([]byte, 16)
	n, err := rf.Read(buf)
	if err != 0 || string(buf[:n]) != "hello" {
		t.Fatalf("Read mismatch: %q err %v", buf[:n], err)
	}
	rf.DecRef()
}

func TestWriteOnlyRejectsRead(t *testing.T) {
	fs := memfs.New()
	of, _ := Open(fs, "/a", node.OWronly|node.OCreat, 0644)
	if _, err := of.Read(make([]byte, 1)); err != errs.EBADF {
		t.Fatalf("expected EBADF reading a write-only file, got %v", err)
	}
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	fs := memfs.New()
	of, _ := Open(fs, "/a", node.ORdonly|node.OCreat, 0644)
	if _, err := of.Write([]byte("x")); err != errs.EBADF {
		t.Fatalf("expected EBADF writing a read-only file, got %v", err)
	}
}

func TestSeekEndAndNegativeRejected(t *testing.T) {
	fs := memfs.New()
	of, _ := Open(fs, "/a", node.ORdwr|node.OCreat, 0644)
	of.Write([]byte("0123456789"))

	pos, err := of.Seek(0, SeekEnd)
	if err != 0 || pos != 10 {
		t.Fatalf("Seek end: pos=%d err=%v", pos, err)
	}
	if _, err := of.Seek(-100, SeekSet); err != errs.EINVAL {
		t.Fatalf("expected EINVAL for a negative resulting offset, got %v", err)
	}
}

func TestRefCountingClosesOnLastDecref(t *testing.T) {
	fs := memfs.New()
	of, _ := Open(fs, "/a", node.ORdwr|node.OCreat, 0644)
	of.IncRef()
	if of.RefCount() != 2 {
		t.Fatalf("expected refcount 2, got %d", of.RefCount())
	}
	if err := of.DecRef(); err != 0 {
		t.Fatalf("DecRef: %v", err)
	}
	if of.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", of.RefCount())
	}
	if err := of.DecRef(); err != 0 {
		t.Fatalf("final DecRef: %v", err)
	}
}

func TestInvalidFlagsRejected(t *testing.T) {
	fs := memfs.New()
	if _, err := Open(fs, "/a", 0xdead, 0); err != errs.EINVAL {
		t.Fatalf("expected EINVAL for unrecognized flag bits, got %v", err)
	}
}

func TestAppendAlwaysWritesAtEnd(t *testing.T) {
	fs := memfs.New()
	of, _ := Open(fs, "/a", node.ORdwr|node.OCreat|node.OAppend, 0644)
	of.Write([]byte("abc"))
	of.Seek(0, SeekSet)
	of.Write([]byte("xyz"))

	rf, _ := Open(fs, "/a", node.ORdonly, 0)
	buf := make([]byte, 16)
	n, _ := rf.Read(buf)
	if string(buf[:n]) != "abcxyz" {
		t.Fatalf("expected append to ignore the seek position, got %q", buf[:n])
	}
}
