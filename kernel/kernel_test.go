package kernel

import (
	"testing"
	"time"

	"github.com/steveny9911/os161/elf"
	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/limits"
	"github.com/steveny9911/os161/node"
	"github.com/steveny9911/os161/node/memfs"
	"github.com/steveny9911/os161/ofile"
	"github.com/steveny9911/os161/sched"
	"github.com/steveny9911/os161/tlb"
	"github.com/steveny9911/os161/trapframe"
)

func newTestKernel(t *testing.T, openMax int) (*Kernel, *Process) {
	t.Helper()
	cfg := limits.Default()
	cfg.OpenMax = openMax
	cfg.ProcsMax = 8
	cfg.StackPages = 2

	fs := memfs.New()
	if _, err := fs.Open("/init", node.OCreat, 0644); err != 0 {
		t.Fatalf("seed /init: %v", err)
	}
	if _, err := fs.Open("/prog", node.OCreat, 0644); err != 0 {
		t.Fatalf("seed /prog: %v", err)
	}

	k := Bootstrap(cfg, 256, 0, fs, elf.NewMinimal(), sched.Goroutine{}, tlb.NewSoft(8))
	tf := &trapframe.Frame{}
	if err := k.Runprogram(1, tf, "/init", nil); err != 0 {
		t.Fatalf("Runprogram: %v", err)
	}
	return k, k.Process(1)
}

// putCString writes s plus a NUL terminator into proc's data page at uva.
func putCString(t *testing.T, proc *Process, uva int, s string) {
	t.Helper()
	if err := proc.AS.CopyOut(append([]byte(s), 0), uva); err != 0 {
		t.Fatalf("CopyOut %q: %v", s, err)
	}
}

const (
	pathArea = 0x401000
	bufArea  = 0x401100
	readArea = 0x401200
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	k, p := newTestKernel(t, 8)
	msg := "Twiddle dee dee, Twiddle dum dum.......\n"
	if len(msg) != 40 {
		t.Fatalf("test fixture bug: expected 40 bytes, got %d", len(msg))
	}
	putCString(t, p, pathArea, "/msg")

	wfd, err := k.Open(1, pathArea, node.OWronly|node.OCreat, 0644)
	if err != 0 {
		t.Fatalf("Open for write: %v", err)
	}
	putCString(t, p, bufArea, msg)
	if n, err := k.Write(1, wfd, bufArea, len(msg)); err != 0 || n != len(msg) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if err := k.Close(1, wfd); err != 0 {
		t.Fatalf("Close: %v", err)
	}

	rfd, err := k.Open(1, pathArea, node.ORdonly, 0)
	if err != 0 {
		t.Fatalf("Open for read: %v", err)
	}
	n, err := k.Read(1, rfd, readArea, len(msg))
	if err != 0 || n != len(msg) {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
	got := make([]byte, len(msg))
	if err := p.AS.CopyIn(got, readArea); err != 0 {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(got) != msg {
		t.Fatalf("round trip mismatch: got %q want %q", got, msg)
	}
	k.Close(1, rfd)
}

func TestOpenMaxBoundary(t *testing.T) {
	k, p := newTestKernel(t, 3)
	putCString(t, p, pathArea, "/a")

	var fds []int
	for i := 0; i < 3; i++ {
		fd, err := k.Open(1, pathArea, node.ORdwr|node.OCreat, 0644)
		if err != 0 {
			t.Fatalf("Open %d: %v", i, err)
		}
		fds = append(fds, fd)
	}
	if _, err := k.Open(1, pathArea, node.ORdwr|node.OCreat, 0644); err != errs.EMFILE {
		t.Fatalf("expected EMFILE once the table is full, got %v", err)
	}
	if err := k.Close(1, fds[0]); err != 0 {
		t.Fatalf("Close: %v", err)
	}
	if _, err := k.Open(1, pathArea, node.ORdwr|node.OCreat, 0644); err != 0 {
		t.Fatalf("expected Open to succeed after freeing a slot, got %v", err)
	}
}

func TestForkedChildExitStatusObservedByWaitpid(t *testing.T) {
	k, p := newTestKernel(t, 8)
	k.OnChildStart = func(childPid int, tf *trapframe.Frame) {
		k.Exit(childPid, 7)
	}

	parentTF := &trapframe.Frame{}
	childPid, err := k.Fork(1, parentTF)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if parentTF.A3 != 0 {
		t.Fatalf("expected the parent's trapframe to show fork succeeding")
	}

	gotPid, status, err := k.Waitpid(1, childPid)
	if err != 0 {
		t.Fatalf("Waitpid: %v", err)
	}
	if gotPid != childPid {
		t.Fatalf("expected Waitpid to return %d, got %d", childPid, gotPid)
	}
	if !Wifexited(status) || Wexitstatus(status) != 7 {
		t.Fatalf("expected exit status 7, got raw status %d", status)
	}
	_ = p
}

func TestExecReplacesImageAndLaysOutArgv(t *testing.T) {
	k, p := newTestKernel(t, 8)

	child, err := k.Fork(1, &trapframe.Frame{})
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	cp := k.Process(child)

	putCString(t, cp, pathArea, "/prog")
	argvUVA := bufArea
	argStrAUVA := 0x401180
	argStrBUVA := 0x401190
	putCString(t, cp, argStrAUVA, "a")
	putCString(t, cp, argStrBUVA, "bb")
	// uargv = {argStrAUVA, argStrBUVA, 0}
	cp.AS.WriteN(argvUVA, limits.PtrSize, argStrAUVA)
	cp.AS.WriteN(argvUVA+limits.PtrSize, limits.PtrSize, argStrBUVA)
	cp.AS.WriteN(argvUVA+2*limits.PtrSize, limits.PtrSize, 0)

	tf := &trapframe.Frame{}
	if err := k.Execv(child, tf, pathArea, argvUVA); err != 0 {
		t.Fatalf("Execv: %v", err)
	}
	if tf.A0 != 2 {
		t.Fatalf("expected argc 2 in A0, got %d", tf.A0)
	}

	newUargv := int(tf.A1)
	a0, err := cp.AS.ReadN(newUargv, limits.PtrSize)
	if err != 0 {
		t.Fatalf("ReadN uargv[0]: %v", err)
	}
	a1, err := cp.AS.ReadN(newUargv+limits.PtrSize, limits.PtrSize)
	if err != 0 {
		t.Fatalf("ReadN uargv[1]: %v", err)
	}
	s0, err := cp.AS.CopyInString(a0, limits.PathMax)
	if err != 0 || s0.String() != "a" {
		t.Fatalf("expected argv[0] == \"a\", got %q err %v", s0, err)
	}
	s1, err := cp.AS.CopyInString(a1, limits.PathMax)
	if err != 0 || s1.String() != "bb" {
		t.Fatalf("expected argv[1] == \"bb\", got %q err %v", s1, err)
	}

	_ = p
}

func TestDup2AliasesSharedOffset(t *testing.T) {
	k, p := newTestKernel(t, 8)
	putCString(t, p, pathArea, "/shared")

	fd, err := k.Open(1, pathArea, node.ORdwr|node.OCreat, 0644)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	newfd := fd + 5
	if got, err := k.Dup2(1, fd, newfd); err != 0 || got != newfd {
		t.Fatalf("Dup2: got=%d err=%v", got, err)
	}

	putCString(t, p, bufArea, "xyz")
	if n, err := k.Write(1, newfd, bufArea, 3); err != 0 || n != 3 {
		t.Fatalf("Write via dup2'd fd: n=%d err=%v", n, err)
	}
	if pos, err := k.Lseek(1, fd, 0, ofile.SeekCur); err != 0 || pos != 3 {
		t.Fatalf("expected the write through the dup'd fd to advance fd's offset to 3, got pos=%d err=%v", pos, err)
	}
	if _, err := k.Lseek(1, fd, 0, ofile.SeekSet); err != 0 {
		t.Fatalf("Lseek rewind: %v", err)
	}

	n, err := k.Read(1, fd, readArea, 3)
	if err != 0 || n != 3 {
		t.Fatalf("Read via original fd: n=%d err=%v", n, err)
	}
	got := make([]byte, 3)
	p.AS.CopyIn(got, readArea)
	if string(got) != "xyz" {
		t.Fatalf("expected the write through the dup'd fd to be visible, got %q", got)
	}
}

func TestDup2OnItselfIsNoop(t *testing.T) {
	k, p := newTestKernel(t, 8)
	putCString(t, p, pathArea, "/a")
	fd, _ := k.Open(1, pathArea, node.ORdwr|node.OCreat, 0644)
	if got, err := k.Dup2(1, fd, fd); err != 0 || got != fd {
		t.Fatalf("expected Dup2(fd, fd) to return fd unchanged, got %d err %v", got, err)
	}
}

func TestExecFreesOldAddressSpaceFrames(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	before := k.Cm.FreeCount()

	child, _ := k.Fork(1, &trapframe.Frame{})
	cp := k.Process(child)
	afterFork := k.Cm.FreeCount()
	if afterFork >= before {
		t.Fatalf("expected fork to consume frames for the child's address space")
	}

	putCString(t, cp, pathArea, "/prog")
	cp.AS.WriteN(bufArea, limits.PtrSize, 0)
	tf := &trapframe.Frame{}
	if err := k.Execv(child, tf, pathArea, bufArea); err != 0 {
		t.Fatalf("Execv: %v", err)
	}

	if k.Cm.FreeCount() != afterFork {
		t.Fatalf("expected exec to free exactly the old address space's frames, before-exec free=%d after-exec free=%d", afterFork, k.Cm.FreeCount())
	}
}

func TestExecInvalidatesEveryTLBEntry(t *testing.T) {
	k, p := newTestKernel(t, 8)
	hw := k.Hw.(*tlb.Soft)
	for i := 0; i < hw.NumEntries(); i++ {
		hw.Write(i, tlb.Entry{Valid: true, Vaddr: i * limits.PageSize})
	}

	putCString(t, p, pathArea, "/prog")
	p.AS.WriteN(bufArea, limits.PtrSize, 0)
	if err := k.Execv(1, &trapframe.Frame{}, pathArea, bufArea); err != 0 {
		t.Fatalf("Execv: %v", err)
	}
	for i := 0; i < hw.NumEntries(); i++ {
		if hw.Read(i).Valid {
			t.Fatalf("expected entry %d invalid after exec installs the new address space", i)
		}
	}
}

func TestReadNegativeLengthIsEinval(t *testing.T) {
	k, p := newTestKernel(t, 8)
	putCString(t, p, pathArea, "/a")
	fd, _ := k.Open(1, pathArea, node.ORdwr|node.OCreat, 0644)
	if _, err := k.Read(1, fd, readArea, -1); err != errs.EINVAL {
		t.Fatalf("expected EINVAL for a negative read length, got %v", err)
	}
	if _, err := k.Write(1, fd, bufArea, -1); err != errs.EINVAL {
		t.Fatalf("expected EINVAL for a negative write length, got %v", err)
	}
}

func TestExitDropsFileRefcountsOfAllHeldDescriptors(t *testing.T) {
	k, p := newTestKernel(t, 8)
	putCString(t, p, pathArea, "/shared")

	fd, err := k.Open(1, pathArea, node.ORdwr|node.OCreat, 0644)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	of, err := p.Files.Get(fd)
	if err != 0 {
		t.Fatalf("Get: %v", err)
	}

	child, err := k.Fork(1, &trapframe.Frame{})
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	cp := k.Process(child)
	cfd, err := cp.Files.Get(fd)
	if err != 0 || cfd != of {
		t.Fatalf("expected the child to inherit fd %d sharing the same open file", fd)
	}
	if got := of.RefCount(); got != 2 {
		t.Fatalf("expected refcount 2 after fork, got %d", got)
	}

	k.Exit(child, 0)
	if got := of.RefCount(); got != 1 {
		t.Fatalf("expected refcount 1 after the child exits, got %d", got)
	}

	k.Exit(1, 0)
	if got := of.RefCount(); got != 0 {
		t.Fatalf("expected refcount 0 once every holder has exited, got %d", got)
	}
}

func TestChdirThenGetcwdRoundTrips(t *testing.T) {
	k, p := newTestKernel(t, 8)
	putCString(t, p, pathArea, "/tmp")
	if err := k.Chdir(1, pathArea); err != 0 {
		t.Fatalf("Chdir: %v", err)
	}
	n, err := k.Getcwd(1, readArea, 64)
	if err != 0 {
		t.Fatalf("Getcwd: %v", err)
	}
	got := make([]byte, n)
	if err := p.AS.CopyIn(got, readArea); err != 0 {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(got) != "/tmp" {
		t.Fatalf("expected cwd %q, got %q", "/tmp", got)
	}
}

func TestWaitpidBlocksUntilChildExits(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	k.OnChildStart = func(childPid int, tf *trapframe.Frame) {
		time.Sleep(20 * time.Millisecond)
		k.Exit(childPid, 3)
	}
	child, err := k.Fork(1, &trapframe.Frame{})
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	_, status, err := k.Waitpid(1, child)
	if err != 0 {
		t.Fatalf("Waitpid: %v", err)
	}
	if Wexitstatus(status) != 3 {
		t.Fatalf("expected status 3, got %d", Wexitstatus(status))
	}
}
