package kernel

import (
	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/limits"
	"github.com/steveny9911/os161/trapframe"
	"github.com/steveny9911/os161/util"
)

// Fork creates a child of parentPid: a fresh pid, a copy of the parent's
// address space and file table, and a new thread that resumes a private
// copy of tf with its return value set to 0. It returns the child's pid to
// the caller, which the syscall dispatcher installs as the parent's own
// return value. Any failure unwinds every resource already acquired.
func (k *Kernel) Fork(parentPid int, tf *trapframe.Frame) (int, errs.Errno) {
	parent := k.Process(parentPid)

	acct := k.Prof.Get(parentPid)
	t0 := acct.Now()
	defer acct.Finish(t0)

	childPid, err := k.Pt.Assign(parentPid)
	if err != 0 {
		return 0, err
	}

	childAS, err := parent.AS.Copy(childPid)
	if err != 0 {
		k.Pt.Unassign(childPid)
		return 0, errs.ENOMEM
	}

	childFiles := parent.Files.Copy()
	childTF := tf.Copy()

	child := &Process{Pid: childPid, AS: childAS, Files: childFiles}
	k.addProcess(child)
	k.Prof.Get(childPid)

	childTF.SetReturn(0, false)
	childTF.AdvancePastSyscall()

	k.Sched.Fork(func(arg any) {
		if k.OnChildStart != nil {
			k.OnChildStart(childPid, arg.(*trapframe.Frame))
		}
	}, childTF)

	return childPid, 0
}

// Waitpid blocks until pid (a child of callerPid) has exited, returning its
// pid and its wait-encoded status.
func (k *Kernel) Waitpid(callerPid, pid int) (int, int, errs.Errno) {
	status, err := k.Pt.Wait(callerPid, pid)
	if err != 0 {
		return 0, 0, err
	}
	k.Prof.Drop(pid)
	return pid, status, 0
}

// Exit terminates callerPid with the given raw exit code: it records the
// wait-encoded status in the process table, releases the process's file
// table and address space, and removes it from the live process map. The
// actual thread surrender is the scheduler's job, invoked by the caller
// after Exit returns, since handing
// control back to the scheduler from inside a library call would make this
// package's behavior depend on which goroutine called it.
func (k *Kernel) Exit(pid, code int) {
	proc := k.Process(pid)
	k.Pt.Exit(pid, MkwaitExit(code))
	if proc.Files != nil {
		proc.Files.CloseAll()
	}
	if proc.AS != nil {
		proc.AS.Destroy()
	}
	// An orphan's slot is reclaimed by Pt.Exit itself; nobody will ever
	// Waitpid it, so its accounting record goes with it.
	if _, ok := k.Pt.Info(pid); !ok {
		k.Prof.Drop(pid)
	}
	k.removeProcess(pid)
}

// Sbrk adjusts pid's heap break by delta bytes and returns the break's
// previous value.
func (k *Kernel) Sbrk(pid, delta int) (int, errs.Errno) {
	proc := k.Process(pid)
	return proc.AS.Sbrk(delta)
}

// Wait status encoding: _MKWAIT_EXIT stores an 8-bit exit code in bits
// 8..15, leaving bits 0..7 to one day distinguish exit from signal
// termination (this core never produces a signal-terminated status).
const waitExitShift = 8

// MkwaitExit encodes a normal exit's status word.
func MkwaitExit(code int) int {
	return (code & 0xff) << waitExitShift
}

// Wifexited reports whether status represents a normal exit. Every status
// this core produces does, since it has no signal delivery.
func Wifexited(status int) bool {
	return status&0xff == 0
}

// Wexitstatus extracts the exit code from a status word built by
// MkwaitExit.
func Wexitstatus(status int) int {
	return (status >> waitExitShift) & 0xff
}

// execStackAlign rounds n up to the pointer size exec's stack layout
// requires.
func execStackAlign(n int) int {
	return util.Roundup(n, limits.PtrSize)
}
