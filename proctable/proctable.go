// Package proctable implements the kernel-wide process table: process
// identity assignment, the parent/child/zombie bookkeeping exit() and
// wait() share, and pid reclamation.
//
// Assign scans for a genuinely free slot rather than incrementing a
// running counter, so pids freed by exit/reap are reusable and long-running
// systems don't exhaust the pid space. Exit distinguishes the
// parent-already-gone and parent-still-alive branches and sweeps exited
// children whose parent is going away first.
package proctable

import (
	"sync"

	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/kassert"
)

// ProcInfo is one process table slot.
type ProcInfo struct {
	Pid        int
	Ppid       int
	Exited     bool
	ExitStatus int

	cv *sync.Cond
}

// ProcessTable is the fixed-size, mutex-guarded table of every live or
// zombie process. Pid 0 is never assigned; it marks "no parent" in Ppid.
type ProcessTable struct {
	mu    sync.Mutex
	procs []*ProcInfo // index 0 unused; index i holds pid i
}

// Bootstrap creates the table and assigns slot 1 (the initial kernel
// process) with Ppid 0, mirroring proctable_bootstrap.
func Bootstrap(pidMax int) *ProcessTable {
	pt := &ProcessTable{procs: make([]*ProcInfo, pidMax+1)}
	pt.procs[1] = &ProcInfo{Pid: 1, Ppid: 0, cv: sync.NewCond(&pt.mu)}
	return pt
}

// Assign finds the lowest-numbered free slot (2..pidMax), installs a fresh
// ProcInfo with Ppid set to callerPid, and returns its pid. It fails with
// ENPROC if the table is full.
func (pt *ProcessTable) Assign(callerPid int) (int, errs.Errno) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for pid := 2; pid < len(pt.procs); pid++ {
		if pt.procs[pid] == nil {
			pt.procs[pid] = &ProcInfo{Pid: pid, Ppid: callerPid, cv: sync.NewCond(&pt.mu)}
			return pid, 0
		}
	}
	return 0, errs.ENPROC
}

// Unassign releases pid's slot outright, used to unwind a partially
// completed fork.
func (pt *ProcessTable) Unassign(pid int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.procs[pid] = nil
}

// Info returns a copy of pid's table entry, or ok=false if the slot is
// empty; used by kernel.Exit and by tests.
func (pt *ProcessTable) Info(pid int) (ProcInfo, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pid <= 0 || pid >= len(pt.procs) || pt.procs[pid] == nil {
		return ProcInfo{}, false
	}
	return *pt.procs[pid], true
}

// Exit marks pid exited with the given status, reparents its exited
// children to no-one and reclaims any that are already zombies, and either
// signals a waiting parent (leaving the zombie slot for it to reap) or, if
// the parent has already gone, reclaims the slot itself. It does not itself
// surrender the calling thread; the syscall layer does that once the table
// bookkeeping is done.
func (pt *ProcessTable) Exit(pid, status int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	self := pt.procs[pid]
	kassert.Assertf(self != nil && !self.Exited, "proctable: Exit on empty or already-exited slot %d", pid)
	self.Exited = true
	self.ExitStatus = status

	for _, child := range pt.procs {
		if child != nil && child.Ppid == pid {
			child.Ppid = 0
			if child.Exited {
				pt.procs[child.Pid] = nil
			}
		}
	}

	if self.Ppid != 0 {
		self.cv.Signal()
		return
	}
	pt.procs[pid] = nil
}

// Wait blocks until pid (which must be one of callerPid's children) has
// exited, then copies out its status and reclaims its slot. It fails with
// ESRCH if pid names no live or zombie slot at all, or with ECHILD if the
// slot exists but isn't a child of callerPid.
func (pt *ProcessTable) Wait(callerPid, pid int) (int, errs.Errno) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pid <= 0 || pid >= len(pt.procs) || pt.procs[pid] == nil {
		return 0, errs.ESRCH
	}
	child := pt.procs[pid]
	if child.Ppid != callerPid {
		return 0, errs.ECHILD
	}
	for !child.Exited {
		child.cv.Wait()
	}
	status := child.ExitStatus
	pt.procs[pid] = nil
	return status, 0
}
