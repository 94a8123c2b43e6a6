// Package kernel wires the process table, file descriptor tables, address
// spaces, and TLB refill logic together into the system-call surface: fork,
// exec, wait, exit, getpid, sbrk, and the file syscalls
// open/read/write/close/lseek/dup2/chdir/__getcwd.
//
// The trap dispatcher and register-frame structure are external
// collaborators; this package only reads and writes trapframe.Frame
// fields, it never decides how or when a trap is taken.
package kernel

import (
	"sync"

	"github.com/steveny9911/os161/as"
	"github.com/steveny9911/os161/coremap"
	"github.com/steveny9911/os161/elf"
	"github.com/steveny9911/os161/fdtable"
	"github.com/steveny9911/os161/kprofile"
	"github.com/steveny9911/os161/limits"
	"github.com/steveny9911/os161/node"
	"github.com/steveny9911/os161/proctable"
	"github.com/steveny9911/os161/sched"
	"github.com/steveny9911/os161/tlb"
	"github.com/steveny9911/os161/trapframe"
)

// Process is the kernel-side state for one user process: its address
// space, its file descriptor table, and the pid it's registered under in
// the process table.
type Process struct {
	Pid   int
	AS    *as.AddressSpace
	Files *fdtable.FileTable
}

// Kernel bundles every collaborator the syscall layer needs. Fs, Loader,
// Scheduler, and Hw are external collaborators; Coremap, the process
// table, and the per-process accounting table are owned outright by this
// core.
type Kernel struct {
	mu    sync.Mutex
	procs map[int]*Process

	Cfg    limits.Config
	Cm     *coremap.Coremap
	Pt     *proctable.ProcessTable
	Fs     node.FS
	Loader elf.Loader
	Sched  sched.Scheduler
	Hw     tlb.Hardware
	Prof   *kprofile.Table

	// OnChildStart, if set, is invoked with the child's restored trapframe
	// once Fork has set its return value and advanced it past the syscall
	// instruction; entering user mode from there is the external trap
	// dispatcher's job, so production callers normally leave this nil and
	// let Sched.Fork's goroutine simply return.
	OnChildStart func(childPid int, tf *trapframe.Frame)
}

// Bootstrap creates a kernel with npages physical frames (fixedPages of
// them reserved, as vm_bootstrap carves out storage for the coremap
// itself) and assigns pid 1 to the initial process, which starts with no
// address space until it execs.
func Bootstrap(cfg limits.Config, npages, fixedPages int, fs node.FS, loader elf.Loader, scheduler sched.Scheduler, hw tlb.Hardware) *Kernel {
	k := &Kernel{
		procs:  make(map[int]*Process),
		Cfg:    cfg,
		Cm:     coremap.New(npages, fixedPages),
		Pt:     proctable.Bootstrap(cfg.ProcsMax),
		Fs:     fs,
		Loader: loader,
		Sched:  scheduler,
		Hw:     hw,
		Prof:   kprofile.NewTable(),
	}
	k.procs[1] = &Process{Pid: 1, Files: fdtable.New(cfg.OpenMax)}
	return k
}

// Process returns the live Process for pid, or nil if there is none.
func (k *Kernel) Process(pid int) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.procs[pid]
}

func (k *Kernel) addProcess(p *Process) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.procs[p.Pid] = p
}

func (k *Kernel) removeProcess(pid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.procs, pid)
}

// Getpid returns the calling process's own pid; it cannot fail.
func (k *Kernel) Getpid(pid int) int {
	return pid
}
