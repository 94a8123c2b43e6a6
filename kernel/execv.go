package kernel

import (
	"github.com/steveny9911/os161/as"
	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/limits"
	"github.com/steveny9911/os161/tlb"
	"github.com/steveny9911/os161/trapframe"
)

// Execv replaces pid's program image: it copies the program path and every
// argument string out of the old address space, opens and loads the new
// program into a fresh one, lays out the argument vector on the new stack,
// and only then destroys the old address space. Any failure before the new
// stack is fully built reinstalls the old address space, so execv never
// leaves a process without one and never leaks the old one.
func (k *Kernel) Execv(pid int, tf *trapframe.Frame, pathUVA, argvUVA int) errs.Errno {
	proc := k.Process(pid)
	old := proc.AS

	if pathUVA == 0 || argvUVA == 0 {
		return errs.EFAULT
	}

	acct := k.Prof.Get(pid)
	t0 := acct.Now()
	defer acct.Finish(t0)

	path, err := old.CopyInString(pathUVA, k.Cfg.PathMax)
	if err != 0 {
		return err
	}

	var args [][]byte
	total := 0
	for i := 0; ; i++ {
		ptr, err := old.ReadN(argvUVA+i*limits.PtrSize, limits.PtrSize)
		if err != 0 {
			return err
		}
		if ptr == 0 {
			break
		}
		rem := k.Cfg.ArgMax - total
		if rem <= 0 {
			return errs.E2BIG
		}
		s, err := old.CopyInString(ptr, rem)
		if err == errs.ENAMETOOLONG {
			return errs.E2BIG
		}
		if err != 0 {
			return err
		}
		total += len(s) + 1
		args = append(args, []byte(s))
	}

	if err := k.loadInto(proc, tf, path.String(), args); err != 0 {
		return err
	}
	old.Destroy()
	return 0
}

// Runprogram loads path as pid's very first program image: unlike Execv,
// there is no prior address space to copy argv out of, since the process
// has never had one. The initial process's image load is a kernel-supplied
// bootstrap rather than a user-invoked syscall, so args are already plain
// kernel strings, matching how a kernel-built argv reaches the first
// process on a real system.
func (k *Kernel) Runprogram(pid int, tf *trapframe.Frame, path string, args []string) errs.Errno {
	proc := k.Process(pid)
	byteArgs := make([][]byte, len(args))
	for i, a := range args {
		byteArgs[i] = []byte(a)
	}
	return k.loadInto(proc, tf, path, byteArgs)
}

// loadInto opens the program, builds a fresh address space, loads the ELF,
// and lays out argc/argv on the new stack. On success it installs the new
// address space on proc and leaves
// the trapframe ready to enter user mode at the program's entry point; on
// any failure the new address space (if one was created) is destroyed and
// proc.AS is left untouched, so a failed exec never leaves a process
// without a runnable image.
func (k *Kernel) loadInto(proc *Process, tf *trapframe.Frame, path string, args [][]byte) errs.Errno {
	fobj, err := k.Fs.Open(path, 0, 0)
	if err != 0 {
		return err
	}
	fobj.Close()

	newAS := as.Create(k.Cm, proc.Pid, k.Cfg)
	entry, err := k.Loader.Load(path, newAS)
	if err != 0 {
		newAS.Destroy()
		return err
	}

	stackPtr, err := newAS.DefineStack()
	if err != 0 {
		newAS.Destroy()
		return err
	}

	argc := len(args)
	uargv := make([]int, argc+1)
	for i, a := range args {
		padded := execStackAlign(len(a) + 1)
		stackPtr -= padded
		buf := make([]byte, padded)
		copy(buf, a)
		if err := newAS.CopyOut(buf, stackPtr); err != 0 {
			newAS.Destroy()
			return err
		}
		uargv[i] = stackPtr
	}
	uargv[argc] = 0
	for i := argc; i >= 0; i-- {
		stackPtr -= limits.PtrSize
		if err := newAS.WriteN(stackPtr, limits.PtrSize, uargv[i]); err != 0 {
			newAS.Destroy()
			return err
		}
	}

	proc.AS = newAS
	tlb.Activate(k.Hw)
	tf.EPC = uint32(entry)
	tf.A0 = uint32(argc)
	tf.A1 = uint32(stackPtr)
	tf.SP = uint32(stackPtr)
	return 0
}
