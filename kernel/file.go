package kernel

import (
	"github.com/steveny9911/os161/errs"
	"github.com/steveny9911/os161/ofile"
)

// Open validates flags, copies the path in from user space, opens it
// through the file system, and installs the resulting OpenFile in pid's
// descriptor table.
func (k *Kernel) Open(pid int, pathUVA int, flags, mode int) (int, errs.Errno) {
	proc := k.Process(pid)

	path, err := proc.AS.CopyInString(pathUVA, k.Cfg.PathMax)
	if err != 0 {
		return 0, err
	}

	of, err := ofile.Open(k.Fs, path.String(), flags, mode)
	if err != 0 {
		return 0, err
	}

	fd, err := proc.Files.Add(of)
	if err != 0 {
		of.DecRef()
		return 0, err
	}
	return fd, 0
}

// Read reads up to n bytes from fd into the user buffer at bufUVA,
// advancing fd's shared offset by the number of bytes actually read.
func (k *Kernel) Read(pid, fd int, bufUVA, n int) (int, errs.Errno) {
	if n < 0 {
		return 0, errs.EINVAL
	}
	proc := k.Process(pid)
	of, err := proc.Files.Get(fd)
	if err != 0 {
		return 0, err
	}
	tmp := make([]byte, n)
	got, err := of.Read(tmp)
	if err != 0 {
		return 0, err
	}
	if err := proc.AS.CopyOut(tmp[:got], bufUVA); err != 0 {
		return 0, err
	}
	return got, 0
}

// Write copies n bytes from the user buffer at bufUVA and writes them to
// fd, advancing its shared offset.
func (k *Kernel) Write(pid, fd int, bufUVA, n int) (int, errs.Errno) {
	if n < 0 {
		return 0, errs.EINVAL
	}
	proc := k.Process(pid)
	of, err := proc.Files.Get(fd)
	if err != 0 {
		return 0, err
	}
	tmp := make([]byte, n)
	if err := proc.AS.CopyIn(tmp, bufUVA); err != 0 {
		return 0, err
	}
	put, err := of.Write(tmp)
	if err != 0 {
		return 0, err
	}
	return put, 0
}

// Close clears fd's slot and drops the table's reference to its OpenFile.
func (k *Kernel) Close(pid, fd int) errs.Errno {
	proc := k.Process(pid)
	of, err := proc.Files.Get(fd)
	if err != 0 {
		return err
	}
	if err := proc.Files.Remove(fd); err != 0 {
		return err
	}
	return of.DecRef()
}

// Lseek repositions fd's shared offset.
func (k *Kernel) Lseek(pid, fd int, pos int64, whence int) (int64, errs.Errno) {
	proc := k.Process(pid)
	of, err := proc.Files.Get(fd)
	if err != 0 {
		return 0, err
	}
	return of.Seek(pos, whence)
}

// Dup2 makes newfd refer to the same OpenFile as oldfd: a no-op if they're
// already equal, otherwise closing whatever newfd previously held before
// installing the shared file with an incremented refcount.
func (k *Kernel) Dup2(pid, oldfd, newfd int) (int, errs.Errno) {
	proc := k.Process(pid)
	if oldfd < 0 || oldfd >= proc.Files.Capacity() || newfd < 0 || newfd >= proc.Files.Capacity() {
		return 0, errs.EBADF
	}
	if oldfd == newfd {
		return newfd, 0
	}

	of, err := proc.Files.Get(oldfd)
	if err != 0 {
		return 0, err
	}
	if existing, err := proc.Files.Get(newfd); err == 0 {
		proc.Files.Remove(newfd)
		existing.DecRef()
	}
	of.IncRef()
	if err := proc.Files.Set(newfd, of); err != 0 {
		of.DecRef()
		return 0, err
	}
	return newfd, 0
}

// Chdir copies the target path in from user space and delegates to the
// file system.
func (k *Kernel) Chdir(pid int, pathUVA int) errs.Errno {
	proc := k.Process(pid)
	path, err := proc.AS.CopyInString(pathUVA, k.Cfg.PathMax)
	if err != 0 {
		return err
	}
	return k.Fs.Chdir(path.String())
}

// Getcwd copies the current working directory out to the user buffer at
// bufUVA, up to n bytes, and returns the number of bytes written.
func (k *Kernel) Getcwd(pid int, bufUVA, n int) (int, errs.Errno) {
	if n < 0 {
		return 0, errs.EINVAL
	}
	proc := k.Process(pid)
	cwd, err := k.Fs.Getcwd()
	if err != 0 {
		return 0, err
	}
	b := []byte(cwd)
	if len(b) > n {
		b = b[:n]
	}
	if err := proc.AS.CopyOut(b, bufUVA); err != 0 {
		return 0, err
	}
	return len(b), 0
}
