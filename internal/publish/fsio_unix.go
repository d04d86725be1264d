//go:build !windows

package publish

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/inlet-sh/inlet/internal/errors"
)

// openArtifactFile opens the temp artifact for writing with O_NOFOLLOW to
// prevent symlink attacks on the final path component. O_CLOEXEC prevents
// FD leaks across exec.
func openArtifactFile(path string) (*os.File, error) {
	flags := syscall.O_CREAT | syscall.O_WRONLY | syscall.O_TRUNC |
		syscall.O_NOFOLLOW | syscall.O_CLOEXEC
	fd, err := syscall.Open(path, flags, 0600)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot write to symlink")
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

// syncDir flushes the directory entry so a rename survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// classifyFSErr maps filesystem errnos onto the ledger's error codes.
// Exhausted or read-only storage is permanent and quarantines the
// capture; contention and permission blips are retriable.
func classifyFSErr(err error) error {
	var inletErr *errors.InletError
	if stderrors.As(err, &inletErr) {
		return err
	}

	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		switch errno {
		case syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS:
			return errors.NewStorageExhausted(err)
		case syscall.EACCES, syscall.EPERM, syscall.EAGAIN, syscall.EBUSY,
			syscall.EINTR, syscall.ETIMEDOUT:
			return errors.NewTransientIO(err)
		}
	}
	return errors.NewInternal(err)
}
