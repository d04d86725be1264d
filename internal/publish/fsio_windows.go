//go:build windows

package publish

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/inlet-sh/inlet/internal/errors"
)

// Windows error codes the classifier cares about; the syscall package
// does not name these two.
const (
	errorDiskFull       = syscall.Errno(112) // ERROR_DISK_FULL
	errorHandleDiskFull = syscall.Errno(39)  // ERROR_HANDLE_DISK_FULL
)

// openArtifactFile opens the temp artifact for writing.
// O_NOFOLLOW is not available on Windows; symlink creation requires
// elevated privileges there, so the exposure is narrower to begin with.
func openArtifactFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}

// syncDir is a no-op on Windows, where directories cannot be opened
// for syncing and NTFS journals metadata itself.
func syncDir(dir string) error {
	return nil
}

// classifyFSErr maps filesystem errors onto the ledger's error codes.
func classifyFSErr(err error) error {
	var inletErr *errors.InletError
	if stderrors.As(err, &inletErr) {
		return err
	}

	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		switch errno {
		case errorDiskFull, errorHandleDiskFull:
			return errors.NewStorageExhausted(err)
		case syscall.ERROR_ACCESS_DENIED:
			return errors.NewTransientIO(err)
		}
	}
	if os.IsPermission(err) {
		return errors.NewTransientIO(err)
	}
	return errors.NewInternal(err)
}
