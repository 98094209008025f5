package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// maxSunPath is the longest socket path the platform's sockaddr_un holds,
// excluding the terminating NUL.
const maxSunPath = len(unix.RawSockaddrUnix{}.Path) - 1

var (
	// ErrNotSocket is returned when something other than a socket occupies
	// the socket path. It is never removed.
	ErrNotSocket = errors.New("server: socket path exists and is not a socket")

	// ErrLocked is returned when another process holds the socket lock.
	ErrLocked = errors.New("server: socket is locked by another process")
)

// bound is the result of a successful bind.
type bound struct {
	ln   net.Listener
	lock *os.File
	path string
}

// bind creates root/rel and listens on it. The absolute path is bound
// directly when it fits in sockaddr_un; otherwise the working directory is
// switched to root for the duration of the bind only.
func bind(root, rel string) (*bound, error) {
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	lock, err := acquireLock(abs + ".lock")
	if err != nil {
		return nil, err
	}

	if err := removeStale(abs); err != nil {
		releaseLock(lock)
		return nil, err
	}

	var ln net.Listener
	if len(abs) <= maxSunPath {
		ln, err = net.Listen("unix", abs)
	} else {
		err = withWorkingDir(root, func() error {
			var lerr error
			ln, lerr = net.Listen("unix", rel)
			return lerr
		})
	}
	if err != nil {
		if ln != nil {
			ln.Close()
			os.Remove(abs)
		}
		releaseLock(lock)
		return nil, fmt.Errorf("listen %s: %w", abs, err)
	}

	// The socket file is removed by absolute path on shutdown; the listener's
	// own unlink would use the relative name when bound through chdir.
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	return &bound{ln: ln, lock: lock, path: abs}, nil
}

// removeStale deletes a leftover socket at path. A missing file is fine; any
// other kind of file is an error.
func removeStale(path string) error {
	st, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat socket path: %w", err)
	}
	if st.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%w: %s", ErrNotSocket, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// withWorkingDir runs fn with the process working directory set to dir and
// restores the previous directory on every exit path, panics included.
func withWorkingDir(dir string, fn func() error) (err error) {
	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("chdir %s: %w", dir, err)
	}
	defer func() {
		if cerr := os.Chdir(prev); cerr != nil && err == nil {
			err = fmt.Errorf("restore working directory: %w", cerr)
		}
	}()
	return fn()
}

func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open socket lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock socket: %w", err)
	}
	return f, nil
}

func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}
