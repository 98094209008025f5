package server

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBindRejectsNonSocket(t *testing.T) {
	root := shortRoot(t)
	path := filepath.Join(root, DefaultSocketPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := bind(root, DefaultSocketPath)
	if !errors.Is(err, ErrNotSocket) {
		t.Fatalf("bind err = %v, want ErrNotSocket", err)
	}
	if b, err := os.ReadFile(path); err != nil || string(b) != "keep me" {
		t.Errorf("regular file was disturbed: %q, %v", b, err)
	}
}

func TestBindReplacesStaleSocket(t *testing.T) {
	root := shortRoot(t)
	path := filepath.Join(root, DefaultSocketPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	b, err := bind(root, DefaultSocketPath)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer func() {
		b.ln.Close()
		releaseLock(b.lock)
	}()

	conn, err := net.Dial("unix", b.path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestBindCreatesPrivateDir(t *testing.T) {
	root := shortRoot(t)
	b, err := bind(root, "a/b/ctl.sock")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer func() {
		b.ln.Close()
		releaseLock(b.lock)
	}()

	st, err := os.Stat(filepath.Join(root, "a/b"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := st.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir perm = %o, want 700", perm)
	}
}

func TestBindLocked(t *testing.T) {
	root := shortRoot(t)
	first, err := bind(root, DefaultSocketPath)
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	defer func() {
		first.ln.Close()
		releaseLock(first.lock)
	}()

	if _, err := bind(root, DefaultSocketPath); !errors.Is(err, ErrLocked) {
		t.Fatalf("second bind err = %v, want ErrLocked", err)
	}
}

func TestBindLongPathRestoresWorkingDir(t *testing.T) {
	root := filepath.Join(shortRoot(t), strings.Repeat("p", 80))
	if err := os.MkdirAll(root, 0o700); err != nil {
		t.Fatal(err)
	}
	rel := filepath.Join(strings.Repeat("s", 20), "control.sock")
	if len(filepath.Join(root, rel)) <= maxSunPath {
		t.Fatalf("test path is not long enough")
	}

	before, _ := os.Getwd()
	b, err := bind(root, rel)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer func() {
		b.ln.Close()
		releaseLock(b.lock)
	}()

	after, _ := os.Getwd()
	if before != after {
		t.Errorf("working dir changed: %q -> %q", before, after)
	}
	st, err := os.Lstat(b.path)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if st.Mode()&os.ModeSocket == 0 {
		t.Errorf("mode = %v, want socket", st.Mode())
	}
}

func TestWithWorkingDir(t *testing.T) {
	dir := shortRoot(t)
	before, _ := os.Getwd()

	boom := errors.New("boom")
	err := withWorkingDir(dir, func() error {
		wd, _ := os.Getwd()
		if resolved, _ := filepath.EvalSymlinks(dir); wd != dir && wd != resolved {
			t.Errorf("inside wd = %q, want %q", wd, dir)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if wd, _ := os.Getwd(); wd != before {
		t.Errorf("wd after error = %q, want %q", wd, before)
	}

	func() {
		defer func() { recover() }()
		withWorkingDir(dir, func() error { panic("oops") })
	}()
	if wd, _ := os.Getwd(); wd != before {
		t.Errorf("wd after panic = %q, want %q", wd, before)
	}

	if err := withWorkingDir(filepath.Join(dir, "missing"), func() error { return nil }); err == nil {
		t.Error("expected chdir error")
	}
}
