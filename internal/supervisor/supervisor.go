// Package supervisor implements the connection supervisor of §4.1:
// daemonization, the listening socket, the accept loop, and the bounded
// worker pool that caps simultaneous client sessions.
package supervisor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// daemonizedEnv marks a re-exec'd process as the already-detached daemon,
// standing in for the original's single fork() call: Go cannot fork()
// without also exec'ing, so "fork once, parent exits" becomes "re-exec self
// with this marker and Setsid, original process exits", with the new
// process born session-leader and already pointed at /dev/null.
const daemonizedEnv = "YASHD_DAEMONIZED"

// ErrAlreadyRunning is returned by Daemonize's detached branch when another
// instance already holds the single-instance lock — the new instance should
// exit successfully, per §4.1's single-instance guarantee.
var ErrAlreadyRunning = errors.New("another yashd instance is already running")

// Daemonize turns the current process into the detached daemon described by
// §4.1. On the first call (no marker env var), it re-execs the running
// binary with the marker set and a new session, then returns detached=false
// so the caller can exit(0) immediately, mirroring "parent exits with
// success". On the re-exec'd side, it returns detached=true having already
// chdir'd to /, zeroed the umask, and acquired the single-instance lock on
// lockPath.
func Daemonize(lockPath string) (detached bool, cleanup func(), err error) {
	if os.Getenv(daemonizedEnv) != "1" {
		exe, err := os.Executable()
		if err != nil {
			return false, nil, fmt.Errorf("resolve executable: %w", err)
		}
		devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return false, nil, fmt.Errorf("open %s: %w", os.DevNull, err)
		}
		defer devnull.Close()

		cmd := exec.Command(exe, os.Args[1:]...)
		cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
		cmd.Stdin = devnull
		cmd.Stdout = devnull
		cmd.Stderr = devnull
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			return false, nil, fmt.Errorf("daemonize re-exec: %w", err)
		}
		return false, nil, nil
	}

	if err := os.Chdir("/"); err != nil {
		return true, nil, fmt.Errorf("chdir /: %w", err)
	}
	syscall.Umask(0)

	cleanup, err = AcquireLock(lockPath)
	if err != nil {
		return true, nil, err
	}
	return true, cleanup, nil
}

// AcquireLock takes the single-instance advisory lock of §4.1 on lockPath,
// independent of daemonization: both the detached daemon and a
// --foreground run must refuse to start a second instance against the same
// append-log/lock path. Returns ErrAlreadyRunning if another instance
// already holds it.
func AcquireLock(lockPath string) (cleanup func(), err error) {
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return func() { fl.Unlock() }, nil
}

// Listen creates the TCP listening socket of §4.1/§6.2 directly via
// golang.org/x/sys/unix so SO_REUSEADDR and an explicit backlog of 10 are
// set exactly as specified — net.Listen alone leaves the backlog to the OS
// default and offers no portable SO_REUSEADDR knob. port 0 binds an
// ephemeral port, useful for tests.
func Listen(port int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, 10); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), "yashd-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("FileListener: %w", err)
	}
	return ln, nil
}

// Pool is the fixed-capacity worker tracker of §3's "Worker pool": active
// count guarded by a mutex, incremented before a worker spawns and
// decremented by the worker itself on exit.
type Pool struct {
	mu       sync.Mutex
	count    int
	capacity int
}

// NewPool returns a Pool with the given capacity (yashd's default
// configuration uses 10).
func NewPool(capacity int) *Pool {
	return &Pool{capacity: capacity}
}

// TryAcquire reports whether a new worker may be spawned, incrementing the
// count under the lock if so.
func (p *Pool) TryAcquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count >= p.capacity {
		return false
	}
	p.count++
	return true
}

// Release decrements the active count. Callers must call it exactly once
// per successful TryAcquire, from the worker itself at exit.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count > 0 {
		p.count--
	}
}

// Count returns the current number of active workers.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
