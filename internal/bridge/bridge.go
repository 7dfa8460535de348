// Package bridge implements the per-client PTY bridge of §4.2: allocate a
// PTY pair, launch the shell as a re-exec'd child bound to the slave side,
// and multiplex bytes between the client socket and the PTY master while
// decoding the wire protocol's control messages.
//
// Go cannot fork() mid-runtime the way the original's forkpty-based
// handle_client does, so the shell child is a fresh process: the daemon
// binary re-exec's itself with a hidden flag (see cmd/yashd), and
// pty.Start wires that child's stdio to the PTY slave exactly as
// GandalftheGUI-grove/internal/daemon/instance.go wires its agent process.
package bridge

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"

	"github.com/alphabravo/yashd/internal/rlog"
	"github.com/alphabravo/yashd/internal/wire"
)

// ShellChildFlag is the hidden re-exec marker the daemon binary recognizes
// as "become the shell child" instead of "run the supervisor". It lives
// here (rather than in cmd/yashd) so the bridge that constructs the re-exec
// command and the main() that interprets it agree on the same literal.
const ShellChildFlag = "--yashd-shell-child"

// FocusPipeFD is the file descriptor, inside the re-exec'd shell child, of
// the pipe it writes its current foreground pgid to. ExtraFiles[0] always
// lands at fd 3 in the child (0, 1, 2 are the inherited PTY-slave stdio).
const FocusPipeFD = 3

const (
	socketReadBuf = 1024
	masterReadBuf = 1023
)

// noFocus mirrors the shell package's sentinel; the bridge only needs to
// know "is there a foreground job to signal", not the shell's internal type.
const noFocus = -1

// Session is one client's PTY bridge worker: owns the client connection,
// the shell child process, and the PTY master for the session's lifetime.
type Session struct {
	conn   net.Conn
	ptmx   *os.File
	cmd    *exec.Cmd
	focusR *os.File

	focusPGID atomic.Int64

	peerIP   string
	peerPort int
	logPath  string
}

// New allocates a PTY, launches the shell child bound to its slave side,
// and returns a Session ready to Run. exePath is the daemon binary's own
// path (os.Executable()), re-exec'd into shell-child mode.
func New(conn net.Conn, exePath, logPath string) (*Session, error) {
	cmd := exec.Command(exePath, ShellChildFlag)
	return newWithCommand(conn, cmd, logPath)
}

// newWithCommand does the PTY/focus-pipe wiring shared by New and tests:
// tests substitute an arbitrary *exec.Cmd (e.g. "cat") to exercise the
// multiplex loop without depending on the daemon binary's own re-exec path.
func newWithCommand(conn net.Conn, cmd *exec.Cmd, logPath string) (*Session, error) {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	focusR, focusW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("focus pipe: %w", err)
	}

	cmd.ExtraFiles = append(cmd.ExtraFiles, focusW)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	focusW.Close() // the child keeps its own copy; the parent's is unneeded
	if err != nil {
		focusR.Close()
		return nil, fmt.Errorf("pty.Start: %w", err)
	}

	s := &Session{
		conn:     conn,
		ptmx:     ptmx,
		cmd:      cmd,
		focusR:   focusR,
		peerIP:   host,
		peerPort: port,
		logPath:  logPath,
	}
	s.focusPGID.Store(noFocus)
	return s, nil
}

// Run enters the multiplex loop of §4.2 and blocks until the session ends.
// The caller is responsible for decrementing the worker pool's count once
// Run returns.
func (s *Session) Run() {
	defer s.close()

	go s.readFocusUpdates()

	socketCh := make(chan []byte)
	socketErrCh := make(chan error, 1)
	go s.readLoop(s.conn, socketReadBuf, socketCh, socketErrCh)

	masterCh := make(chan []byte)
	masterErrCh := make(chan error, 1)
	go s.readLoop(s.ptmx, masterReadBuf, masterCh, masterErrCh)

	for {
		select {
		case chunk := <-socketCh:
			if !s.handleSocketChunk(chunk) {
				return
			}
		case <-socketErrCh:
			return
		case chunk := <-masterCh:
			if _, err := s.conn.Write(chunk); err != nil {
				return
			}
		case <-masterErrCh:
			return
		}
	}
}

// readLoop performs blocking reads on r, forwarding each chunk on ch. It
// models the "two blocking reads feeding a select" translation of the
// original's single-threaded readiness-selection loop — Go has no select()
// over arbitrary io.Readers, so each side gets its own goroutine and the
// cooperative dispatch happens in Run's select instead.
func (s *Session) readLoop(r io.Reader, bufSize int, ch chan<- []byte, errCh chan<- error) {
	buf := make([]byte, bufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ch <- chunk
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

// handleSocketChunk decodes one chunk of client traffic per §6.1 and
// returns false when the session should end.
func (s *Session) handleSocketChunk(chunk []byte) bool {
	msg := wire.Parse(string(chunk))

	switch msg.Kind {
	case wire.EOF:
		return false
	case wire.CtlInterrupt:
		s.signalForeground(syscall.SIGINT)
		return true
	case wire.CtlSuspend:
		s.signalForeground(syscall.SIGTSTP)
		return true
	case wire.Cmd:
		s.logPayload(msg.Payload)
		s.ptmx.Write([]byte(msg.Payload))
		return true
	default: // wire.Raw
		s.logPayload(msg.Payload)
		s.ptmx.Write([]byte(msg.Payload))
		return true
	}
}

func (s *Session) logPayload(payload string) {
	if s.logPath == "" {
		return
	}
	if err := rlog.AppendLog(s.logPath, s.peerIP, s.peerPort, trimTrailingNewline(payload)); err != nil {
		// Logging failures are not fatal to the session; the append-log is
		// best-effort bookkeeping, not a correctness requirement of the
		// multiplex loop.
		return
	}
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		return s[:len(s)-1]
	}
	return s
}

// signalForeground delivers sig to the shell's current foreground process
// group. The control bytes are never written to the PTY master (a raw-mode
// PTY's line discipline would not reliably turn them into signals); instead
// the bridge issues kill(-pgid, sig) directly, using the pgid most recently
// reported over the focus side-channel.
func (s *Session) signalForeground(sig syscall.Signal) {
	pgid := int(s.focusPGID.Load())
	if pgid == noFocus {
		return
	}
	syscall.Kill(-pgid, sig)
}

// readFocusUpdates drains the shell child's foreground-pgid side channel,
// keeping focusPGID current so signalForeground always targets the right
// process group without the bridge ever parsing shell state itself.
func (s *Session) readFocusUpdates() {
	buf := make([]byte, 32)
	var partial []byte
	for {
		n, err := s.focusR.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			for {
				idx := indexByte(partial, '\n')
				if idx < 0 {
					break
				}
				line := string(partial[:idx])
				partial = partial[idx+1:]
				var pgid int64
				if _, scanErr := fmt.Sscanf(line, "%d", &pgid); scanErr == nil {
					s.focusPGID.Store(pgid)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// close releases the session's PTY and socket. The shell child itself is
// left for the operating system to reap, per §4.2's "the bridge does not
// explicitly wait" rule — closing the master produces a hang-up on the
// child's controlling terminal, which is its clean shutdown signal.
func (s *Session) close() {
	s.conn.Close()
	s.ptmx.Close()
	s.focusR.Close()
}
