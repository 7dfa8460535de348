// Package shexec forks and execs user commands: single commands with
// optional redirection, and two-stage pipelines. It mirrors the process-group
// and wait semantics of the original ysh executor (fork, setpgid, redirect,
// exec; synchronous wait with stop-reporting for foreground commands).
package shexec

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/alphabravo/yashd/internal/parse"
)

// Handle is a running (or exited) child process or pipeline leader.
type Handle struct {
	Cmd  *exec.Cmd
	PGID int

	// rightPID is set for pipelines: the trailing stage's pid, reaped
	// alongside the leader on a foreground Wait. Zero for single commands.
	rightPID int
}

// WaitResult reports how a foreground wait concluded.
type WaitResult struct {
	Stopped  bool
	ExitCode int
}

// openRedirections opens the files named by r and returns the *os.File
// values to bind to the child's stdin/stdout. Per the resolved open
// question (DESIGN.md #1), a failed open aborts the command: the caller
// must not exec.
func openRedirections(r parse.Redirection) (stdin, stdout *os.File, err error) {
	if r.In != "" {
		stdin, err = os.Open(r.In)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open input file: %w", err)
		}
	}
	if r.Out != "" {
		stdout, err = os.OpenFile(r.Out, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			if stdin != nil {
				stdin.Close()
			}
			return nil, nil, fmt.Errorf("failed to open output file: %w", err)
		}
	}
	return stdin, stdout, nil
}

// StartSimple forks+execs a single command. The child is placed in its own
// new process group (leader = its own pid); the parent re-asserts that
// group membership to close the classic setpgid race against a wait() that
// might run before the child's own setpgid call lands.
func StartSimple(args []string, r parse.Redirection) (*Handle, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	stdin, stdout, err := openRedirections(r)
	if err != nil {
		return nil, err
	}
	defer func() {
		if stdin != nil {
			stdin.Close()
		}
		if stdout != nil {
			stdout.Close()
		}
	}()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}

	pid := cmd.Process.Pid
	_ = unix.Setpgid(pid, pid) // race-proof; child already did this itself

	return &Handle{Cmd: cmd, PGID: pid}, nil
}

// StartPipe forks+execs a two-stage pipeline: left's stdout feeds right's
// stdin. Both processes join the left process's group so a single
// kill(-pgid, …) reaches the whole pipeline. The returned Handle's PGID is
// the left child's pid: the job table registers one job using the left
// child's pid; the right child's pid travels with the Handle so a
// foreground Wait can reap it too once the left side exits.
func StartPipe(left, right []string, leftRedir, rightRedir parse.Redirection) (*Handle, error) {
	if len(left) == 0 || len(right) == 0 {
		return nil, fmt.Errorf("empty command in pipeline")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe failed: %w", err)
	}

	leftStdin, leftStdout, err := openRedirections(leftRedir)
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	rightStdin, rightStdout, err := openRedirections(rightRedir)
	if err != nil {
		pr.Close()
		pw.Close()
		if leftStdin != nil {
			leftStdin.Close()
		}
		if leftStdout != nil {
			leftStdout.Close()
		}
		return nil, err
	}
	defer func() {
		for _, f := range []*os.File{leftStdin, leftStdout, rightStdin, rightStdout} {
			if f != nil {
				f.Close()
			}
		}
	}()

	leftCmd := exec.Command(left[0], left[1:]...)
	leftCmd.Stdin = os.Stdin
	if leftStdin != nil {
		leftCmd.Stdin = leftStdin
	}
	leftCmd.Stdout = pw
	leftCmd.Stderr = os.Stderr
	if leftStdout != nil {
		leftCmd.Stdout = leftStdout // explicit redirection wins over the pipe
	}
	leftCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := leftCmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	leftPID := leftCmd.Process.Pid
	_ = unix.Setpgid(leftPID, leftPID)

	rightCmd := exec.Command(right[0], right[1:]...)
	rightCmd.Stdin = pr
	if rightStdin != nil {
		rightCmd.Stdin = rightStdin // explicit redirection wins over the pipe
	}
	rightCmd.Stdout = os.Stdout
	if rightStdout != nil {
		rightCmd.Stdout = rightStdout
	}
	rightCmd.Stderr = os.Stderr
	rightCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: leftPID}

	if err := rightCmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		leftCmd.Process.Kill()
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	_ = unix.Setpgid(rightCmd.Process.Pid, leftPID)

	// The parent holds no further use for either pipe end once both children
	// have their copies.
	pw.Close()
	pr.Close()

	return &Handle{Cmd: leftCmd, PGID: leftPID, rightPID: rightCmd.Process.Pid}, nil
}

// Wait blocks for the handle's leader process, reporting whether it stopped
// (suspended) rather than exited. It uses WUNTRACED directly via syscall.Wait4
// rather than exec.Cmd.Wait, which offers no way to observe a stop.
//
// For a pipeline handle, a stop on the leader is reported immediately
// without touching the trailing stage — job control targets the whole
// group via kill(-pgid, …), not a per-stage wait. Only once the leader has
// actually exited does Wait go on to reap the trailing stage, so a
// foreground pipeline genuinely blocks until both stages are done, per the
// "wait for both children synchronously" rule. A backgrounded pipeline never
// reaches this path; its trailing stage is reaped later by the shell's
// SIGCHLD loop.
func (h *Handle) Wait() (WaitResult, error) {
	var ws syscall.WaitStatus
	_, err := syscall.Wait4(h.PGID, &ws, syscall.WUNTRACED, nil)
	if err != nil {
		return WaitResult{}, err
	}
	if ws.Stopped() {
		return WaitResult{Stopped: true}, nil
	}

	if h.rightPID != 0 {
		var rws syscall.WaitStatus
		syscall.Wait4(h.rightPID, &rws, 0, nil)
	}

	return WaitResult{ExitCode: ws.ExitStatus()}, nil
}

// Continue resumes a stopped job by sending SIGCONT to its process group.
func Continue(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGCONT)
}

// Signal delivers sig to the process group led by pgid.
func Signal(pgid int, sig syscall.Signal) error {
	return syscall.Kill(-pgid, sig)
}
