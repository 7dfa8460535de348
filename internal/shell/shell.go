// Package shell implements the command interpreter that runs inside the PTY
// child: prompt-read-parse-dispatch, the jobs/fg/bg builtins, and the signal
// router that turns SIGINT/SIGTSTP/SIGCHLD into job-table updates and
// forwarded signals. It is designed to run as its own OS process (the
// bridge re-execs the daemon binary into this mode) so that process groups,
// waitpid, and the PTY slave as controlling terminal all behave the way the
// original forked child relied on.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/alphabravo/yashd/internal/job"
	"github.com/alphabravo/yashd/internal/parse"
	"github.com/alphabravo/yashd/internal/shexec"
)

// noFocus is the sentinel foreground-focus value meaning "the shell itself",
// per §3's "Foreground focus" field.
const noFocus = -1

// Shell is one interactive session's interpreter state. It is not safe for
// concurrent use by more than one goroutine driving Run, but the signal
// router goroutines it starts internally synchronize on mu like any other
// caller — Go gives us ordinary mutexes in place of the original's
// block-signals-around-mutation discipline, since our "signal handler" is a
// regular goroutine rather than an async-signal context.
type Shell struct {
	mu          sync.Mutex
	jobs        *job.Table
	currentLine string

	focusPGID atomic.Int32 // current foreground pgid, or noFocus

	// focusPipe, if non-nil, receives the foreground pgid (ASCII,
	// newline-terminated) every time it changes, so the bridge process can
	// deliver CTL c/CTL z via kill(-pgid, …) without the PTY's line
	// discipline being involved.
	focusPipe *os.File

	in  *bufio.Reader
	out io.Writer
}

// New constructs a Shell reading commands from in and writing prompts and
// output to out. focusPipe may be nil (e.g. in tests exercising the loop
// without a bridge on the other end).
func New(in io.Reader, out io.Writer, focusPipe *os.File) *Shell {
	s := &Shell{
		jobs:      job.New(),
		in:        bufio.NewReader(in),
		out:       out,
		focusPipe: focusPipe,
	}
	s.focusPGID.Store(noFocus)
	return s
}

// Run installs the signal router and executes the prompt-read-dispatch loop
// until the input stream reaches EOF, per §4.6.
func (s *Shell) Run() error {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTSTP, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go s.routeSignals(sigCh, done)

	for {
		fmt.Fprint(s.out, "# ")
		line, err := s.in.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil
			}
			if err != io.EOF {
				return nil
			}
		}
		s.currentLine = trimNewline(line)
		s.dispatch(s.currentLine)
	}
}

func trimNewline(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// routeSignals is the signal router of §4.5: it forwards interrupt/suspend
// to the current foreground group and reaps exited children non-blockingly.
func (s *Shell) routeSignals(sigCh <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT:
				s.forwardToForeground(syscall.SIGINT)
			case syscall.SIGTSTP:
				s.forwardToForeground(syscall.SIGTSTP)
			case syscall.SIGCHLD:
				s.reapChildren()
			}
		}
	}
}

func (s *Shell) forwardToForeground(sig syscall.Signal) {
	pgid := int(s.focusPGID.Load())
	if pgid == noFocus {
		return
	}
	_ = shexec.Signal(pgid, sig)
}

// reapChildren drains all currently-reapable children with WNOHANG, removing
// finished jobs from the table. It never blocks, matching the "non-blocking
// reap any number of children" requirement.
func (s *Shell) reapChildren() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		if ws.Exited() || ws.Signaled() {
			s.jobs.Remove(pid)
		}
	}
}

// setFocus updates the foreground-focus variable and, if a side-channel
// pipe is attached, reports the new value to the bridge.
func (s *Shell) setFocus(pgid int) {
	s.focusPGID.Store(int32(pgid))
	if s.focusPipe != nil {
		fmt.Fprintf(s.focusPipe, "%d\n", pgid)
	}
}

// dispatch implements §4.6 step 3: builtin prefix matches, then background/
// pipe/redirection/simple routing.
func (s *Shell) dispatch(line string) {
	switch {
	case line == "jobs":
		s.builtinJobs()
		return
	case hasPrefix(line, "fg"):
		s.builtinFg()
		return
	case hasPrefix(line, "bg"):
		s.builtinBg()
		return
	}

	// commandText is the line with its background marker removed, for job
	// registration and announcement — the original strips '&' before
	// storing current_command_line, so the printed job text never carries
	// a trailing "&" of its own.
	commandText, _ := parse.StripBackground(line)

	cmd := parse.Parse(line)
	if len(cmd.Left) == 0 {
		return
	}

	if cmd.Right != nil {
		s.runPipe(cmd, commandText)
		return
	}
	s.runSimple(cmd, commandText)
}

func hasPrefix(line, prefix string) bool {
	return len(line) >= len(prefix) && line[:len(prefix)] == prefix
}

func (s *Shell) runSimple(cmd parse.Command, commandText string) {
	args, redir := parse.ExtractRedirections(cmd.Left)
	if len(args) == 0 {
		return
	}
	h, err := shexec.StartSimple(args, redir)
	if err != nil {
		fmt.Fprintf(s.out, "%s: %v\n", args[0], err)
		return
	}
	s.afterStart(h, cmd.Background, commandText)
}

func (s *Shell) runPipe(cmd parse.Command, commandText string) {
	leftArgs, leftRedir := parse.ExtractRedirections(cmd.Left)
	rightArgs, rightRedir := parse.ExtractRedirections(cmd.Right)
	h, err := shexec.StartPipe(leftArgs, rightArgs, leftRedir, rightRedir)
	if err != nil {
		fmt.Fprintf(s.out, "pipe: %v\n", err)
		return
	}
	s.afterStart(h, cmd.Background, commandText)
}

// afterStart either registers a background job and returns, or waits for a
// foreground job with the focus set, per §4.4's "either register a job and
// return (background) or set the foreground focus … wait … clear the focus"
// rule. A foreground job enters the table only if the wait reports a stop.
func (s *Shell) afterStart(h *shexec.Handle, background bool, commandLine string) {
	if background {
		s.mu.Lock()
		j, err := s.jobs.Add(h.PGID, commandLine, job.Running)
		s.mu.Unlock()
		if err != nil {
			fmt.Fprintf(s.out, "yashd: %v\n", err)
			return
		}
		fmt.Fprintf(s.out, "[%d] %d %s &\n", j.ID, j.PGID, commandLine)
		return
	}

	s.setFocus(h.PGID)
	res, err := h.Wait()
	s.setFocus(noFocus)
	if err != nil {
		fmt.Fprintf(s.out, "yashd: %v\n", err)
		return
	}

	if res.Stopped {
		s.mu.Lock()
		j, addErr := s.jobs.Add(h.PGID, commandLine, job.Suspended)
		if addErr == nil {
			s.jobs.Push(j.PGID)
		}
		s.mu.Unlock()
		return
	}
	// Foreground job completed; nothing was ever registered for it, so
	// there is nothing to remove (only background/suspended jobs occupy
	// table slots at all once they're done being waited on inline).
}

func (s *Shell) builtinJobs() {
	s.mu.Lock()
	lines := s.jobs.FormatList()
	s.mu.Unlock()
	for _, l := range lines {
		fmt.Fprintln(s.out, l)
	}
}

// builtinFg implements §4.5's `fg`: continue the current suspended job and
// wait on it in the foreground, reporting a new stop or removing it on exit.
func (s *Shell) builtinFg() {
	s.mu.Lock()
	pgid := s.jobs.Peek()
	s.mu.Unlock()
	if pgid == -1 {
		fmt.Fprintln(s.out, "fg: no current job")
		return
	}

	s.mu.Lock()
	j := s.jobs.Find(pgid)
	s.mu.Unlock()
	cmdText := ""
	if j != nil {
		cmdText = j.Command
	}
	fmt.Fprintf(s.out, "[%d] continued %s\n", jobIDOrZero(j), cmdText)

	if err := shexec.Continue(pgid); err != nil {
		fmt.Fprintf(s.out, "fg: %v\n", err)
		return
	}

	// Pop the now-foregrounded job off the suspended stack but keep its
	// table entry (and id) in place, rather than removing and re-adding it:
	// fg_command mutates current->status in place and only calls
	// remove_job if the job actually exits.
	s.mu.Lock()
	s.jobs.Pop()
	if j != nil {
		j.Status = job.Running
	}
	s.mu.Unlock()

	s.setFocus(pgid)
	res, err := waitForeground(pgid)
	s.setFocus(noFocus)
	if err != nil {
		fmt.Fprintf(s.out, "fg: %v\n", err)
		return
	}

	s.mu.Lock()
	if res.Stopped {
		if j != nil {
			j.Status = job.Suspended
		}
		s.jobs.Push(pgid)
	} else {
		s.jobs.Remove(pgid)
	}
	s.mu.Unlock()
}

// builtinBg implements §4.5's `bg`: continue the current suspended job
// without waiting, re-registering it as Running.
func (s *Shell) builtinBg() {
	s.mu.Lock()
	pgid := s.jobs.Pop()
	s.mu.Unlock()
	if pgid == -1 {
		fmt.Fprintln(s.out, "bg: no current job")
		return
	}

	s.mu.Lock()
	j := s.jobs.Find(pgid)
	s.mu.Unlock()
	cmdText := ""
	if j != nil {
		cmdText = j.Command
	}

	if err := shexec.Continue(pgid); err != nil {
		fmt.Fprintf(s.out, "bg: %v\n", err)
		return
	}

	s.mu.Lock()
	if j != nil {
		j.Status = job.Running
	}
	s.mu.Unlock()

	fmt.Fprintf(s.out, "[%d] %s &\n", jobIDOrZero(j), cmdText)
}

func jobIDOrZero(j *job.Job) int {
	if j == nil {
		return 0
	}
	return j.ID
}

// waitForeground blocks on pgid exactly like Handle.Wait, for the fg
// builtin's re-attach to a job whose Handle no longer exists in this
// process's memory (it was registered, suspended, and looked back up by
// pgid alone).
func waitForeground(pgid int) (shexec.WaitResult, error) {
	h := &shexec.Handle{PGID: pgid}
	return h.Wait()
}

