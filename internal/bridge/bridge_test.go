package bridge

import (
	"net"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEchoesThroughPTY(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess, err := newWithCommand(serverConn, exec.Command("cat"), "")
	require.NoError(t, err)
	go sess.Run()

	require.NoError(t, clientConn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = clientConn.Write([]byte("CMD hello\n"))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "hello")
}

func TestSessionEndsOnEOFMessage(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess, err := newWithCommand(serverConn, exec.Command("cat"), "")
	require.NoError(t, err)
	runDone := make(chan struct{})
	go func() {
		sess.Run()
		close(runDone)
	}()

	require.NoError(t, clientConn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = clientConn.Write([]byte("EOF\n"))
	require.NoError(t, err)

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after EOF")
	}
}

func TestFocusUpdatesTrackMostRecentPGID(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	s := &Session{focusR: r}
	s.focusPGID.Store(noFocus)
	go s.readFocusUpdates()

	_, err = w.Write([]byte("123\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.focusPGID.Load() == 123
	}, 2*time.Second, 10*time.Millisecond)

	_, err = w.Write([]byte("-1\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.focusPGID.Load() == -1
	}, 2*time.Second, 10*time.Millisecond)

	w.Close()
}

func TestSignalForegroundNoopWithoutFocus(t *testing.T) {
	s := &Session{}
	s.focusPGID.Store(noFocus)
	// Should not panic or attempt to signal anything with no foreground job.
	s.signalForeground(syscall.SIGINT)
}
