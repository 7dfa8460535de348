package supervisor

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRespectsCapacity(t *testing.T) {
	p := NewPool(2)
	assert.True(t, p.TryAcquire())
	assert.True(t, p.TryAcquire())
	assert.False(t, p.TryAcquire())
	assert.Equal(t, 2, p.Count())

	p.Release()
	assert.Equal(t, 1, p.Count())
	assert.True(t, p.TryAcquire())
}

func TestPoolReleaseNeverGoesNegative(t *testing.T) {
	p := NewPool(1)
	p.Release()
	assert.Equal(t, 0, p.Count())
}

func TestListenAcceptsConnections(t *testing.T) {
	ln, err := Listen(0)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().String()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the connection")
	}
}

func TestServeRejectsEleventhConnection(t *testing.T) {
	ln, err := Listen(0)
	require.NoError(t, err)
	defer ln.Close()

	pool := NewPool(1)
	pool.TryAcquire() // fill the only slot so the next accept is rejected

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	go Serve(ln, pool, logger, "/bin/true", "")

	client, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8)
	_, err = client.Read(buf)
	assert.Error(t, err) // connection closed immediately, no data ever sent
}

func TestDaemonizeDetachedAcquiresLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "yashd.lock")

	// Daemonize chdir's to "/" on the detached branch, which is process-wide
	// state; restore the test binary's original cwd afterward so later tests
	// that rely on relative paths are unaffected.
	origWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(origWD) })

	t.Setenv(daemonizedEnv, "1")
	detached, cleanup, err := Daemonize(lockPath)
	require.NoError(t, err)
	assert.True(t, detached)
	require.NotNil(t, cleanup)
	defer cleanup()

	_, _, err = Daemonize(lockPath)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
