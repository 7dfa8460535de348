package supervisor

import (
	"errors"
	"log/slog"
	"net"

	"github.com/alphabravo/yashd/internal/bridge"
)

// Serve runs the accept loop of §4.1: for each accepted connection, try to
// acquire a pool slot; if the pool is already at capacity, close the client
// immediately with no queuing (the eleventh-connection rule). Otherwise spawn
// a detached worker goroutine running the client's PTY bridge.
//
// Serve blocks until the listener is closed, at which point it returns nil.
// A transient per-accept error (e.g. the process briefly running out of file
// descriptors) is logged and the loop continues, mirroring server.c's accept
// path; only net.ErrClosed — the listener itself going away — ends Serve.
func Serve(ln net.Listener, pool *Pool, logger *slog.Logger, exePath, appendLogPath string) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed, continuing", "err", err)
			continue
		}

		if !pool.TryAcquire() {
			logger.Warn("rejecting connection: worker pool at capacity", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go func() {
			defer pool.Release()
			sess, err := bridge.New(conn, exePath, appendLogPath)
			if err != nil {
				logger.Error("bridge session setup failed", "remote", conn.RemoteAddr(), "err", err)
				conn.Close()
				return
			}
			sess.Run()
		}()
	}
}
