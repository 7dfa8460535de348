// yashd is the networked remote-shell daemon. It accepts TCP clients, hands
// each to the connection supervisor's bounded worker pool, and bridges a
// PTY-bound shell to every session.
//
// Usage:
//
//	yashd [--config <path>] [--foreground]
//
// yashd re-execs itself in two hidden modes it should never be invoked with
// directly: the daemonization handoff (internal/supervisor.Daemonize) and
// the per-session shell child (internal/bridge.ShellChildFlag).
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alphabravo/yashd/internal/bridge"
	"github.com/alphabravo/yashd/internal/config"
	"github.com/alphabravo/yashd/internal/rlog"
	"github.com/alphabravo/yashd/internal/shell"
	"github.com/alphabravo/yashd/internal/supervisor"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == bridge.ShellChildFlag {
		os.Exit(runShellChild())
	}

	configPath := flag.String("config", "", "path to yashd's YAML config file")
	foreground := flag.Bool("foreground", false, "skip daemonization and run in the foreground (for development)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger, err := rlog.New(os.Stderr, slog.LevelInfo, cfg.Syslog)
	if err != nil {
		slog.Error("logger init failed", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if *foreground {
		cleanup, err := supervisor.AcquireLock(cfg.AppendLogPath)
		if err != nil {
			if err == supervisor.ErrAlreadyRunning {
				os.Exit(0)
			}
			logger.Error("lock acquisition failed", "err", err)
			os.Exit(1)
		}
		defer cleanup()
	} else {
		detached, cleanup, err := supervisor.Daemonize(cfg.AppendLogPath)
		if err != nil {
			if err == supervisor.ErrAlreadyRunning {
				os.Exit(0)
			}
			logger.Error("daemonize failed", "err", err)
			os.Exit(1)
		}
		if !detached {
			// This is the original foreground invocation; the detached
			// re-exec is now running independently. Exit with success,
			// mirroring "parent exits" in the original fork().
			os.Exit(0)
		}
		defer cleanup()
	}

	watcher, cfg, err := config.WatchFile(*configPath, func(updated config.Config) {
		logger.Info("config reloaded", "port", updated.Port, "max_connections", updated.MaxConns)
	})
	if err != nil {
		logger.Error("config watch failed", "err", err)
		os.Exit(1)
	}
	defer watcher.Close()

	ln, err := supervisor.Listen(cfg.Port)
	if err != nil {
		logger.Error("listen failed", "port", cfg.Port, "err", err)
		os.Exit(1)
	}

	exePath, err := os.Executable()
	if err != nil {
		logger.Error("resolve executable failed", "err", err)
		os.Exit(1)
	}

	pool := supervisor.NewPool(cfg.MaxConns)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		ln.Close()
	}()

	logger.Info("yashd listening", "port", cfg.Port, "max_connections", cfg.MaxConns)
	if err := supervisor.Serve(ln, pool, logger, exePath, cfg.AppendLogPath); err != nil {
		logger.Error("serve failed", "err", err)
		os.Exit(1)
	}
}

// runShellChild is the re-exec'd shell entrypoint launched by
// internal/bridge in place of the original's forked child: its stdio is
// already the PTY slave (pty.Start wired it that way), and fd 3 is the
// focus-reporting pipe the bridge reads to learn the current foreground
// process group for CTL c/CTL z delivery.
func runShellChild() int {
	focusPipe := os.NewFile(uintptr(bridge.FocusPipeFD), "focus")
	s := shell.New(os.Stdin, os.Stdout, focusPipe)
	if err := s.Run(); err != nil {
		return 1
	}
	return 0
}
