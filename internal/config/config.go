// Package config loads the daemon's YAML configuration, with built-in
// defaults so yashd runs with zero configuration, and watches the file for
// changes, handing each reloaded Config to a callback. yashd's callback only
// logs the reload: a running daemon keeps the port, pool size and log path
// it started with.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon's tunable settings, per §4.1/§6.2/§6.3.
type Config struct {
	Port          int    `yaml:"port"`
	MaxConns      int    `yaml:"max_connections"`
	AppendLogPath string `yaml:"append_log_path"`
	Syslog        bool   `yaml:"syslog"`
}

// Default returns the built-in configuration yashd ships with: fixed
// port, worker pool of 10, append-log at /tmp/yashd.log.
func Default() Config {
	return Config{
		Port:          3822,
		MaxConns:      10,
		AppendLogPath: "/tmp/yashd.log",
		Syslog:        true,
	}
}

// Load reads path and overlays it onto Default(). A missing file is not an
// error — the daemon runs on defaults, matching the "runs with zero
// configuration" requirement.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Watcher hot-reloads a config file, notifying subscribers of each
// successfully parsed update. Grounded in davidolrik-overseer's fsnotify
// dependency (used there for SSH config changes); here it watches yashd's
// own YAML file.
type Watcher struct {
	mu      sync.Mutex
	current Config
	watcher *fsnotify.Watcher
}

// WatchFile starts watching path for changes, calling onChange with each
// successfully reloaded Config. It returns the Watcher (Close stops it) and
// the initially loaded Config. If path cannot be watched (for example, it
// does not exist yet), the Watcher holds the initial Config and no later
// change to path is picked up.
func WatchFile(path string, onChange func(Config)) (*Watcher, Config, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, Config{}, err
	}

	w := &Watcher{current: initial}
	if path == "" {
		return w, initial, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, Config{}, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		// Watching is a convenience; a daemon with no config file yet
		// should still start on defaults rather than fail to boot.
		return w, initial, nil
	}
	w.watcher = fw

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				w.mu.Lock()
				w.current = cfg
				w.mu.Unlock()
				if onChange != nil {
					onChange(cfg)
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w, initial, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops the underlying fsnotify watcher, if one was started.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
