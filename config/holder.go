package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay coalesces the burst of events editors emit for one save.
const reloadDelay = 100 * time.Millisecond

// Holder keeps the live configuration and reloads it from disk on file
// changes or SIGHUP. A reload that fails validation keeps the previous
// configuration.
type Holder struct {
	current atomic.Pointer[Config]
	path    string
	logger  zerolog.Logger

	mu       sync.Mutex // guards listeners, watcher and timer
	onChange []func(*Config)
	onError  []func(error)
	watcher  *fsnotify.Watcher
	timer    *time.Timer

	reloadMu sync.Mutex // serializes Reload
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	h := &Holder{
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	h.current.Store(cfg)
	return h, nil
}

// Get returns the current configuration. Callers must not modify it.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// OnChange registers fn to receive every accepted configuration that
// differs from the previous one.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers fn to receive reload failures.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// Reload reads the file again. On error the previous config stays active.
func (h *Holder) Reload() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	next, err := Load(h.path)
	if err != nil {
		err = fmt.Errorf("reload config: %w", err)
		for _, fn := range h.listeners().onError {
			fn(err)
		}
		return err
	}

	prev := h.current.Swap(next)
	diff := Compare(prev, next)
	if diff.Empty() {
		h.logger.Debug().Str("path", h.path).Msg("config file saved without changes")
		return nil
	}
	h.logDiff(diff)

	for _, fn := range h.listeners().onChange {
		fn(next)
	}
	return nil
}

type listenerSet struct {
	onChange []func(*Config)
	onError  []func(error)
}

func (h *Holder) listeners() listenerSet {
	h.mu.Lock()
	defer h.mu.Unlock()
	return listenerSet{onChange: slices.Clone(h.onChange), onError: slices.Clone(h.onError)}
}

// WatchFile reloads whenever the config file is written or replaced.
// The parent directory is watched so atomic saves are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	h.mu.Lock()
	h.watcher = watcher
	h.mu.Unlock()

	go h.watchLoop(watcher)
	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.schedule("SIGHUP")
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. Safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.timer != nil {
			h.timer.Stop()
		}
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.schedule("file " + ev.Op.String())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		case <-h.stopCh:
			return
		}
	}
}

// schedule runs Reload once the trigger has been quiet for reloadDelay.
func (h *Holder) schedule(trigger string) {
	select {
	case <-h.stopCh:
		return
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(reloadDelay, func() {
		h.logger.Info().Str("trigger", trigger).Msg("reloading configuration")
		if err := h.Reload(); err != nil {
			h.logger.Error().Err(err).Msg("config reload failed, keeping previous config")
		}
	})
}

func (h *Holder) logDiff(d Diff) {
	ev := h.logger.Info().Str("path", h.path)
	if d.LogLevel {
		ev = ev.Bool("log_level", true)
	}
	if len(d.Tiers) > 0 {
		ev = ev.Strs("tiers", d.Tiers)
	}
	if d.BypassPaths {
		ev = ev.Bool("bypass_paths", true)
	}
	ev.Msg("configuration reloaded")

	if len(d.RestartRequired) > 0 {
		h.logger.Warn().Strs("sections", d.RestartRequired).Msg("changed sections take effect after a restart")
	}
}

// Diff lists what changed between two configurations.
type Diff struct {
	// Applied live.
	LogLevel    bool
	Tiers       []string
	BypassPaths bool

	// RestartRequired names changed sections that are only read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.LogLevel && len(d.Tiers) == 0 && !d.BypassPaths && len(d.RestartRequired) == 0
}

// Compare returns the difference between old and next.
func Compare(prev, next *Config) Diff {
	var d Diff
	d.LogLevel = prev.Logging.Level != next.Logging.Level
	d.BypassPaths = !slices.Equal(prev.RateLimit.BypassPaths, next.RateLimit.BypassPaths)

	for name, r := range next.RateLimit.Tiers {
		if prev, ok := prev.RateLimit.Tiers[name]; !ok || prev != r {
			d.Tiers = append(d.Tiers, name)
		}
	}
	for name := range prev.RateLimit.Tiers {
		if _, ok := next.RateLimit.Tiers[name]; !ok {
			d.Tiers = append(d.Tiers, name)
		}
	}
	sort.Strings(d.Tiers)

	restart := []struct {
		name    string
		changed bool
	}{
		{"server", prev.Server != next.Server},
		{"logging.format", prev.Logging.Format != next.Logging.Format},
		{"rate_limit.key", prev.RateLimit.KeyHeader != next.RateLimit.KeyHeader || prev.RateLimit.TrustForwardedFor != next.RateLimit.TrustForwardedFor},
		{"breaker", prev.Breaker != next.Breaker},
		{"upstreams", !slices.Equal(prev.Upstreams, next.Upstreams)},
		{"routes", !slices.EqualFunc(prev.Routes, next.Routes, routeEqual)},
		{"audit", prev.Audit != next.Audit},
		{"stats", prev.Stats != next.Stats},
		{"admin", prev.Admin != next.Admin},
		{"auth", prev.Auth != next.Auth},
		{"metrics", prev.Metrics != next.Metrics},
	}
	for _, s := range restart {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

func routeEqual(a, b RouteConfig) bool {
	return a.Path == b.Path && a.Upstream == b.Upstream && a.Tier == b.Tier &&
		a.AuditAction == b.AuditAction && a.StripPrefix == b.StripPrefix &&
		slices.Equal(a.Methods, b.Methods)
}
