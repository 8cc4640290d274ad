// Package file provides file-based configuration with hot-reload.
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phishlab/simgen-gateway/internal/pkg/config"
)

// DefaultDebounce coalesces the burst of events a single save produces.
const DefaultDebounce = 100 * time.Millisecond

// Provider loads gateway configuration from a YAML file. Environment
// overrides are applied on every load.
//
// Watch observes the file's directory rather than the file, so saves that
// replace the file by rename (editors, mounted ConfigMaps) are picked up.
type Provider struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	current *config.Config
}

// NewProvider creates a provider for path.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &Provider{path: abs, logger: logger, debounce: DefaultDebounce}, nil
}

// Path returns the absolute path of the configuration file.
func (p *Provider) Path() string {
	return p.path
}

// Load reads and validates the configuration and makes it current.
func (p *Provider) Load(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(p.path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.current = cfg
	p.mu.Unlock()

	p.logger.Info("config loaded", slog.String("path", p.path))
	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (p *Provider) Current() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch calls onChange after the file settles following a change. A file
// that fails to load or validate is logged and skipped; the previous
// configuration stays current. Watching stops when ctx is done or Close is
// called.
func (p *Provider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("watch %s: %w", p.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	p.logger.Info("watching config file for changes", slog.String("path", p.path))

	go p.loop(ctx, watcher, onChange)
	return nil
}

func (p *Provider) loop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(*config.Config)) {
	defer watcher.Close()

	// timer is created stopped; each relevant event pushes the reload out.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("config watch stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(p.debounce)

		case <-timer.C:
			if _, err := os.Stat(p.path); err != nil {
				p.logger.Warn("config file missing after change, keeping previous", slog.String("path", p.path))
				continue
			}
			p.logger.Info("config file changed, reloading", slog.String("path", p.path))
			cfg, err := p.Load(ctx)
			if err != nil {
				p.logger.Error("failed to reload config, keeping previous",
					slog.String("error", err.Error()),
					slog.String("path", p.path))
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watch error", slog.String("error", err.Error()))
		}
	}
}

// Close stops watching the config file.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}
