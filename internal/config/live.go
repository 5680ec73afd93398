package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
)

const reloadDebounce = 200 * time.Millisecond

// Live is an Accessor whose snapshot can be replaced while the pipeline runs.
type Live struct {
	current atomic.Pointer[Pipeline]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLive(initial Pipeline, logger *zap.Logger, m *metrics.Metrics) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Live{logger: logger, metrics: m}
	l.Store(initial)
	return l
}

func (l *Live) Current() Pipeline {
	return *l.current.Load()
}

func (l *Live) Store(p Pipeline) {
	l.current.Store(&p)
}

// Watch reloads the dotenv file at path whenever it changes and swaps in the
// new pipeline settings. Invalid files are logged and leave the current
// snapshot in place. Watch blocks until ctx is done.
func (l *Live) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file by rename are seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	l.logger.Info("watching config file", zap.String("path", abs))

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("config watcher error", zap.Error(err))
		case <-debounce.C:
			l.reload(abs)
		}
	}
}

func (l *Live) reload(path string) {
	values, err := godotenv.Read(path)
	if err != nil {
		l.metrics.ConfigReloaded(false)
		l.logger.Warn("failed to read config file", zap.String("path", path), zap.Error(err))
		return
	}

	s, err := load(overlay(values))
	if err != nil {
		l.metrics.ConfigReloaded(false)
		l.logger.Warn("rejected config reload", zap.String("path", path), zap.Error(err))
		return
	}

	p := s.Pipeline()
	l.Store(p)
	l.metrics.ConfigReloaded(true)
	l.logger.Info("pipeline config reloaded",
		zap.Int("max_concurrency", p.MaxConcurrency),
		zap.Duration("backend_timeout", p.BackendTimeout),
		zap.String("sensitivity", string(p.Sensitivity)),
	)
}
