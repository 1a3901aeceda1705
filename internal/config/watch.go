package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 250 * time.Millisecond

// Watch 监听配置文件变化，解析成功后调用 apply。
// It watches the parent directory so editors that replace the file via rename
// are still seen. Blocks until ctx is done.
func Watch(ctx context.Context, path string, log zerolog.Logger, apply func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
		last  []byte
	)
	if data, err := os.ReadFile(path); err == nil {
		last = data
	}

	reload := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("config read failed")
			return
		}
		mu.Lock()
		unchanged := bytes.Equal(data, last)
		mu.Unlock()
		if unchanged {
			log.Debug().Str("path", path).Msg("config unchanged; skipping reload")
			return
		}

		cfg, err := Load(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("config rejected")
			return
		}
		mu.Lock()
		last = data
		mu.Unlock()

		log.Info().Str("path", path).Msg("config reloaded")
		apply(cfg)
	}

	debounce := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	log.Debug().Str("dir", dir).Str("file", file).Msg("config watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", dir).Msg("config watch error")
		}
	}
}
