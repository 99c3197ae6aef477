package pump

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watch subscribes to changes of the configured files. The returned channel
// receives a wake-up for each relevant event; it never replaces the ticker.
// Without WatchPaths, or when the watcher cannot be created, the channel is
// nil and only the ticker drives the loop.
func (p *Pump) watch(logger *slog.Logger) (<-chan struct{}, func()) {
	if len(p.opts.WatchPaths) == 0 {
		return nil, func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("file watch unavailable; polling only",
			slog.String("event.type", "pump.watch"),
			slog.String("error", err.Error()),
		)

		return nil, func() {}
	}

	targets := make(map[string]bool, len(p.opts.WatchPaths))
	dirs := make(map[string]bool)

	for _, path := range p.opts.WatchPaths {
		clean := filepath.Clean(path)
		targets[clean] = true
		dirs[filepath.Dir(clean)] = true
	}

	for dir := range dirs {
		// Watch the directory; the files may be recreated by the writer.
		if err := watcher.Add(dir); err != nil {
			logger.Warn("file watch failed; polling only",
				slog.String("event.type", "pump.watch"),
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
		}
	}

	wake := make(chan struct{}, 1)
	quit := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		for {
			select {
			case <-quit:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if !targets[filepath.Clean(event.Name)] {
					continue
				}

				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.Debug("file watch error",
					slog.String("event.type", "pump.watch"),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	return wake, func() {
		close(quit)
		_ = watcher.Close()
		<-exited
	}
}
