package registry

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/pkg/safego"
)

// Watch reloads the catalog whenever the registry file is rewritten.
// Only the in-memory catalog changes; the model loaded in the engine is
// untouched. The watcher shuts down with ctx.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors typically replace the
	// file, which would drop a direct file watch.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return err
	}

	safego.Go(r.logger, "registry-watcher", func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.handleWatchEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("Watcher error", zap.Error(err))
			}
		}
	})

	r.logger.Info("Registry watching started", zap.String("path", r.path))
	return nil
}

func (r *Registry) handleWatchEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(r.path) {
		return
	}

	switch {
	case event.Op&fsnotify.Write == fsnotify.Write,
		event.Op&fsnotify.Create == fsnotify.Create:
		if err := r.reload(); err != nil {
			r.logger.Warn("Registry reload failed, keeping previous catalog",
				zap.Error(err),
			)
			return
		}
		r.logger.Info("Registry reloaded",
			zap.Int("models", len(r.ListModels())),
		)
	}
}
