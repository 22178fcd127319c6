package uploads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch registers files created in the uploads directory and forgets files
// removed from it, until ctx is done. Files dropped in by other tools are
// registered under their own name unless it carries the timestamp prefix.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	r.log.Info().Str("dir", r.dir).Msg("watching uploads directory")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			r.handleEvent(ctx, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("uploads watcher error")
		}
	}
}

func (r *Registry) handleEvent(ctx context.Context, event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		name, at, ok := ParseStoredName(base)
		if !ok {
			name, at = base, r.now()
		}
		if _, err := r.register(ctx, name, event.Name, at); err != nil {
			r.log.Warn().Err(err).Str("file", base).Msg("could not register new upload")
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		abs, err := filepath.Abs(event.Name)
		if err != nil {
			return
		}
		if err := r.forget(ctx, abs); err != nil {
			r.log.Warn().Err(err).Str("file", base).Msg("could not forget removed upload")
		}
	}
}
