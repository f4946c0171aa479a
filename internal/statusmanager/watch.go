package statusmanager

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry from disk whenever its backing file
// changes, so two processes sharing one registry file (e.g. the
// control-plane server and a CLI operating on the same registry path)
// pick up each other's writes instead of racing a stale in-memory
// copy. Grounded on the teacher's internal/templates/registry.go
// fsnotify.Watcher usage (watch a file, debounce-free single-file
// case, stop on ctx.Done). Returns once the watcher is set up; reload
// errors are logged, never returned, since a transient read during a
// concurrent atomic rename is expected and self-heals on the next
// event.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.load(); err != nil {
					r.log.Warn("statusmanager: hot reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn("statusmanager: watcher error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
