// Package watch observes a pipeline output folder and reports status-flag
// transitions to external observers in real time.
//
// The status flags are the durable interface other processes read; this
// watcher is the interactive version, translating flag-file creations and
// removals into human-readable pipeline state lines.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/specterops/pipemgr/internal/flags"
	"github.com/specterops/pipemgr/internal/logger"
)

// Event is one observed flag transition.
type Event struct {
	Pipeline string
	Status   flags.Status
	Raised   bool
}

// ParseFlagFile splits a flag-file path into pipeline name and status.
// Returns ok=false for files that are not pipeline flags.
func ParseFlagFile(path string) (pipeline string, status flags.Status, ok bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, flags.Extension) {
		return "", "", false
	}
	name := strings.TrimSuffix(base, flags.Extension)
	idx := strings.LastIndex(name, "_")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], flags.Status(name[idx+1:]), true
}

// Watcher follows one output folder.
type Watcher struct {
	folder string
	log    *logger.Logger

	// Notify receives each event, in addition to the log line. Optional.
	Notify func(Event)
}

// New creates a Watcher for an output folder.
func New(folder string, log *logger.Logger) *Watcher {
	return &Watcher{folder: folder, log: log}
}

// Run reports current flags, then follows transitions until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.folder); err != nil {
		return fmt.Errorf("watch %s: %w", w.folder, err)
	}

	// Report what is already on disk before following changes.
	existing, err := flags.List(w.folder)
	if err != nil {
		return err
	}
	for _, f := range existing {
		w.report(f, true)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-fsw.Events:
				if !ok {
					return nil
				}
				switch {
				case ev.Op.Has(fsnotify.Create):
					w.report(ev.Name, true)
				case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
					w.report(ev.Name, false)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-fsw.Errors:
				if !ok {
					return nil
				}
				w.log.Warning("Watcher error: " + err.Error())
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// report logs one flag observation and forwards it to Notify.
func (w *Watcher) report(path string, raised bool) {
	pipeline, status, ok := ParseFlagFile(path)
	if !ok {
		return
	}
	if raised {
		w.log.Info(fmt.Sprintf("Pipeline '%s' is %s", pipeline, status))
	} else {
		w.log.Debug(fmt.Sprintf("Pipeline '%s' dropped flag %s", pipeline, status))
	}
	if w.Notify != nil {
		w.Notify(Event{Pipeline: pipeline, Status: status, Raised: raised})
	}
}
