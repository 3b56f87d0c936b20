// Package watch delivers a pulse when a pipeline's source files change, so a
// caller can re-plan and re-run.
package watch

import (
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/stagecoach-run/stagecoach/graph"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Config tunes one watcher.
type Config struct {
	// Debounce is how long the file system must stay quiet before a batch
	// of changes is delivered.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher emits debounced batches of changed source paths. Only inputs that
// no task produces are watched; produced artifacts change on every run and
// would retrigger the loop forever.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool
	trees    []string
	debounce time.Duration
	log      *slog.Logger
	changes  chan []string
}

// SourceInputs returns the inputs in the goal's closure that no task
// produces, deduplicated in declaration order.
func SourceInputs(g *graph.Graph, goal string) ([]workflow.Artifact, error) {
	closure, err := g.Closure(goal)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var sources []workflow.Artifact
	for _, task := range closure {
		for _, in := range task.Inputs {
			if _, produced := g.Producer(in.Path); produced {
				continue
			}
			if seen[in.Path] {
				continue
			}
			seen[in.Path] = true
			sources = append(sources, in)
		}
	}
	return sources, nil
}

// New starts watching the goal's source inputs. Close stops it.
func New(g *graph.Graph, goal string, cfg Config) (*Watcher, error) {
	sources, err := SourceInputs(g, goal)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to start file watcher")
	}
	w := &Watcher{
		fsw:      fsw,
		files:    make(map[string]bool),
		debounce: cfg.Debounce,
		log:      cfg.Logger,
		changes:  make(chan []string, 1),
	}
	if w.debounce <= 0 {
		w.debounce = 250 * time.Millisecond
	}
	if w.log == nil {
		w.log = slog.Default()
	}

	dirs := make(map[string]bool)
	for _, src := range sources {
		if src.Dir {
			w.trees = append(w.trees, src.Path)
			dirs[src.Path] = true
		} else {
			w.files[src.Path] = true
			dirs[filepath.Dir(src.Path)] = true
		}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, errors.Wrapf(err, "failed to watch %s", dir)
		}
	}
	for _, tree := range w.trees {
		w.watchSubdirs(tree)
	}

	go w.loop()
	return w, nil
}

// Changes delivers sorted batches of changed paths after each quiet period.
func (w *Watcher) Changes() <-chan []string { return w.changes }

// Close stops the watcher. The changes channel stays open; callers select on
// it together with their context.
func (w *Watcher) Close() error { return w.fsw.Close() }

// watchSubdirs registers every directory under root. fsnotify watches are
// not recursive.
func (w *Watcher) watchSubdirs(root string) {
	filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root {
			if err := w.fsw.Add(path); err != nil {
				w.log.Warn("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *Watcher) relevant(name string) bool {
	path := filepath.ToSlash(filepath.Clean(name))
	if w.files[path] {
		return true
	}
	for _, tree := range w.trees {
		if path == tree || strings.HasPrefix(path, tree+"/") {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	timer := time.NewTimer(0)
	<-timer.C

	pending := make(map[string]bool)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						w.log.Warn("failed to watch directory", "path", event.Name, "error", err)
					}
				}
			}
			pending[filepath.ToSlash(filepath.Clean(event.Name))] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for path := range pending {
				batch = append(batch, path)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)
			select {
			case w.changes <- batch:
			default:
				// receiver is mid-run; fold into the next batch
				for _, path := range batch {
					pending[path] = true
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", "error", err)
		}
	}
}
