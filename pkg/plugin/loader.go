package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"basil/pkg/bus"
	"basil/pkg/logger"
)

// ErrUnsupportedFile is returned for plugin files with an unknown extension.
var ErrUnsupportedFile = errors.New("unsupported plugin file")

// Source is one unit of plugin registration.
type Source struct {
	ID       string
	Register func(*Registry) error
}

// LoadError records a source that failed while registering. Handlers the
// source registered before failing stay registered.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Report summarizes one Load call.
type Report struct {
	Loaded []string
	Failed []*LoadError
}

// Loader runs plugin sources against a registry in lexical ID order.
type Loader struct {
	dir      string
	builtins []Source
	disabled map[string]struct{}
	events   bus.Publisher
	log      *slog.Logger
}

// NewLoader creates a loader reading definition files from dir. An empty dir
// disables file discovery.
func NewLoader(dir string, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}

	return &Loader{
		dir:      strings.TrimSpace(dir),
		disabled: make(map[string]struct{}),
		log:      logger.Component(log, "plugin.loader"),
	}
}

// Add queues compiled-in sources.
func (l *Loader) Add(sources ...Source) *Loader {
	l.builtins = append(l.builtins, sources...)
	return l
}

// Disable skips sources with the given IDs.
func (l *Loader) Disable(ids ...string) *Loader {
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			l.disabled[id] = struct{}{}
		}
	}
	return l
}

// PublishTo sends plugin_load_failed events to events.
func (l *Loader) PublishTo(events bus.Publisher) *Loader {
	l.events = events
	return l
}

// Load registers every enabled source. A failing source is logged and
// skipped; it never stops the remaining sources from loading.
func (l *Loader) Load(ctx context.Context, reg *Registry) Report {
	sources := make([]Source, 0, len(l.builtins))
	for _, src := range l.builtins {
		if _, off := l.disabled[src.ID]; off {
			l.log.Debug("Skipping disabled plugin", "plugin", src.ID)
			continue
		}
		sources = append(sources, src)
	}

	files, err := l.fileSources()
	if err != nil {
		l.log.Warn("Failed to read plugins directory", "dir", l.dir, "error", err)
	}
	sources = append(sources, files...)

	slices.SortStableFunc(sources, func(a, b Source) int {
		return strings.Compare(a.ID, b.ID)
	})

	l.log.Debug("Loading plugins", "dir", l.dir, "count", len(sources))

	var report Report
	for _, src := range sources {
		if err := runSource(src, reg); err != nil {
			loadErr := &LoadError{Source: src.ID, Err: err}
			report.Failed = append(report.Failed, loadErr)
			l.log.Error("Failed to load plugin", "plugin", src.ID, "error", err)
			if l.events != nil {
				l.events.PublishEvent(ctx, bus.Event{
					Type:    bus.EventPluginLoadFailed,
					Handler: src.ID,
					Error:   err.Error(),
				})
			}
			continue
		}
		report.Loaded = append(report.Loaded, src.ID)
	}

	return report
}

// runSource converts a registration panic into an error.
func runSource(src Source, reg *Registry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if src.Register == nil {
		return errors.New("source has no register function")
	}
	return src.Register(reg)
}

// fileSources lists definition files in the plugins directory.
func (l *Loader) fileSources() ([]Source, error) {
	if l.dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Debug("Plugins directory does not exist", "dir", l.dir)
			return nil, nil
		}
		return nil, err
	}

	sources := make([]Source, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(l.dir, name)
		sources = append(sources, Source{
			ID: name,
			Register: func(reg *Registry) error {
				return LoadDefinitionFile(path, reg)
			},
		})
	}

	return sources, nil
}
