package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/assetpipe/internal/asset"
)

// ErrPathNotFound is returned by Watch when the pattern's base path does
// not exist and missing paths are not allowed.
var ErrPathNotFound = errors.New("watch path not found")

// ChangeEvent describes a single file change. Path is slash-separated and
// relative to the watcher root.
type ChangeEvent struct {
	Path string
	Time time.Time
}

// HandlerFunc receives change events. It is called from the watcher loop
// and must not block.
type HandlerFunc func(ChangeEvent)

// Options configures the watcher.
type Options struct {
	// Root is the directory patterns are resolved against.
	Root string

	// Debounce is the quiet period before a watch fires. Zero delivers
	// every event immediately.
	Debounce time.Duration

	// AllowMissing turns a missing watch path into an inert watch
	// instead of an error.
	AllowMissing bool

	// Exclude lists directories, absolute or relative to Root, whose
	// contents are only seen by patterns rooted inside them. Recursive
	// patterns rooted above an excluded directory never descend into it.
	// Entries outside Root, or equal to it, are ignored.
	Exclude []string

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// DefaultOptions returns the default watch options.
func DefaultOptions() Options {
	return Options{
		Root:   ".",
		Logger: slog.Default(),
	}
}

type registration struct {
	pattern   *asset.Pattern
	onChange  HandlerFunc
	debouncer *Debouncer
}

func (r *registration) deliver(ev ChangeEvent) {
	if r.debouncer != nil {
		r.debouncer.Trigger(ev)
		return
	}

	r.onChange(ev)
}

// Watcher delivers file change events to independent pattern watches.
type Watcher struct {
	root   string
	opts   Options
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	// exclude holds slash-separated directories relative to root.
	exclude []string

	mu       sync.Mutex
	watches  []*registration
	closed   bool
	closeErr error
}

// New creates a watcher rooted at opts.Root.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" {
		opts.Root = "."
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root %q: %w", opts.Root, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &Watcher{
		root:    root,
		opts:    opts,
		logger:  opts.Logger,
		fsw:     fsw,
		exclude: relativeDirs(root, opts.Exclude),
	}, nil
}

func relativeDirs(root string, dirs []string) []string {
	var out []string

	for _, dir := range dirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}

		rel, err := filepath.Rel(root, filepath.Clean(dir))
		if err != nil || rel == "." || isOutside(rel) {
			continue
		}

		out = append(out, filepath.ToSlash(rel))
	}

	return out
}

func isOutside(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// excluded reports whether rel lies in an excluded directory that base,
// a pattern's base directory, does not point into.
func (w *Watcher) excluded(rel, base string) bool {
	for _, dir := range w.exclude {
		if isBelow(rel, dir) && !isBelow(base, dir) {
			return true
		}
	}

	return false
}

// skipFor returns the directory filter for a recursive walk on behalf of a
// pattern rooted at base.
func (w *Watcher) skipFor(base string) func(string) bool {
	if len(w.exclude) == 0 {
		return nil
	}

	return func(full string) bool {
		rel, err := filepath.Rel(w.root, full)
		if err != nil {
			return false
		}

		return w.excluded(filepath.ToSlash(rel), base)
	}
}

// Root returns the absolute watcher root.
func (w *Watcher) Root() string { return w.root }

// Watch registers onChange for files matching pattern. Every registration
// is independent: a change matching several patterns is delivered once to
// each of them.
func (w *Watcher) Watch(pattern string, onChange HandlerFunc) error {
	if onChange == nil {
		return errors.New("watch handler must not be nil")
	}

	p, err := asset.ParsePattern(pattern)
	if err != nil {
		return err
	}

	target := filepath.Join(w.root, filepath.FromSlash(p.String()))
	dir := filepath.Join(w.root, filepath.FromSlash(p.Base()))

	if !p.Literal() {
		target = dir
	}

	if _, statErr := os.Stat(target); statErr != nil {
		if !w.opts.AllowMissing {
			return fmt.Errorf("%w: %s", ErrPathNotFound, p)
		}

		w.logger.Warn("watch path not found, watch is inert",
			slog.String("pattern", p.String()),
			slog.String("path", target),
		)

		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("watcher is closed")
	}

	if p.Recursive() {
		err = addRecursive(w.fsw, dir, w.skipFor(p.Base()))
	} else {
		err = w.fsw.Add(dir)
	}

	if err != nil {
		return fmt.Errorf("watching %s: %w", p, err)
	}

	reg := &registration{pattern: p, onChange: onChange}
	if w.opts.Debounce > 0 {
		reg.debouncer = NewDebouncer(w.opts.Debounce, onChange)
	}

	w.watches = append(w.watches, reg)

	w.logger.Debug("watching", slog.String("pattern", p.String()), slog.String("dir", dir))

	return nil
}

// Patterns returns the patterns of all active watches.
func (w *Watcher) Patterns() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, len(w.watches))
	for i, r := range w.watches {
		out[i] = r.pattern.String()
	}

	return out
}

// Run processes file system events until ctx is cancelled or the watcher
// is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			w.handle(event)

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !isRelevant(event) {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || isOutside(rel) {
		return
	}

	rel = filepath.ToSlash(rel)

	w.mu.Lock()

	// New directories below a recursive watch are watched too.
	if event.Has(fsnotify.Create) {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			w.addCreatedDir(event.Name, rel)
			w.mu.Unlock()

			return
		}
	}

	var matched []*registration

	for _, r := range w.watches {
		if r.pattern.Match(rel) && !w.excluded(rel, r.pattern.Base()) {
			matched = append(matched, r)
		}
	}

	w.mu.Unlock()

	ev := ChangeEvent{Path: rel, Time: time.Now()}
	for _, r := range matched {
		r.deliver(ev)
	}
}

func (w *Watcher) addCreatedDir(full, rel string) {
	for _, r := range w.watches {
		base := r.pattern.Base()
		if !r.pattern.Recursive() || !isBelow(rel, base) || w.excluded(rel, base) {
			continue
		}

		if err := addRecursive(w.fsw, full, w.skipFor(base)); err != nil {
			w.logger.Warn("watching new directory failed",
				slog.String("path", full),
				slog.String("error", err.Error()),
			)
		}

		return
	}
}

// Close stops the watcher and any pending debounced deliveries.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.closeErr
	}

	w.closed = true

	for _, r := range w.watches {
		if r.debouncer != nil {
			r.debouncer.Stop()
		}
	}

	w.closeErr = w.fsw.Close()

	return w.closeErr
}

func isBelow(rel, base string) bool {
	if base == "." {
		return true
	}

	return rel == base || strings.HasPrefix(rel, base+"/")
}

// addRecursive walks root and adds all directories to the watcher. skip,
// when set, prunes further directories below root.
func addRecursive(watcher *fsnotify.Watcher, root string, skip func(string) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			// Skip hidden directories (e.g., .git).
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			// Dependencies are never sources.
			if d.Name() == "node_modules" {
				return filepath.SkipDir
			}

			if skip != nil && path != root && skip(path) {
				return filepath.SkipDir
			}

			return watcher.Add(path)
		}

		return nil
	})
}

// isRelevant filters out events on editor and temporary files.
func isRelevant(event fsnotify.Event) bool {
	if event.Op == 0 {
		return false
	}

	// Only care about write, create, remove, rename.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)

	// Ignore editor temporary files and hidden files.
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
