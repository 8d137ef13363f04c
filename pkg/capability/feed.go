package capability

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
)

// Feed delivers capability declarations. The channel is closed when ctx ends or the feed fails.
type Feed interface {
	Watch(ctx context.Context) (<-chan Declaration, error)
}

// StaticFeed delivers one fixed declaration
type StaticFeed struct {
	Declaration Declaration
}

// Watch sends the declaration once and closes the channel when ctx is done
func (f StaticFeed) Watch(ctx context.Context) (<-chan Declaration, error) {
	ch := make(chan Declaration, 1)
	ch <- f.Declaration.Clone()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// FileFeed watches a declaration file and re-sends it whenever it changes. The parent directory is
// watched so that editors which replace the file by rename are picked up.
type FileFeed struct {
	Path     string
	Debounce time.Duration
	Logger   logging.Logger
}

// NewFileFeed creates a FileFeed with a 100ms debounce
func NewFileFeed(path string, logger logging.Logger) *FileFeed {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileFeed{Path: path, Debounce: 100 * time.Millisecond, Logger: logger}
}

// Watch loads the file, sends it, and starts watching. A file that fails to parse on reload is
// logged and skipped; the last good declaration stays in effect.
func (f *FileFeed) Watch(ctx context.Context) (<-chan Declaration, error) {
	initial, err := LoadDeclaration(f.Path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(f.Path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ch := make(chan Declaration, 4)
	ch <- initial
	go f.run(ctx, watcher, ch)
	return ch, nil
}

func (f *FileFeed) run(ctx context.Context, watcher *fsnotify.Watcher, ch chan Declaration) {
	logger := f.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithFields(logging.String("component", "capability_feed"), logging.String("path", f.Path))
	debounce := f.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	target := filepath.Clean(f.Path)

	var (
		mu     sync.Mutex
		timer  *time.Timer
		closed bool
	)
	reload := func() {
		decl, err := LoadDeclaration(f.Path)
		if err != nil {
			logger.WithError(err).Warn("Ignoring unreadable capability declaration")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- decl:
			logger.Info("Capability declaration reloaded", logging.Int("transports", len(decl.Transports)))
		case <-ctx.Done():
		}
	}

	defer func() {
		mu.Lock()
		closed = true
		if timer != nil {
			timer.Stop()
		}
		close(ch)
		mu.Unlock()
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("Capability watcher error")
		}
	}
}
