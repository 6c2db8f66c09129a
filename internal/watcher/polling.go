package watcher

import (
	"io/fs"
	"path/filepath"
	"time"

	"packrat/internal/model"
)

// pollingSource is the fallback backend: a periodic mtime scan of the tree.
type pollingSource struct {
	root     string
	filter   *ignoreFilter
	interval time.Duration
	events   chan model.FileEvent
	done     chan struct{}

	seen map[string]fileStamp
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func newPollingSource(root string, filter *ignoreFilter, bufferSize int, interval time.Duration) *pollingSource {
	s := &pollingSource{
		root:     root,
		filter:   filter,
		interval: interval,
		events:   make(chan model.FileEvent, bufferSize),
		done:     make(chan struct{}),
		seen:     make(map[string]fileStamp),
	}

	// Prime without emitting so startup does not look like a burst of
	// creates.
	s.scan(false)

	go s.loop()
	return s
}

func (s *pollingSource) loop() {
	defer close(s.events)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.scan(true)
		}
	}
}

func (s *pollingSource) scan(emit bool) {
	current := make(map[string]fileStamp, len(s.seen))

	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != s.root && s.filter.skip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.filter.skip(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		current[path] = fileStamp{modTime: info.ModTime(), size: info.Size()}
		return nil
	})

	if emit {
		for path, stamp := range current {
			prev, existed := s.seen[path]
			switch {
			case !existed:
				s.send(model.FileEvent{Type: model.EventCreate, Path: path, Timestamp: time.Now()})
			case !prev.modTime.Equal(stamp.modTime) || prev.size != stamp.size:
				s.send(model.FileEvent{Type: model.EventWrite, Path: path, Timestamp: time.Now()})
			}
		}

		for path := range s.seen {
			if _, ok := current[path]; !ok {
				s.send(model.FileEvent{Type: model.EventRemove, Path: path, Timestamp: time.Now()})
			}
		}
	}

	s.seen = current
}

func (s *pollingSource) send(ev model.FileEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *pollingSource) Events() <-chan model.FileEvent {
	return s.events
}

func (s *pollingSource) Close() error {
	close(s.done)
	return nil
}
