package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"packrat/internal/logger"
	"packrat/internal/model"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// notifySource watches a tree with fsnotify. Directories are added
// recursively; new directories are picked up from create events.
type notifySource struct {
	fw     *fsnotify.Watcher
	filter *ignoreFilter
	events chan model.FileEvent
	done   chan struct{}
}

func newNotifySource(root string, filter *ignoreFilter, bufferSize int) (*notifySource, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &notifySource{
		fw:     fw,
		filter: filter,
		events: make(chan model.FileEvent, bufferSize),
		done:   make(chan struct{}),
	}

	if err := s.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}

	go s.loop()
	return s, nil
}

func (s *notifySource) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && s.filter.skip(path) {
			return filepath.SkipDir
		}
		return s.fw.Add(path)
	})
}

func (s *notifySource) loop() {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.fw.Events:
			if !ok {
				return
			}
			if s.filter.skip(ev.Name) {
				continue
			}

			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := s.addTree(ev.Name); err != nil {
						logger.Log.Debug("failed to watch new dir",
							zap.String("path", ev.Name),
							zap.Error(err))
					}
				}
			}

			fe, ok := translate(ev)
			if !ok {
				continue
			}

			select {
			case s.events <- fe:
			default:
				// Buffer full; the debounce window makes dropped
				// events harmless, another will follow.
			}

		case err, ok := <-s.fw.Errors:
			if !ok {
				return
			}
			logger.Log.Warn("watch error", zap.Error(err))
		}
	}
}

func translate(ev fsnotify.Event) (model.FileEvent, bool) {
	fe := model.FileEvent{Path: ev.Name, Timestamp: time.Now()}

	switch {
	case ev.Op.Has(fsnotify.Create):
		fe.Type = model.EventCreate
	case ev.Op.Has(fsnotify.Write):
		fe.Type = model.EventWrite
	case ev.Op.Has(fsnotify.Remove):
		fe.Type = model.EventRemove
	case ev.Op.Has(fsnotify.Rename):
		fe.Type = model.EventRename
	default:
		return fe, false
	}

	return fe, true
}

func (s *notifySource) Events() <-chan model.FileEvent {
	return s.events
}

func (s *notifySource) Close() error {
	close(s.done)
	return s.fw.Close()
}
