package watcher

import (
	"path/filepath"
	"strings"
	"time"

	"packrat/internal/logger"
	"packrat/internal/model"

	"go.uber.org/zap"
)

// Source emits filesystem change events for one project tree. The backend
// (native notifications or polling) is chosen once at startup; consumers
// never branch on which one they got.
type Source interface {
	Events() <-chan model.FileEvent
	Close() error
}

type Options struct {
	IgnoreList   []string
	BufferSize   int
	PollInterval time.Duration
	ForcePoll    bool
}

const defaultPollInterval = 30 * time.Second

// Select picks the best available backend for root.
func Select(root string, opts Options) (Source, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	filter := newIgnoreFilter(opts.IgnoreList)

	if !opts.ForcePoll {
		src, err := newNotifySource(root, filter, opts.BufferSize)
		if err == nil {
			return src, nil
		}
		logger.Log.Warn("native watch unavailable, falling back to polling",
			zap.String("root", root),
			zap.Error(err))
	}

	return newPollingSource(root, filter, opts.BufferSize, opts.PollInterval), nil
}

// ignoreFilter drops events for excluded paths before they reach the
// trigger coordinator.
type ignoreFilter struct {
	patterns []string
}

func newIgnoreFilter(patterns []string) *ignoreFilter {
	return &ignoreFilter{patterns: patterns}
}

func (f *ignoreFilter) skip(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		for _, pattern := range f.patterns {
			if part == pattern {
				return true
			}
			if ok, err := filepath.Match(pattern, part); err == nil && ok {
				return true
			}
		}
	}
	return false
}
