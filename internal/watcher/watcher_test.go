package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"packrat/internal/model"
)

func TestIgnoreFilter(t *testing.T) {
	f := newIgnoreFilter([]string{".git", "node_modules", "*.tmp"})

	cases := []struct {
		path string
		want bool
	}{
		{"src/main.go", false},
		{".git/objects/ab/cd", true},
		{"vendor/node_modules/left-pad/index.js", true},
		{"build/cache.tmp", true},
		{"docs/tmp.md", false},
	}

	for _, tc := range cases {
		if got := f.skip(tc.path); got != tc.want {
			t.Errorf("skip(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func waitForEvent(t *testing.T, events <-chan model.FileEvent, want model.EventType, path string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want && ev.Path == path {
				return
			}
		case <-deadline:
			t.Fatalf("no %v event for %s", want, path)
		}
	}
}

func TestPollingSourceDetectsChanges(t *testing.T) {
	root := t.TempDir()

	// Present before the source starts: primed, not emitted.
	existing := filepath.Join(root, "existing.txt")
	if err := os.WriteFile(existing, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := Select(root, Options{
		ForcePoll:    true,
		PollInterval: 30 * time.Millisecond,
		BufferSize:   10,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	created := filepath.Join(root, "new.txt")
	if err := os.WriteFile(created, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, src.Events(), model.EventCreate, created)

	if err := os.WriteFile(existing, []byte("v2 longer"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, src.Events(), model.EventWrite, existing)

	if err := os.Remove(created); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, src.Events(), model.EventRemove, created)
}

func TestPollingSourceHonorsIgnoreList(t *testing.T) {
	root := t.TempDir()

	src, err := Select(root, Options{
		ForcePoll:    true,
		PollInterval: 30 * time.Millisecond,
		BufferSize:   10,
		IgnoreList:   []string{".git"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0644); err != nil {
		t.Fatal(err)
	}
	visible := filepath.Join(root, "main.go")
	if err := os.WriteFile(visible, []byte("package main"), 0644); err != nil {
		t.Fatal(err)
	}

	// The visible file surfaces; nothing under .git ever does.
	for {
		select {
		case ev := <-src.Events():
			if filepath.Base(filepath.Dir(ev.Path)) == ".git" {
				t.Fatalf("event for ignored path %s", ev.Path)
			}
			if ev.Path == visible {
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatal("no event for visible file")
		}
	}
}

func TestNotifySourceDetectsChanges(t *testing.T) {
	root := t.TempDir()

	src, err := Select(root, Options{BufferSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	created := filepath.Join(root, "new.txt")
	if err := os.WriteFile(created, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, src.Events(), model.EventCreate, created)
}
