package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(KindPoll, time.Second)
	if err != nil || b.Name() != KindPoll {
		t.Errorf("NewBackend(poll) = %v, %v", b, err)
	}
	b, err = NewBackend(KindAuto, time.Second)
	if err != nil {
		t.Fatalf("NewBackend(auto) error = %v", err)
	}
	if b.Name() != KindNative && b.Name() != KindPoll {
		t.Errorf("NewBackend(auto) = %s", b.Name())
	}
	if _, err := NewBackend("inotify2", time.Second); err == nil {
		t.Error("unknown backend accepted")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// expectEvent waits for an event whose path is want.
func expectEvent(t *testing.T, events <-chan Event, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed before %s", want)
			}
			if ev.Path == want {
				return
			}
		case <-timeout:
			t.Fatalf("no event for %s", want)
		}
	}
}

func TestPollBackend_DetectsChanges(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "hero_v001", "hero_v001.1001.exr")
	writeFile(t, existing, "a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := NewPollBackend(10*time.Millisecond).Subscribe(ctx, root, 2)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	added := filepath.Join(root, "hero_v002", "hero_v002.1001.exr")
	writeFile(t, added, "b")
	expectEvent(t, events, added)

	if err := os.WriteFile(existing, []byte("rewritten"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, events, existing)

	if err := os.Remove(added); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, events, added)

	cancel()
	for range events {
	}
}

func TestPollBackend_MissingRoot(t *testing.T) {
	_, _, err := NewPollBackend(time.Second).Subscribe(context.Background(), filepath.Join(t.TempDir(), "gone"), 1)
	if err == nil {
		t.Error("Subscribe() on a missing root expected error")
	}
}

func TestSnapshot_RespectsDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b", "c", "deep.exr"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "h.exr"), "x")

	snap := snapshot(root, 1)
	if _, ok := snap[filepath.Join(root, "a", "b")]; !ok {
		t.Error("entry at the depth limit missing")
	}
	if _, ok := snap[filepath.Join(root, "a", "b", "c")]; ok {
		t.Error("entry below the depth limit recorded")
	}
	if _, ok := snap[filepath.Join(root, ".hidden")]; ok {
		t.Error("hidden entry recorded")
	}
}

func TestNativeBackend_DeliversEvents(t *testing.T) {
	if err := probeNative(); err != nil {
		t.Skipf("native notification unavailable: %v", err)
	}
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "shot010"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := NewNativeBackend().Subscribe(ctx, root, 2)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	nested := filepath.Join(root, "shot010", "hero_v001.mov")
	writeFile(t, nested, "x")
	expectEvent(t, events, nested)

	// Directories created after subscribing are watched too.
	dir := filepath.Join(root, "hero_v002")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, events, dir)
	time.Sleep(50 * time.Millisecond)
	late := filepath.Join(dir, "hero_v002.1001.exr")
	writeFile(t, late, "y")
	expectEvent(t, events, late)
}

func TestLevelBelow(t *testing.T) {
	tests := map[string]int{
		"/r":         0,
		"/r/a":       1,
		"/r/a/b":     2,
		"/other":     -1,
		"/r/../x/yy": -1,
	}
	for path, want := range tests {
		if got := levelBelow("/r", path); got != want {
			t.Errorf("levelBelow(%q) = %d, want %d", path, got, want)
		}
	}
}
