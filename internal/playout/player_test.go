package playout

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/easyaps/internal/extcmd"
)

type scriptRunner struct {
	mu      sync.Mutex
	calls   []string
	stdout  map[string]string
	failing map[string]error
}

func (s *scriptRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) extcmd.Result {
	return s.answer(name, args)
}

func (s *scriptRunner) Start(_ context.Context, name string, args ...string) extcmd.Result {
	return s.answer(name, args)
}

func (s *scriptRunner) answer(name string, args []string) extcmd.Result {
	key := strings.Join(append([]string{name}, args...), " ")
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.mu.Unlock()
	if err, ok := s.failing[key]; ok {
		return extcmd.Failure(key, err)
	}
	return extcmd.Result{Op: key, Stdout: s.stdout[key]}
}

func (s *scriptRunner) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func testAudacious(run extcmd.Runner) *Audacious {
	cfg := DefaultAudaciousConfig()
	cfg.SeekDelay = time.Millisecond
	return NewAudacious(run, cfg, zerolog.Nop())
}

func TestAudaciousPlayFromStart(t *testing.T) {
	run := &scriptRunner{}
	a := testAudacious(run)
	if res := a.Play(context.Background(), "/media/a.mp3", 0); !res.OK() {
		t.Fatalf("Play: %v", res.Err)
	}
	a.Wait()
	if diff := cmp.Diff([]string{"audacious /media/a.mp3"}, run.snapshot()); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestAudaciousLateStartSeeks(t *testing.T) {
	run := &scriptRunner{}
	a := testAudacious(run)
	if res := a.Play(context.Background(), "/media/a.mp3", 150*time.Second); !res.OK() {
		t.Fatalf("Play: %v", res.Err)
	}
	a.Wait()
	want := []string{"audacious /media/a.mp3", "audtool playback-seek 150"}
	if diff := cmp.Diff(want, run.snapshot()); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestAudaciousLaunchFailureSkipsSeek(t *testing.T) {
	run := &scriptRunner{failing: map[string]error{"audacious /media/a.mp3": extcmd.ErrNotFound}}
	a := testAudacious(run)
	if res := a.Play(context.Background(), "/media/a.mp3", time.Minute); res.OK() {
		t.Fatal("Play succeeded without a player")
	}
	a.Wait()
	if got := run.snapshot(); len(got) != 1 {
		t.Fatalf("calls = %v", got)
	}
}

func TestAudaciousMonitor(t *testing.T) {
	run := &scriptRunner{stdout: map[string]string{
		"audtool current-song-output-length-seconds": "42\n",
		"audtool playback-status":                    "playing\n",
	}}
	a := testAudacious(run)
	pos, ok := a.Position(context.Background())
	if !ok || pos != 42*time.Second {
		t.Fatalf("Position = %v, %v", pos, ok)
	}
	if st := a.PlaybackStatus(context.Background()); st != "playing" {
		t.Fatalf("PlaybackStatus = %q", st)
	}

	run.stdout["audtool current-song-output-length-seconds"] = "n/a"
	if _, ok := a.Position(context.Background()); ok {
		t.Fatal("Position parsed garbage")
	}
}
