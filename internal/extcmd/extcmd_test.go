package extcmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunSuccessCapturesStdout(t *testing.T) {
	e := NewExec(zerolog.Nop())
	res := e.Run(context.Background(), time.Second, "sh", "-c", "echo hello")
	if !res.OK() {
		t.Fatalf("Run failed: %v", res.Err)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestRunExitStatus(t *testing.T) {
	e := NewExec(zerolog.Nop())
	res := e.Run(context.Background(), time.Second, "sh", "-c", "exit 3")
	if !errors.Is(res.Err, ErrExitStatus) {
		t.Fatalf("err = %v, want ErrExitStatus", res.Err)
	}
	if res.ExitCode != 3 || !res.Exited() {
		t.Fatalf("exit code = %d exited = %v", res.ExitCode, res.Exited())
	}
}

func TestRunNotFound(t *testing.T) {
	e := NewExec(zerolog.Nop())
	res := e.Run(context.Background(), time.Second, "easyaps-definitely-missing-binary")
	if !errors.Is(res.Err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", res.Err)
	}
	if res.Exited() {
		t.Fatal("missing binary reported as exited")
	}
}

func TestRunTimeout(t *testing.T) {
	e := NewExec(zerolog.Nop())
	start := time.Now()
	res := e.Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", res.Err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout did not bound the call")
	}
}

func TestStartReapsChild(t *testing.T) {
	e := NewExec(zerolog.Nop())
	res := e.Start(context.Background(), "sh", "-c", "exit 0")
	if !res.OK() {
		t.Fatalf("Start failed: %v", res.Err)
	}
	if !e.Wait(3 * time.Second) {
		t.Fatal("Wait did not return after child exit")
	}
	if n := e.Running(); n != 0 {
		t.Fatalf("running = %d after reap", n)
	}
}

func TestWaitDoesNotBlockOnLongLivedChild(t *testing.T) {
	e := NewExec(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	res := e.Start(ctx, "sleep", "4")
	if !res.OK() {
		t.Fatalf("Start failed: %v", res.Err)
	}
	cancel()

	start := time.Now()
	if e.Wait(100 * time.Millisecond) {
		t.Fatal("Wait reported a 4s child as reaped")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Wait returned %v after cancel, want under 1s", elapsed)
	}
	if n := e.Running(); n != 1 {
		t.Fatalf("running = %d, want the child left running", n)
	}
}
