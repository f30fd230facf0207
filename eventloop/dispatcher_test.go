//go:build linux

package eventloop

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// newTestPipe returns a non-blocking pipe pair, closed on test
// cleanup.
func newTestPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestDispatcherReadCallback(t *testing.T) {
	l, stop := newRunningLoop(t)
	defer stop()
	r, w := newTestPipe(t)

	readable := make(chan struct{}, 1)
	var d *EventDispatcher
	l.RunInLoop(func() {
		d = NewEventDispatcher(l, r)
		d.SetReadCallback(func() {
			var buf [8]byte
			_, _ = unix.Read(r, buf[:])
			readable <- struct{}{}
		})
		d.EnableReading()
	})

	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-readable:
	case <-time.After(time.Second):
		t.Fatal("read callback never fired")
	}

	// Tear down on the loop goroutine.
	done := make(chan struct{})
	l.RunInLoop(func() {
		d.DisableAll()
		d.Remove()
		close(done)
	})
	<-done
}

func TestDispatcherDisabledInterestSilences(t *testing.T) {
	l, stop := newRunningLoop(t)
	defer stop()
	r, w := newTestPipe(t)

	fired := make(chan struct{}, 8)
	var d *EventDispatcher
	l.RunInLoop(func() {
		d = NewEventDispatcher(l, r)
		d.SetReadCallback(func() {
			var buf [8]byte
			_, _ = unix.Read(r, buf[:])
			fired <- struct{}{}
		})
		d.EnableReading()
		d.DisableReading()
	})

	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-fired:
		t.Fatal("callback fired with read interest disabled")
	case <-time.After(100 * time.Millisecond):
	}

	done := make(chan struct{})
	l.RunInLoop(func() {
		d.Remove()
		close(done)
	})
	<-done
}

func TestDispatcherTieGuardBlocksDispatch(t *testing.T) {
	l, stop := newRunningLoop(t)
	defer stop()
	r, w := newTestPipe(t)

	alive := true
	fired := make(chan struct{}, 8)
	var d *EventDispatcher
	l.RunInLoop(func() {
		d = NewEventDispatcher(l, r)
		d.Tie(func() bool { return alive })
		d.SetReadCallback(func() {
			var buf [8]byte
			_, _ = unix.Read(r, buf[:])
			fired <- struct{}{}
		})
		d.EnableReading()
	})

	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback should fire while the guard upgrades")
	}

	stale := make(chan struct{})
	l.RunInLoop(func() {
		alive = false
		close(stale)
	})
	<-stale
	if _, err := unix.Write(w, []byte("y")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-fired:
		t.Fatal("callback fired after the guard went stale")
	case <-time.After(100 * time.Millisecond):
	}

	done := make(chan struct{})
	l.RunInLoop(func() {
		d.DisableAll()
		d.Remove()
		close(done)
	})
	<-done
}

func TestDispatcherCatchAllSupersedesTyped(t *testing.T) {
	l, stop := newRunningLoop(t)
	defer stop()
	r, w := newTestPipe(t)

	typed := make(chan struct{}, 8)
	catchAll := make(chan struct{}, 8)
	var d *EventDispatcher
	l.RunInLoop(func() {
		d = NewEventDispatcher(l, r)
		d.SetReadCallback(func() { typed <- struct{}{} })
		d.SetEventCallback(func() {
			var buf [8]byte
			_, _ = unix.Read(r, buf[:])
			catchAll <- struct{}{}
		})
		d.EnableReading()
	})

	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-catchAll:
	case <-time.After(time.Second):
		t.Fatal("catch-all callback never fired")
	}
	select {
	case <-typed:
		t.Fatal("typed callback must be skipped when the catch-all is set")
	default:
	}

	done := make(chan struct{})
	l.RunInLoop(func() {
		d.DisableAll()
		d.Remove()
		close(done)
	})
	<-done
}

func TestDispatcherInterestAccessors(t *testing.T) {
	l, stop := newRunningLoop(t)
	defer stop()
	r, _ := newTestPipe(t)

	done := make(chan struct{})
	l.RunInLoop(func() {
		defer close(done)
		d := NewEventDispatcher(l, r)
		if !d.IsNoneEvent() || d.IsReading() || d.IsWriting() {
			t.Error("new dispatcher must have empty interest")
		}
		d.EnableReading()
		if !d.IsReading() || d.IsWriting() {
			t.Error("expected read-only interest")
		}
		d.EnableWriting()
		if !d.IsReading() || !d.IsWriting() {
			t.Error("expected read and write interest")
		}
		d.DisableWriting()
		if !d.IsReading() || d.IsWriting() {
			t.Error("expected read-only interest after disabling write")
		}
		d.DisableAll()
		if !d.IsNoneEvent() {
			t.Error("expected empty interest after DisableAll")
		}
		d.Remove()
	})
	<-done
}
