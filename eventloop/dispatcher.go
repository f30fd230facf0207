//go:build linux

package eventloop

import "golang.org/x/sys/unix"

// Interest masks. Read interest includes urgent data; the poller passes
// these straight through to epoll.
const (
	noneEvent  uint32 = 0
	readEvent  uint32 = unix.EPOLLIN | unix.EPOLLPRI
	writeEvent uint32 = unix.EPOLLOUT
)

// EventCallback is invoked on the loop goroutine when the dispatcher's
// descriptor becomes ready.
type EventCallback func()

// EventDispatcher maps readiness on a single file descriptor to user
// callbacks. It is the reactor's event-handler role: every dispatcher
// belongs to exactly one loop and must only be mutated from that loop's
// goroutine. The descriptor must remain valid for the dispatcher's
// entire lifetime.
type EventDispatcher struct {
	loop    *EventLoop
	fd      int
	events  uint32 // interest mask
	revents uint32 // readiness last reported by the poller
	state   int    // poller registration state (pollerStateNew etc.)

	tied bool
	tie  func() bool // upgrade probe; callbacks run only while it returns true

	readCallback  EventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback
	eventCallback EventCallback // catch-all; supersedes the typed callbacks
}

// NewEventDispatcher creates a dispatcher for fd on loop. The dispatcher
// starts with an empty interest mask and is not registered with the
// poller until interest is enabled.
func NewEventDispatcher(loop *EventLoop, fd int) *EventDispatcher {
	return &EventDispatcher{
		loop:  loop,
		fd:    fd,
		state: pollerStateNew,
	}
}

func (d *EventDispatcher) SetReadCallback(cb EventCallback)  { d.readCallback = cb }
func (d *EventDispatcher) SetWriteCallback(cb EventCallback) { d.writeCallback = cb }
func (d *EventDispatcher) SetCloseCallback(cb EventCallback) { d.closeCallback = cb }
func (d *EventDispatcher) SetErrorCallback(cb EventCallback) { d.errorCallback = cb }

// SetEventCallback installs a catch-all callback. When set, the typed
// read/write/close/error dispatch is skipped entirely; the callback is
// expected to inspect REvents itself. This mode is used by handlers
// that multiplex read and write waits over a single entry point.
func (d *EventDispatcher) SetEventCallback(cb EventCallback) { d.eventCallback = cb }

// Tie installs a liveness guard. While tied, callbacks are only invoked
// if guard returns true at dispatch time; this protects against the
// owning object being torn down between readiness and dispatch.
func (d *EventDispatcher) Tie(guard func() bool) {
	d.tied = true
	d.tie = guard
}

// Fd returns the watched file descriptor.
func (d *EventDispatcher) Fd() int { return d.fd }

// Events returns the current interest mask.
func (d *EventDispatcher) Events() uint32 { return d.events }

// REvents returns the readiness reported by the most recent poll.
func (d *EventDispatcher) REvents() uint32 { return d.revents }

func (d *EventDispatcher) setREvents(revents uint32) { d.revents = revents }

// IsNoneEvent reports whether the interest mask is empty.
func (d *EventDispatcher) IsNoneEvent() bool { return d.events == noneEvent }

// IsReading reports whether read interest is enabled.
func (d *EventDispatcher) IsReading() bool { return d.events&readEvent != 0 }

// IsWriting reports whether write interest is enabled.
func (d *EventDispatcher) IsWriting() bool { return d.events&writeEvent != 0 }

func (d *EventDispatcher) EnableReading() {
	d.events |= readEvent
	d.update()
}

func (d *EventDispatcher) EnableWriting() {
	d.events |= writeEvent
	d.update()
}

func (d *EventDispatcher) DisableReading() {
	d.events &^= readEvent
	d.update()
}

func (d *EventDispatcher) DisableWriting() {
	d.events &^= writeEvent
	d.update()
}

func (d *EventDispatcher) DisableAll() {
	d.events = noneEvent
	d.update()
}

// Remove unregisters the dispatcher from its loop's poller. The
// interest mask must be empty.
func (d *EventDispatcher) Remove() {
	if !d.IsNoneEvent() {
		panic("eventloop: Remove called on dispatcher with active interest")
	}
	d.loop.removeEventDispatcher(d)
}

// Loop returns the owning event loop.
func (d *EventDispatcher) Loop() *EventLoop { return d.loop }

func (d *EventDispatcher) update() {
	d.loop.updateEventDispatcher(d)
}

// handleEvent runs the dispatcher's callbacks for the readiness in
// revents. Called by the loop for every ready dispatcher.
func (d *EventDispatcher) handleEvent() {
	if d.events == noneEvent {
		return
	}
	if d.tied {
		if d.tie == nil || !d.tie() {
			return
		}
	}
	d.handleEventSafely()
}

func (d *EventDispatcher) handleEventSafely() {
	if d.eventCallback != nil {
		d.eventCallback()
		return
	}
	if d.revents&unix.EPOLLHUP != 0 && d.revents&unix.EPOLLIN == 0 {
		if d.closeCallback != nil {
			d.closeCallback()
		}
		return
	}
	if d.revents&unix.EPOLLERR != 0 {
		if d.errorCallback != nil {
			d.errorCallback()
		}
		return
	}
	if d.revents&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		if d.readCallback != nil {
			d.readCallback()
		}
	}
	if d.revents&unix.EPOLLOUT != 0 {
		if d.writeCallback != nil {
			d.writeCallback()
		}
	}
}
