//go:build linux

package eventloop

import (
	"golang.org/x/sys/unix"
)

// Poller registration states of a dispatcher.
const (
	pollerStateNew     = -1 // never registered, or fully removed
	pollerStateAdded   = 1  // present in the epoll set
	pollerStateDeleted = 2  // known to the poller but deleted from the epoll set
)

// initEventListSize is the initial capacity of the epoll_wait output
// buffer; it doubles whenever a poll saturates it.
const initEventListSize = 16

// epollPoller multiplexes readiness for the dispatchers of one loop.
// All methods must be called from the loop goroutine.
type epollPoller struct {
	loop        *EventLoop
	epollFd     int
	events      []unix.EpollEvent
	dispatchers map[int]*EventDispatcher
}

func newEpollPoller(loop *EventLoop) (*epollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		loop:        loop,
		epollFd:     fd,
		events:      make([]unix.EpollEvent, initEventListSize),
		dispatchers: make(map[int]*EventDispatcher),
	}, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epollFd)
}

// poll blocks for up to timeoutMs milliseconds, records raw readiness
// into each ready dispatcher, and appends it to active. EINTR is
// retried silently at the next iteration; other errors are logged and
// must not tear down the loop.
func (p *epollPoller) poll(timeoutMs int, active *[]*EventDispatcher) {
	n, err := unix.EpollWait(p.epollFd, p.events, timeoutMs)
	if err != nil {
		if err != unix.EINTR {
			p.loop.logErr(err, "epoll_wait failed")
		}
		return
	}
	if n == 0 {
		return
	}
	p.fillActiveDispatchers(n, active)
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
}

func (p *epollPoller) fillActiveDispatchers(n int, active *[]*EventDispatcher) {
	for i := 0; i < n; i++ {
		d, ok := p.dispatchers[int(p.events[i].Fd)]
		if !ok {
			// The dispatcher was removed between registration and this
			// poll; the kernel may still report a queued event for it.
			continue
		}
		d.setREvents(p.events[i].Events)
		*active = append(*active, d)
	}
}

// registerEventDispatcher installs or updates d's interest with epoll,
// issuing ADD, MOD, or DEL depending on d's registration state and
// whether its interest mask is empty.
func (p *epollPoller) registerEventDispatcher(d *EventDispatcher) {
	p.loop.AssertInLoopThread()
	switch d.state {
	case pollerStateNew, pollerStateDeleted:
		d.state = pollerStateAdded
		p.dispatchers[d.fd] = d
		p.ctl(unix.EPOLL_CTL_ADD, d)
	case pollerStateAdded:
		if d.IsNoneEvent() {
			p.ctl(unix.EPOLL_CTL_DEL, d)
			d.state = pollerStateDeleted
		} else {
			p.ctl(unix.EPOLL_CTL_MOD, d)
		}
	}
}

// removeEventDispatcher forgets d entirely. The interest mask must be
// empty; the state returns to "new".
func (p *epollPoller) removeEventDispatcher(d *EventDispatcher) {
	p.loop.AssertInLoopThread()
	if !d.IsNoneEvent() {
		panic("eventloop: removing dispatcher with active interest")
	}
	delete(p.dispatchers, d.fd)
	if d.state == pollerStateAdded {
		p.ctl(unix.EPOLL_CTL_DEL, d)
	}
	d.state = pollerStateNew
}

func (p *epollPoller) ctl(op int, d *EventDispatcher) bool {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{
			Events: d.events,
			Fd:     int32(d.fd),
		}
	}
	if err := unix.EpollCtl(p.epollFd, op, d.fd, ev); err != nil {
		p.loop.logErr(err, "epoll_ctl failed")
		return false
	}
	return true
}
