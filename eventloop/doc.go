// Package eventloop provides a single-threaded reactor: an epoll-backed
// event loop with a timer service, an eventfd wakeup channel, and a
// lock-free MPSC task queue for cross-goroutine submission.
//
// # Architecture
//
// An [EventLoop] owns a poller, a timer queue, and the task queues. It is
// bound to the goroutine that created it (or the one it was last moved to
// via [EventLoop.MoveToCurrentThread]) and [EventLoop.Run] must be called
// from that goroutine. The loop blocks in epoll_wait, invokes the handler
// of every ready [EventDispatcher], then drains pending tasks, and
// repeats until [EventLoop.Quit].
//
// An [EventDispatcher] represents one file descriptor. It carries an
// interest mask (read/write), the readiness last reported by the poller,
// and up to five callbacks: read, write, close, error, and a catch-all
// event callback which, when set, supersedes the typed ones.
//
// Timers ride on a timerfd that is registered with the poller like any
// other descriptor, so timer expirations are delivered through the normal
// readiness path. Timers are identified by process-unique IDs and may be
// cancelled from any goroutine with [EventLoop.InvalidateTimer].
//
// # Thread Safety
//
// [EventLoop.QueueInLoop], [EventLoop.RunInLoop], the Run* timer methods,
// [EventLoop.InvalidateTimer], and [EventLoop.Quit] are safe to call from
// any goroutine. Everything else - dispatcher mutation in particular -
// must happen on the loop goroutine.
//
// At most one event loop may exist per goroutine; creating a second one
// on the same goroutine panics. [EventLoopThread] hosts a loop on a
// dedicated OS-locked goroutine, and [EventLoopThreadPool] distributes
// work over several of them round-robin.
package eventloop
