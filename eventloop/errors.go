package eventloop

import "errors"

// Standard errors. The first three are configuration errors: they are
// raised as panics, because they indicate misuse that cannot be
// recovered from at runtime. Close is the one exception: it returns
// ErrLoopAlreadyRunning as an error instead of panicking.
var (
	// ErrLoopInGoroutine is the panic value when a second EventLoop is
	// created on a goroutine that already hosts one.
	ErrLoopInGoroutine = errors.New("eventloop: another event loop already exists in this goroutine")

	// ErrNotInLoopGoroutine is the panic value when Run (or another
	// loop-affine operation) is invoked from a goroutine that does not
	// own the loop.
	ErrNotInLoopGoroutine = errors.New("eventloop: called from outside the loop goroutine")

	// ErrLoopAlreadyRunning is the panic value when Run or
	// MoveToCurrentThread is called on a loop that is already looping,
	// and the error Close returns for a running loop.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopClosed identifies a loop whose descriptors have been
	// released by Close. No method of this package returns it; a second
	// Close returns nil.
	ErrLoopClosed = errors.New("eventloop: loop has been closed")
)
