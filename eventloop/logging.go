//go:build linux

package eventloop

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// logErr logs err at error level. Safe with a nil logger: logiface
// builders are nil-receiver safe, so every call site stays branch-free.
func (l *EventLoop) logErr(err error, msg string) {
	l.logger.Err().
		Err(err).
		Uint64("loop", l.goroutineID.Load()).
		Log(msg)
}

// logDebug logs msg at debug level.
func (l *EventLoop) logDebug(msg string) {
	l.logger.Debug().
		Uint64("loop", l.goroutineID.Load()).
		Log(msg)
}

// logPanic logs a recovered panic value at error level.
func (l *EventLoop) logPanic(recovered any, msg string) {
	b := l.logger.Err().
		Uint64("loop", l.goroutineID.Load())
	if err, ok := recovered.(error); ok {
		b = b.Err(err)
	} else {
		b = b.Str("panic", fmt.Sprint(recovered))
	}
	b.Log(msg)
}

// Logger returns the loop's logger; nil when none was configured.
func (l *EventLoop) Logger() *logiface.Logger[logiface.Event] { return l.logger }
