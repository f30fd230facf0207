package eventloop

import "github.com/joeycumines/logiface"

// loopOptions holds configuration applied at New.
type loopOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// LoopOption configures an EventLoop instance.
type LoopOption interface {
	applyLoop(*loopOptions)
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions)
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) {
	l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger to the loop. The loop logs
// poll errors, wakeup/timerfd read failures, and panics that escape
// user callbacks. A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) {
		opts.logger = logger
	}}
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyLoop(cfg)
	}
	return cfg
}
