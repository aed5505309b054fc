package leftright

import "go.uber.org/zap"

const defaultSpinLimit = 20

// options collects the constructor-time configuration produced by
// Option functions, following the functional-options shape used for
// turdb.Option and clarkmcc/go-evmap's OptionFunc in the example pack.
type options struct {
	logger    *zap.Logger
	spinLimit int
}

func defaultOptions() *options {
	return &options{
		logger:    zap.NewNop(),
		spinLimit: defaultSpinLimit,
	}
}

// Option configures a WriteHandle at construction time.
type Option func(*options)

// WithLogger sets the logger used for fatal and warning log lines
// (nil foreground, leaked handles reclaimed by the finalizer). Registry
// poisoning panics with epoch.ErrPoisoned directly and is not logged
// through it. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSpinLimit overrides the number of busy-spin iterations the
// quiescence detector performs before yielding the processor while
// waiting for a slow reader. The default, 20, matches the upstream
// left-right crate's default.
func WithSpinLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.spinLimit = n
		}
	}
}
