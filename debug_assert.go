//go:build leftright_debug

package leftright

import "go.uber.org/zap"

// assertDrained checks the AbsorbSecond contract: ops must be empty
// after it runs. It is only compiled in when built with
// -tags leftright_debug, since the check is not something a hot
// publish path should pay for unconditionally.
func assertDrained[O Ops](ops O, context string, logger *zap.Logger) {
	if !ops.IsEmpty() {
		logger.Panic("leftright: user contract violation: AbsorbSecond left its batch non-empty",
			zap.String("context", context))
	}
}
