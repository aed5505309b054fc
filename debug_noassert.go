//go:build !leftright_debug

package leftright

import "go.uber.org/zap"

// assertDrained is a no-op in normal builds; see debug_assert.go for
// the -tags leftright_debug variant that actually checks the
// contract.
func assertDrained[O Ops](ops O, context string, logger *zap.Logger) {}
