package lifecycle

import (
	"sync"
	"sync/atomic"
)

// TeardownGuard is a single-use completion flag. The first Fire runs its function; every later
// call is a no-op. Safe for concurrent use.
type TeardownGuard struct {
	once  sync.Once
	fired atomic.Bool
}

// Fire runs fn if the guard has not fired yet and reports whether it did. Concurrent callers
// block until the winning fn returns.
func (g *TeardownGuard) Fire(fn func()) bool {
	ran := false
	g.once.Do(func() {
		ran = true
		g.fired.Store(true)
		fn()
	})
	return ran
}

// Fired reports whether Fire has run its function.
func (g *TeardownGuard) Fired() bool {
	return g.fired.Load()
}
