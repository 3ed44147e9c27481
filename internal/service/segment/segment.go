// Package segment assigns ids to transcript segments and tracks the
// partial-to-final lifecycle of each utterance.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator produces "<scope>-seg-N" ids with a shared monotonic counter.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(scope string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", scope, n)
}

// Issued returns how many ids have been generated.
func (g *Generator) Issued() uint64 {
	return atomic.LoadUint64(&g.counter)
}
