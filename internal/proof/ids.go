package proof

import (
	"fmt"
	"sync"
	"time"
)

// idGenerator issues proof_{kind}_{millis} ids. The millisecond part is
// strictly increasing per generator so ids are unique process-wide even when
// two requests start in the same millisecond.
type idGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newIDGenerator(now func() time.Time) *idGenerator {
	return &idGenerator{now: now}
}

func (g *idGenerator) next(kind string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return fmt.Sprintf("proof_%s_%d", kind, ms)
}
