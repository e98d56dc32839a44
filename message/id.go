package message

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// IDGenerator issues request ids derived from the wall clock:
// milliseconds * 1000 plus three random digits. Ids from one generator are
// strictly increasing; when the clock-derived candidate would not be, the
// previous id plus one is used instead.
type IDGenerator struct {
	last atomic.Int64
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh id. It is safe for concurrent use.
func (g *IDGenerator) Next() int64 {
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	candidate := now().UnixMilli()*1000 + rand.Int64N(1000)
	for {
		last := g.last.Load()
		next := candidate
		if next <= last {
			next = last + 1
		}
		if g.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
