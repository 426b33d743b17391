package entrycache

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of a cache's counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Puts        uint64
	Removals    uint64
	Expirations uint64

	AverageGetTime    time.Duration
	AveragePutTime    time.Duration
	AverageRemoveTime time.Duration
}

func (s Stats) Gets() uint64 { return s.Hits + s.Misses }

// HitPercentage is 0 when there were no gets.
func (s Stats) HitPercentage() float64 {
	if g := s.Gets(); g > 0 {
		return float64(s.Hits) / float64(g) * 100
	}
	return 0
}

func (s Stats) MissPercentage() float64 {
	if g := s.Gets(); g > 0 {
		return float64(s.Misses) / float64(g) * 100
	}
	return 0
}

type counters struct {
	enabled atomic.Bool

	hits, misses, puts, removals, expirations atomic.Uint64
	getNanos, putNanos, removeNanos           atomic.Int64
}

func (c *counters) hit(n uint64) {
	if c.enabled.Load() {
		c.hits.Add(n)
	}
}

func (c *counters) miss(n uint64) {
	if c.enabled.Load() {
		c.misses.Add(n)
	}
}

func (c *counters) put(n uint64) {
	if c.enabled.Load() {
		c.puts.Add(n)
	}
}

func (c *counters) removal(n uint64) {
	if c.enabled.Load() {
		c.removals.Add(n)
	}
}

func (c *counters) expiration(n uint64) {
	if c.enabled.Load() {
		c.expirations.Add(n)
	}
}

// since returns a start mark, or the zero time when stats are off.
func (c *counters) since() time.Time {
	if c.enabled.Load() {
		return time.Now()
	}
	return time.Time{}
}

func (c *counters) took(acc *atomic.Int64, start time.Time) {
	if !start.IsZero() && c.enabled.Load() {
		acc.Add(int64(time.Since(start)))
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Puts:        c.puts.Load(),
		Removals:    c.removals.Load(),
		Expirations: c.expirations.Load(),
	}
	s.AverageGetTime = avg(c.getNanos.Load(), s.Gets())
	s.AveragePutTime = avg(c.putNanos.Load(), s.Puts)
	s.AverageRemoveTime = avg(c.removeNanos.Load(), s.Removals)
	return s
}

func (c *counters) reset() {
	for _, a := range []*atomic.Uint64{&c.hits, &c.misses, &c.puts, &c.removals, &c.expirations} {
		a.Store(0)
	}
	c.getNanos.Store(0)
	c.putNanos.Store(0)
	c.removeNanos.Store(0)
}

func avg(total int64, n uint64) time.Duration {
	if n == 0 {
		return 0
	}
	return time.Duration(total / int64(n))
}
