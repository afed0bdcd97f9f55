package metrics

import (
	"strconv"

	"wrrsched/internal/sched"
)

// Collector copies scheduler state into the prometheus collectors. Run queue
// counters are cumulative in the scheduler, so the collector keeps the last
// values it saw and exports the difference.
type Collector struct {
	sched       *sched.Scheduler
	last        []sched.RunQueueStats
	lastDropped uint64
}

// NewCollector creates a collector for s.
func NewCollector(s *sched.Scheduler) *Collector {
	return &Collector{
		sched: s,
		last:  make([]sched.RunQueueStats, s.NumUnits()),
	}
}

// Collect samples every run queue and the entity table once.
func (c *Collector) Collect() {
	c.collectRunQueues()
	c.collectEntities()
	c.collectDropped()
}

func (c *Collector) collectDropped() {
	n := c.sched.DroppedEvents()
	if n > c.lastDropped {
		EventsDropped.Add(float64(n - c.lastDropped))
	}
	c.lastDropped = n
}

func (c *Collector) collectRunQueues() {
	for unit := 0; unit < c.sched.NumUnits(); unit++ {
		rq, err := c.sched.RunQueue(unit)
		if err != nil {
			continue
		}
		snap := rq.Snapshot()
		label := strconv.Itoa(unit)

		RunQueueWeight.WithLabelValues(label).Set(float64(snap.TotalWeight))
		RunQueueEntities.WithLabelValues(label).Set(float64(len(snap.Members)))

		prev := c.last[unit]
		if d := snap.Stats.Switches - prev.Switches; d > 0 {
			ContextSwitchesTotal.WithLabelValues(label).Add(float64(d))
		}
		if d := snap.Stats.MigrationsIn - prev.MigrationsIn; d > 0 {
			MigrationsTotal.WithLabelValues(label).Add(float64(d))
		}
		c.last[unit] = snap.Stats
	}
}

func (c *Collector) collectEntities() {
	counts := map[sched.Policy]int{
		sched.PolicyNormal: 0,
		sched.PolicyWRR:    0,
	}
	for _, e := range c.sched.Entities() {
		counts[e.CurrentPolicy()]++
	}
	for policy, n := range counts {
		EntitiesTotal.WithLabelValues(policy.String()).Set(float64(n))
	}
}
