package sched

import "time"

// Migration records one entity moved by the load balancer.
type Migration struct {
	EntityID EntityID
	Weight   int
	From     int
	To       int
}

// MaybeLoadBalance runs LoadBalance if at least one balancing interval has
// passed since the last pass. now is the host tick count. Concurrent callers
// race on the timestamp and only the winner balances.
func (s *Scheduler) MaybeLoadBalance(now int64) *Migration {
	last := s.lastBalance.Load()
	if now-last < s.cfg.LBIntervalTicks() {
		return nil
	}
	if !s.lastBalance.CompareAndSwap(last, now) {
		return nil
	}
	return s.LoadBalance()
}

// LoadBalance moves at most one entity from the heaviest run queue to the
// lightest one. The heaviest migratable entity wins, provided the move does
// not flip the imbalance: min+w < max-w. An entity that is current on the
// source queue or cannot run on the destination is never moved.
func (s *Scheduler) LoadBalance() *Migration {
	if len(s.rqs) < 2 {
		return nil
	}

	var src, dst *RunQueue
	var maxW, minW int64
	for _, rq := range s.rqs {
		w := rq.TotalWeight()
		if src == nil || w > maxW {
			src, maxW = rq, w
		}
		if dst == nil || w < minW {
			dst, minW = rq, w
		}
	}
	if src == dst {
		return nil
	}

	lockPair(src, dst)
	defer unlockPair(src, dst)

	// The scan above was lock-free per queue; use the weights as they are now.
	maxW, minW = src.totalWeight, dst.totalWeight
	if maxW <= minW {
		return nil
	}

	cur := src.currentLocked()
	var pick *Entity
	for i := 0; i < src.members.Size(); i++ {
		e := src.at(i)
		if e == cur || !e.AllowedOn(dst.unit) {
			continue
		}
		if _, pinned := e.pinnedUnit(); pinned {
			continue
		}
		w := int64(e.Weight)
		if minW+w >= maxW-w {
			continue
		}
		if pick == nil || e.Weight > pick.Weight {
			pick = e
		}
	}
	if pick == nil {
		return nil
	}

	if err := src.dequeueLocked(pick); err != nil {
		s.logger.Error().Err(err).Msg("migration dequeue failed")
		return nil
	}
	if err := dst.enqueueLocked(pick); err != nil {
		s.logger.Error().Err(err).Msg("migration enqueue failed")
		return nil
	}
	src.stats.MigrationsOut++
	dst.stats.MigrationsIn++

	s.send(StatusEvent{
		Time:      time.Now(),
		Kind:      StatusMigrate,
		Unit:      src.unit,
		ToUnit:    dst.unit,
		EntityID:  pick.ID,
		Weight:    pick.Weight,
		TimeSlice: pick.TimeSlice,
	})
	s.logger.Debug().
		Uint64("entity", uint64(pick.ID)).
		Int("from", src.unit).
		Int("to", dst.unit).
		Int("weight", pick.Weight).
		Msg("migrated entity")

	return &Migration{EntityID: pick.ID, Weight: pick.Weight, From: src.unit, To: dst.unit}
}
