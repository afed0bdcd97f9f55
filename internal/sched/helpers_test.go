package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var root = Cred{UID: RootUID}

func newTestScheduler(t *testing.T, units int) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Units = units
	cfg.EventBuffer = 0
	return New(cfg)
}

// newWRR registers an entity, switches it to WRR and gives it weight.
func newWRR(t *testing.T, s *Scheduler, id EntityID, weight int) *Entity {
	t.Helper()
	e := NewEntity(id, 1000)
	require.NoError(t, s.Register(e))
	s.SwitchedTo(e)
	if weight != DefaultWeight {
		require.NoError(t, s.SetWeight(root, id, weight))
	}
	return e
}

func memberIDs(snap RunQueueSnapshot) []EntityID {
	out := make([]EntityID, 0, len(snap.Members))
	for _, m := range snap.Members {
		out = append(out, m.ID)
	}
	return out
}

// requireConsistent checks the weight and cursor invariants of every queue.
func requireConsistent(t *testing.T, s *Scheduler) {
	t.Helper()
	for _, rq := range s.rqs {
		snap := rq.Snapshot()
		var sum int64
		for _, m := range snap.Members {
			sum += int64(m.Weight)
		}
		require.Equal(t, sum, snap.TotalWeight, "unit %d total weight", snap.Unit)
		require.Equal(t, len(snap.Members) > 0, snap.HasCurrent, "unit %d cursor", snap.Unit)
	}
}

// runSlice picks the next entity on unit and ticks until a reschedule is
// requested, returning the entity and the number of ticks it ran.
func runSlice(t *testing.T, s *Scheduler, unit int) (*Entity, int) {
	t.Helper()
	e := s.PickNext(unit)
	require.NotNil(t, e)
	n := 0
	for {
		n++
		if s.Tick(unit) {
			return e, n
		}
		require.Less(t, n, 1_000_000, "no reschedule")
	}
}
