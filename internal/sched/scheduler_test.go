package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinFairness(t *testing.T) {
	s := newTestScheduler(t, 1)
	const n = 5
	for id := EntityID(1); id <= n; id++ {
		require.NoError(t, s.Enqueue(0, newWRR(t, s, id, 4)))
	}

	var order []EntityID
	for i := 0; i < 3*n; i++ {
		e, _ := runSlice(t, s, 0)
		order = append(order, e.ID)
	}

	want := []EntityID{1, 2, 3, 4, 5, 1, 2, 3, 4, 5, 1, 2, 3, 4, 5}
	assert.Equal(t, want, order)
}

func TestWeightProportionalQuantum(t *testing.T) {
	tests := []struct {
		name        string
		baseQuantum int
		weights     []int
	}{
		{name: "base quantum 1", baseQuantum: 1, weights: []int{3, 6}},
		{name: "base quantum 4", baseQuantum: 4, weights: []int{1, 2}},
		{name: "mixed", baseQuantum: 2, weights: []int{10, 20, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Units = 1
			cfg.BaseQuantum = tt.baseQuantum
			s := New(cfg)
			for i, w := range tt.weights {
				require.NoError(t, s.Enqueue(0, newWRR(t, s, EntityID(i+1), w)))
			}

			for round := 0; round < 2; round++ {
				for _, w := range tt.weights {
					_, ran := runSlice(t, s, 0)
					assert.Equal(t, w*tt.baseQuantum, ran)
				}
			}
		})
	}
}

func TestDoubleWeightRunsTwiceAsLong(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.Enqueue(0, newWRR(t, s, 1, 7)))
	require.NoError(t, s.Enqueue(0, newWRR(t, s, 2, 14)))

	_, light := runSlice(t, s, 0)
	_, heavy := runSlice(t, s, 0)
	assert.Equal(t, 2*light, heavy)
}

func TestSingleEntityNeverReschedules(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := newWRR(t, s, 1, 3)
	require.NoError(t, s.Enqueue(0, a))
	require.Same(t, a, s.PickNext(0))

	for i := 0; i < 1000; i++ {
		require.False(t, s.Tick(0))
		snap := s.rqs[0].Snapshot()
		require.Greater(t, snap.Members[0].TimeSlice, 0)
		require.LessOrEqual(t, snap.Members[0].TimeSlice, 3)
	}
	assert.Equal(t, uint64(1000/3), s.rqs[0].Snapshot().Stats.Refills)
}

func TestPickNextRefreshesSlice(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := newWRR(t, s, 1, 6)
	require.NoError(t, s.Enqueue(0, a))

	s.PickNext(0)
	s.Tick(0)
	s.Tick(0)
	assert.Equal(t, 4, s.rqs[0].Snapshot().Members[0].TimeSlice)

	s.PickNext(0)
	assert.Equal(t, 6, s.rqs[0].Snapshot().Members[0].TimeSlice)
	assert.Equal(t, uint64(1), s.rqs[0].Snapshot().Stats.Switches)
}

func TestWeightChangeAppliesAtNextSelection(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := newWRR(t, s, 1, 4)
	b := newWRR(t, s, 2, 4)
	require.NoError(t, s.Enqueue(0, a))
	require.NoError(t, s.Enqueue(0, b))

	require.Same(t, a, s.PickNext(0))
	s.Tick(0)
	require.NoError(t, s.SetWeight(root, 1, 9))
	assert.Equal(t, 3, s.rqs[0].Snapshot().Members[0].TimeSlice)
	assert.Equal(t, int64(13), s.rqs[0].TotalWeight())

	for !s.Tick(0) {
	}
	runSlice(t, s, 0) // b
	_, ran := runSlice(t, s, 0)
	assert.Equal(t, 9, ran)
}

func TestYield(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := newWRR(t, s, 1, 10)
	require.NoError(t, s.Enqueue(0, a))
	s.PickNext(0)
	assert.False(t, s.Yield(0), "lone entity keeps running")

	b := newWRR(t, s, 2, 10)
	require.NoError(t, s.Enqueue(0, b))
	assert.True(t, s.Yield(0))
	assert.Same(t, b, s.PickNext(0))
	assert.Equal(t, 0, a.TimeSlice)
}

func TestFork(t *testing.T) {
	s := newTestScheduler(t, 1)
	parent := newWRR(t, s, 1, 10)

	for _, w := range []int{1, 2, 10, 77, 512, 9999, 10000} {
		require.NoError(t, s.SetWeight(root, parent.ID, w))
		child := NewEntity(EntityID(1000+w), parent.Owner)

		require.NoError(t, s.Fork(parent, child))
		assert.Equal(t, w, child.Weight)
		assert.Equal(t, w*s.cfg.BaseQuantum, child.TimeSlice)
		assert.Equal(t, PolicyWRR, child.Policy)
		assert.False(t, child.OnRunQueue())
	}
}

func TestForkFromNormalParent(t *testing.T) {
	s := newTestScheduler(t, 1)
	parent := NewEntity(1, 1000)
	parent.Weight = 55
	child := NewEntity(2, 1000)

	require.NoError(t, s.Fork(parent, child))
	assert.Equal(t, DefaultWeight, child.Weight)
	assert.Equal(t, PolicyWRR, child.Policy)
}

func TestForkInheritsAffinity(t *testing.T) {
	s := newTestScheduler(t, 2)
	parent := newWRR(t, s, 1, 3)
	parent.Allowed = NewCPUSetOf(1)
	child := NewEntity(2, 1000)

	require.NoError(t, s.Fork(parent, child))
	assert.True(t, child.AllowedOn(1))
	assert.False(t, child.AllowedOn(0))
}

func TestForkIntoRunnableChild(t *testing.T) {
	s := newTestScheduler(t, 1)
	parent := newWRR(t, s, 1, 3)
	child := newWRR(t, s, 2, 5)
	require.NoError(t, s.Enqueue(0, child))

	assert.ErrorIs(t, s.Fork(parent, child), ErrInvalidState)
	assert.Equal(t, 5, child.Weight)
	assert.ErrorIs(t, s.Fork(parent, parent), ErrInvalidArgument)
}

func TestSwitchedToResetsWeight(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := newWRR(t, s, 1, 30)
	require.NoError(t, s.Enqueue(0, a))
	require.Equal(t, int64(30), s.rqs[0].TotalWeight())

	s.SwitchedTo(a)
	assert.Equal(t, DefaultWeight, a.Weight)
	assert.Equal(t, DefaultWeight*s.cfg.BaseQuantum, a.TimeSlice)
	assert.Equal(t, int64(DefaultWeight), s.rqs[0].TotalWeight())
	requireConsistent(t, s)
}

func TestSelectUnit(t *testing.T) {
	tests := []struct {
		name    string
		loads   []int // weight already enqueued per unit, 0 = empty
		allowed []int // nil = any unit
		want    int
		wantErr bool
	}{
		{name: "least loaded", loads: []int{10, 3, 7}, want: 1},
		{name: "tie goes to first", loads: []int{5, 2, 2}, want: 1},
		{name: "all empty", loads: []int{0, 0, 0}, want: 0},
		{name: "pinned ignores load", loads: []int{10, 3, 7}, allowed: []int{2}, want: 2},
		{name: "affinity excludes lighter unit", loads: []int{10, 3, 7}, allowed: []int{0, 2}, want: 2},
		{name: "pinned to missing unit", loads: []int{1, 1}, allowed: []int{5}, wantErr: true},
		{name: "no allowed unit", loads: []int{1, 1}, allowed: []int{4, 5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, len(tt.loads))
			for unit, w := range tt.loads {
				if w == 0 {
					continue
				}
				require.NoError(t, s.Enqueue(unit, newWRR(t, s, EntityID(100+unit), w)))
			}

			e := newWRR(t, s, 1, 10)
			if tt.allowed != nil {
				e.Allowed = NewCPUSetOf(tt.allowed...)
			}

			unit, err := s.SelectUnit(e)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, unit)
		})
	}
}

func TestRRInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Units = 1
	cfg.TickMS = 4
	cfg.BaseQuantum = 3
	s := New(cfg)

	a := newWRR(t, s, 1, 5)
	assert.Equal(t, 60*time.Millisecond, s.RRInterval(a))

	normal := NewEntity(2, 1000)
	assert.Equal(t, time.Duration(0), s.RRInterval(normal))
}

func TestHooksRejectUnknownUnit(t *testing.T) {
	s := newTestScheduler(t, 2)
	require.NoError(t, s.Enqueue(1, newWRR(t, s, 1, 2)))

	for _, unit := range []int{-1, 2, 99} {
		assert.NotPanics(t, func() {
			assert.Nil(t, s.PickNext(unit))
			assert.False(t, s.Tick(unit))
			assert.False(t, s.Yield(unit))
		}, "unit %d", unit)
		assert.ErrorIs(t, s.Enqueue(unit, NewEntity(9, 0)), ErrInvalidArgument)
	}
	assert.NotNil(t, s.PickNext(1))
}

func TestRegistry(t *testing.T) {
	s := newTestScheduler(t, 1)
	for _, id := range []EntityID{5, 1, 3} {
		require.NoError(t, s.Register(NewEntity(id, 1000)))
	}
	assert.ErrorIs(t, s.Register(NewEntity(3, 1000)), ErrInvalidArgument)

	var ids []EntityID
	for _, e := range s.Entities() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []EntityID{1, 3, 5}, ids)

	_, err := s.Lookup(4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExit(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := newWRR(t, s, 1, 4)
	b := newWRR(t, s, 2, 6)
	require.NoError(t, s.Enqueue(0, a))
	require.NoError(t, s.Enqueue(0, b))

	require.NoError(t, s.Exit(a))
	_, err := s.Lookup(1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []EntityID{2}, memberIDs(s.rqs[0].Snapshot()))
	assert.Equal(t, int64(6), s.rqs[0].TotalWeight())

	// Exiting an entity that is not runnable only unregisters it.
	c := newWRR(t, s, 3, 1)
	require.NoError(t, s.Exit(c))
	assert.Len(t, s.Entities(), 1)
}

func TestStatusEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Units = 1
	cfg.EventBuffer = 2
	s := New(cfg)

	a := NewEntity(1, 1000)
	require.NoError(t, s.Register(a))
	s.SwitchedTo(a)
	require.NoError(t, s.Enqueue(0, a))
	s.PickNext(0)

	ev := <-s.StatusChannel()
	assert.Equal(t, StatusPolicyChange, ev.Kind)
	assert.Equal(t, -1, ev.Unit)

	ev = <-s.StatusChannel()
	assert.Equal(t, StatusEnqueue, ev.Kind)
	assert.Equal(t, EntityID(1), ev.EntityID)
	assert.Equal(t, 0, ev.Unit)
	assert.Equal(t, DefaultWeight, ev.Weight)

	// The dispatch event did not fit in the buffer.
	assert.Equal(t, uint64(1), s.DroppedEvents())
	assert.Equal(t, "Dispatch", StatusDispatch.String())
}

func TestConcurrentOperationsKeepInvariants(t *testing.T) {
	const units = 4
	s := newTestScheduler(t, units)

	var ents []*Entity
	for id := EntityID(1); id <= 40; id++ {
		e := newWRR(t, s, id, int(id%7)+1)
		unit, err := s.SelectUnit(e)
		require.NoError(t, err)
		require.NoError(t, s.Enqueue(unit, e))
		ents = append(ents, e)
	}

	var wg sync.WaitGroup
	for unit := 0; unit < units; unit++ {
		unit := unit
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.PickNext(unit)
			for i := 0; i < 2000; i++ {
				if s.Tick(unit) {
					s.PickNext(unit)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.LoadBalance()
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			e := ents[i%len(ents)]
			_ = s.SetWeight(root, e.ID, i%13+1)
			_, _ = s.GetWeight(root, e.ID)
		}
	}()
	wg.Wait()

	requireConsistent(t, s)
	total := 0
	for unit := 0; unit < units; unit++ {
		total += s.rqs[unit].Len()
	}
	assert.Equal(t, len(ents), total)
}
