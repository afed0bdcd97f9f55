package sched

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/lists/arraylist"
)

// RunQueue is the per-unit WRR run queue: a circular order of entities, a
// cursor naming the entity entitled to run, and the sum of member weights.
type RunQueue struct {
	mu          sync.Mutex      // protects everything below
	unit        int             // owning processing unit
	members     *arraylist.List // *Entity values in circular order
	cursor      int             // index of current in members, -1 when empty
	totalWeight int64           // sum of member weights
	lastPicked  *Entity         // last entity handed out by pickNext
	stats       RunQueueStats   // schedstat-style counters
}

// RunQueueStats are cumulative counters kept per run queue.
type RunQueueStats struct {
	Switches      uint64 // pickNext returned a different entity than before
	Refills       uint64 // single-member quantum refills
	MigrationsIn  uint64
	MigrationsOut uint64
}

// Member is one entry of a RunQueueSnapshot.
type Member struct {
	ID        EntityID
	Weight    int
	TimeSlice int
}

// RunQueueSnapshot is a copy of a run queue's state. Members are listed in
// circular order starting at the current entity.
type RunQueueSnapshot struct {
	Unit        int
	Current     EntityID
	HasCurrent  bool
	Members     []Member
	TotalWeight int64
	Stats       RunQueueStats
}

func newRunQueue(unit int) *RunQueue {
	return &RunQueue{
		unit:    unit,
		members: arraylist.New(),
		cursor:  -1,
	}
}

// Unit returns the processing unit the queue belongs to.
func (rq *RunQueue) Unit() int { return rq.unit }

// TotalWeight returns the aggregate weight of the queue.
func (rq *RunQueue) TotalWeight() int64 {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.totalWeight
}

// Len returns the number of enqueued entities.
func (rq *RunQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.members.Size()
}

// Snapshot copies the queue state under its lock.
func (rq *RunQueue) Snapshot() RunQueueSnapshot {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	snap := RunQueueSnapshot{
		Unit:        rq.unit,
		TotalWeight: rq.totalWeight,
		Stats:       rq.stats,
	}
	n := rq.members.Size()
	if n == 0 {
		return snap
	}
	snap.Members = make([]Member, 0, n)
	for i := 0; i < n; i++ {
		e := rq.at((rq.cursor + i) % n)
		snap.Members = append(snap.Members, Member{ID: e.ID, Weight: e.Weight, TimeSlice: e.TimeSlice})
	}
	snap.Current = snap.Members[0].ID
	snap.HasCurrent = true
	return snap
}

func (rq *RunQueue) at(i int) *Entity {
	v, _ := rq.members.Get(i)
	return v.(*Entity)
}

// currentLocked returns the entity under the cursor, nil when empty.
func (rq *RunQueue) currentLocked() *Entity {
	if rq.cursor < 0 {
		return nil
	}
	return rq.at(rq.cursor)
}

// enqueueLocked inserts e just ahead of the cursor so it runs after every
// entity already waiting. An empty queue makes e current.
func (rq *RunQueue) enqueueLocked(e *Entity) error {
	if u := e.Unit(); u != noUnit {
		return fmt.Errorf("enqueue entity %d on unit %d: already on unit %d: %w", e.ID, rq.unit, u, ErrInvalidState)
	}

	if rq.cursor < 0 {
		rq.members.Add(e)
		rq.cursor = 0
	} else {
		rq.members.Insert(rq.cursor, e)
		rq.cursor++
	}
	rq.totalWeight += int64(e.Weight)
	e.unit.Store(int32(rq.unit))
	return nil
}

// dequeueLocked removes e. If e was current the cursor moves on to the next
// member in circular order.
func (rq *RunQueue) dequeueLocked(e *Entity) error {
	idx := -1
	if e.Unit() == rq.unit {
		idx = rq.members.IndexOf(e)
	}
	if idx < 0 {
		return fmt.Errorf("dequeue entity %d from unit %d: not a member: %w", e.ID, rq.unit, ErrInvalidState)
	}

	rq.members.Remove(idx)
	switch n := rq.members.Size(); {
	case n == 0:
		rq.cursor = -1
	case idx < rq.cursor:
		rq.cursor--
	case idx == rq.cursor && rq.cursor == n:
		rq.cursor = 0
	}
	rq.totalWeight -= int64(e.Weight)
	if rq.lastPicked == e {
		rq.lastPicked = nil
	}
	e.unit.Store(noUnit)
	return nil
}

// advanceLocked moves the cursor to the next member in circular order.
func (rq *RunQueue) advanceLocked() {
	if n := rq.members.Size(); n > 0 {
		rq.cursor = (rq.cursor + 1) % n
	}
}

// reweightLocked changes the weight of a member and keeps totalWeight exact.
func (rq *RunQueue) reweightLocked(e *Entity, weight int) {
	rq.totalWeight += int64(weight - e.Weight)
	e.Weight = weight
}
