package sched

import (
	"sync"
	"sync/atomic"
)

// EntityID uniquely identifies a schedulable entity (the pid analogue).
type EntityID uint64

// UID identifies the owner of an entity. RootUID may act on any entity.
type UID uint32

const RootUID UID = 0

// Policy is the scheduling policy an entity is under.
type Policy int

const (
	PolicyNormal Policy = iota
	PolicyWRR
)

func (p Policy) String() string {
	switch p {
	case PolicyNormal:
		return "normal"
	case PolicyWRR:
		return "wrr"
	default:
		return "unknown"
	}
}

const noUnit = -1

// Entity is one schedulable unit.
//
// Weight and TimeSlice are guarded by the lock of the run queue that owns the
// entity, or by the entity's own lock while it is on no run queue.
type Entity struct {
	ID     EntityID
	Owner  UID
	Policy Policy

	// Allowed restricts the units the entity may be placed on; nil allows all.
	Allowed CPUSet

	Weight    int
	TimeSlice int // remaining ticks in the current quantum

	unit atomic.Int32
	mu   sync.Mutex
}

// NewEntity creates an entity under the normal policy, on no run queue.
func NewEntity(id EntityID, owner UID) *Entity {
	e := &Entity{
		ID:     id,
		Owner:  owner,
		Policy: PolicyNormal,
		Weight: DefaultWeight,
	}
	e.unit.Store(noUnit)
	return e
}

// Unit returns the unit whose run queue owns e, or -1.
func (e *Entity) Unit() int {
	return int(e.unit.Load())
}

// OnRunQueue reports whether e is currently enqueued. Callers racing with the
// scheduler only get a hint.
func (e *Entity) OnRunQueue() bool {
	return e.Unit() != noUnit
}

// AllowedOn reports whether e may run on unit.
func (e *Entity) AllowedOn(unit int) bool {
	return e.Allowed == nil || e.Allowed.IsSet(unit)
}

// pinnedUnit returns the single unit e is restricted to, if any.
func (e *Entity) pinnedUnit() (int, bool) {
	if e.Allowed == nil || e.Allowed.NumCPUs() != 1 {
		return noUnit, false
	}
	unit := noUnit
	e.Allowed.ForEachCPU(func(u int) { unit = u })
	return unit, true
}

// CurrentPolicy reads e's policy under its lock.
func (e *Entity) CurrentPolicy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Policy
}
