package sched

import "time"

// Class is the hook set a host scheduler framework drives. It mirrors the
// per-policy dispatch table of a kernel scheduler: the host decides when a
// hook runs, the class decides what runs.
type Class interface {
	// Enqueue makes e runnable on unit.
	Enqueue(unit int, e *Entity) error
	// Dequeue removes e from unit's run queue.
	Dequeue(unit int, e *Entity) error
	// PickNext returns the entity that should run on unit, or nil.
	PickNext(unit int) *Entity
	// PutPrev is called when e stops running on unit.
	PutPrev(unit int, e *Entity)
	// Tick accounts one tick to unit's running entity and reports whether the
	// host must reschedule.
	Tick(unit int) bool
	// Yield gives up the rest of the running entity's slice and reports
	// whether the host must reschedule.
	Yield(unit int) bool
	// Fork initialises child from parent. It does not enqueue child.
	Fork(parent, child *Entity) error
	// SwitchedTo is called when e adopts this class.
	SwitchedTo(e *Entity)
	// SwitchedFrom is called when e leaves this class.
	SwitchedFrom(e *Entity)
	// SelectUnit chooses the unit a newly runnable e should be placed on.
	SelectUnit(e *Entity) (int, error)
	// RRInterval returns the length of e's quantum.
	RRInterval(e *Entity) time.Duration
}

var _ Class = (*Scheduler)(nil)
