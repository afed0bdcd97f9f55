// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusEnqueue StatusKind = iota
	StatusDequeue
	StatusDispatch
	StatusPreempt
	StatusRefill
	StatusYield
	StatusMigrate
	StatusWeightUpdate
	StatusPolicyChange
	StatusFork
	StatusExit
)

// StatusEvent is emitted on every state change of a run queue or entity.
type StatusEvent struct {
	Time      time.Time
	Kind      StatusKind
	Unit      int // unit the event happened on, -1 if none
	ToUnit    int // destination unit of a migration
	EntityID  EntityID
	Weight    int
	TimeSlice int
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusEnqueue:
		return "Enqueued"
	case StatusDequeue:
		return "Dequeued"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusRefill:
		return "Refill"
	case StatusYield:
		return "Yield"
	case StatusMigrate:
		return "Migrate"
	case StatusWeightUpdate:
		return "WeightUpdate"
	case StatusPolicyChange:
		return "PolicyChange"
	case StatusFork:
		return "Fork"
	case StatusExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// emit hands ev to the status channel without blocking. Events are emitted
// from inside run-queue critical sections, so a slow consumer loses events
// instead of stalling the scheduler.
func (s *Scheduler) emit(kind StatusKind, unit int, e *Entity) {
	if s.statusCh == nil {
		return
	}
	ev := StatusEvent{
		Time:   time.Now(),
		Kind:   kind,
		Unit:   unit,
		ToUnit: noUnit,
	}
	if e != nil {
		ev.EntityID = e.ID
		ev.Weight = e.Weight
		ev.TimeSlice = e.TimeSlice
	}
	s.send(ev)
}

func (s *Scheduler) send(ev StatusEvent) {
	select {
	case s.statusCh <- ev:
	default:
		s.dropped.Add(1)
	}
}
