package sched

import (
	"fmt"
)

// Cred identifies the caller of a control operation. UID RootUID is
// privileged.
type Cred struct {
	UID UID
	PID EntityID
}

// resolve maps pid 0 to the caller and looks the entity up.
func (s *Scheduler) resolve(caller Cred, pid EntityID) (*Entity, error) {
	if pid == 0 {
		pid = caller.PID
	}
	return s.Lookup(pid)
}

func authorize(caller Cred, e *Entity) error {
	if caller.UID == RootUID || caller.UID == e.Owner || caller.PID == e.ID {
		return nil
	}
	return fmt.Errorf("uid %d on entity %d: %w", caller.UID, e.ID, ErrPermissionDenied)
}

// SetWeight sets the WRR weight of pid (0 = caller). The new weight applies
// from the entity's next selection; a slice already handed out is kept.
func (s *Scheduler) SetWeight(caller Cred, pid EntityID, weight int) error {
	if weight < 1 {
		return fmt.Errorf("weight %d: %w", weight, ErrInvalidArgument)
	}
	e, err := s.resolve(caller, pid)
	if err != nil {
		return err
	}
	if err := authorize(caller, e); err != nil {
		return err
	}

	rq := s.lockEntity(e)
	defer s.unlockEntity(e, rq)

	if e.Policy != PolicyWRR {
		return fmt.Errorf("set weight of entity %d: policy %s: %w", e.ID, e.Policy, ErrInvalidArgument)
	}
	if rq != nil {
		rq.reweightLocked(e, weight)
	} else {
		e.Weight = weight
	}
	s.emit(StatusWeightUpdate, unitOf(rq), e)
	return nil
}

// GetWeight returns the WRR weight of pid (0 = caller).
func (s *Scheduler) GetWeight(caller Cred, pid EntityID) (int, error) {
	e, err := s.resolve(caller, pid)
	if err != nil {
		return 0, err
	}

	rq := s.lockEntity(e)
	defer s.unlockEntity(e, rq)

	if e.Policy != PolicyWRR {
		return 0, fmt.Errorf("get weight of entity %d: policy %s: %w", e.ID, e.Policy, ErrInvalidArgument)
	}
	return e.Weight, nil
}

// SetPolicy moves pid (0 = caller) between policies. Joining WRR resets the
// entity as SwitchedTo does; the host then places it. Leaving WRR dequeues
// the entity and clears its slice.
func (s *Scheduler) SetPolicy(caller Cred, pid EntityID, policy Policy) error {
	if policy != PolicyNormal && policy != PolicyWRR {
		return fmt.Errorf("policy %d: %w", policy, ErrInvalidArgument)
	}
	e, err := s.resolve(caller, pid)
	if err != nil {
		return err
	}
	if err := authorize(caller, e); err != nil {
		return err
	}

	rq := s.lockEntity(e)
	defer s.unlockEntity(e, rq)

	if e.Policy == policy {
		return nil
	}
	if policy == PolicyWRR {
		s.switchedToLocked(e, rq)
		return nil
	}

	// Dequeue and flip the policy under one hold so a concurrent Enqueue
	// sees either a WRR entity or a Normal one, never a Normal member.
	if rq != nil {
		if err := rq.dequeueLocked(e); err != nil {
			return err
		}
		s.emit(StatusDequeue, rq.unit, e)
	}
	s.switchedFromLocked(e, rq)
	return nil
}

// SysSetWeight is the syscall-style form of SetWeight: 0 on success, a
// negative errno otherwise.
func (s *Scheduler) SysSetWeight(caller Cred, pid int, weight int) int {
	if pid < 0 {
		return Errno(ErrInvalidArgument)
	}
	return Errno(s.SetWeight(caller, EntityID(pid), weight))
}

// SysGetWeight returns the weight of pid, or a negative errno.
func (s *Scheduler) SysGetWeight(caller Cred, pid int) int {
	if pid < 0 {
		return Errno(ErrInvalidArgument)
	}
	w, err := s.GetWeight(caller, EntityID(pid))
	if err != nil {
		return Errno(err)
	}
	return w
}

// SysSetPolicy is the syscall-style form of SetPolicy.
func (s *Scheduler) SysSetPolicy(caller Cred, pid int, policy int) int {
	if pid < 0 {
		return Errno(ErrInvalidArgument)
	}
	return Errno(s.SetPolicy(caller, EntityID(pid), Policy(policy)))
}
