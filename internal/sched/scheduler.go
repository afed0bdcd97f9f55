// internal/sched/scheduler.go

package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/rs/zerolog"

	"wrrsched/internal/log"
)

// Scheduler implements weighted round-robin scheduling over a fixed set of
// processing units and streams state changes.
type Scheduler struct {
	cfg Config
	rqs []*RunQueue // one per unit, never resized

	mu    sync.RWMutex // protects tasks
	tasks *treemap.Map // EntityID -> *Entity, ordered by id

	statusCh    chan StatusEvent // channel for status events
	dropped     atomic.Uint64    // events lost to a full channel
	lastBalance atomic.Int64     // host tick of the last balancing pass

	logger zerolog.Logger
}

// New creates a new Scheduler instance with the given configuration.
func New(cfg Config) *Scheduler {
	cfg = cfg.sanitize()

	s := &Scheduler{
		cfg:    cfg,
		rqs:    make([]*RunQueue, cfg.Units),
		tasks:  treemap.NewWith(cmp),
		logger: log.WithComponent("sched"),
	}
	for i := range s.rqs {
		s.rqs[i] = newRunQueue(i)
	}
	if cfg.EventBuffer > 0 {
		s.statusCh = make(chan StatusEvent, cfg.EventBuffer)
	}
	return s
}

// Config returns the sanitized configuration the scheduler runs with.
func (s *Scheduler) Config() Config { return s.cfg }

// NumUnits returns the number of processing units.
func (s *Scheduler) NumUnits() int { return len(s.rqs) }

// RunQueue returns the run queue of unit.
func (s *Scheduler) RunQueue(unit int) (*RunQueue, error) {
	if unit < 0 || unit >= len(s.rqs) {
		return nil, fmt.Errorf("unit %d out of range [0,%d): %w", unit, len(s.rqs), ErrInvalidArgument)
	}
	return s.rqs[unit], nil
}

// StatusChannel exposes read‑only stream (optional consumers).
func (s *Scheduler) StatusChannel() <-chan StatusEvent { return s.statusCh }

// DroppedEvents returns how many events were lost to a full status channel.
func (s *Scheduler) DroppedEvents() uint64 { return s.dropped.Load() }

func (s *Scheduler) quantum(weight int) int {
	return weight * s.cfg.BaseQuantum
}

// Register adds e to the entity table.
func (s *Scheduler) Register(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tasks.Get(e.ID); dup {
		return fmt.Errorf("entity %d already exists: %w", e.ID, ErrInvalidArgument)
	}
	s.tasks.Put(e.ID, e)
	return nil
}

// Lookup resolves an entity id.
func (s *Scheduler) Lookup(id EntityID) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.tasks.Get(id)
	if !ok {
		return nil, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}
	return v.(*Entity), nil
}

// Entities returns every registered entity ordered by id.
func (s *Scheduler) Entities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entity, 0, s.tasks.Size())
	for _, v := range s.tasks.Values() {
		out = append(out, v.(*Entity))
	}
	return out
}

// Exit removes e from its run queue, if any, and from the entity table.
func (s *Scheduler) Exit(e *Entity) error {
	rq := s.lockEntity(e)
	if rq != nil {
		if err := rq.dequeueLocked(e); err != nil {
			s.unlockEntity(e, rq)
			return err
		}
	}
	s.emit(StatusExit, unitOf(rq), e)
	s.unlockEntity(e, rq)

	s.mu.Lock()
	s.tasks.Remove(e.ID)
	s.mu.Unlock()
	return nil
}

// lockEntity locks e and the run queue that owns it, if any. The owner is
// re-checked after locking because a balancer may migrate e in between.
// Lock order is entity, then run queue.
func (s *Scheduler) lockEntity(e *Entity) *RunQueue {
	e.mu.Lock()
	for {
		u := e.Unit()
		if u == noUnit {
			return nil
		}
		rq := s.rqs[u]
		rq.mu.Lock()
		if e.Unit() == u {
			return rq
		}
		rq.mu.Unlock()
	}
}

func (s *Scheduler) unlockEntity(e *Entity, rq *RunQueue) {
	if rq != nil {
		rq.mu.Unlock()
	}
	e.mu.Unlock()
}

// lockPair locks two distinct run queues in ascending unit order.
func lockPair(a, b *RunQueue) {
	if a.unit < b.unit {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *RunQueue) {
	a.mu.Unlock()
	b.mu.Unlock()
}

func unitOf(rq *RunQueue) int {
	if rq == nil {
		return noUnit
	}
	return rq.unit
}

// Enqueue makes e runnable on unit. e must be under the WRR policy, allowed
// on unit, and not already on any run queue.
func (s *Scheduler) Enqueue(unit int, e *Entity) error {
	rq, err := s.RunQueue(unit)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Policy != PolicyWRR {
		return fmt.Errorf("enqueue entity %d: policy %s: %w", e.ID, e.Policy, ErrInvalidArgument)
	}
	if !e.AllowedOn(unit) {
		return fmt.Errorf("enqueue entity %d: not allowed on unit %d: %w", e.ID, unit, ErrInvalidArgument)
	}

	rq.mu.Lock()
	defer rq.mu.Unlock()
	if err := rq.enqueueLocked(e); err != nil {
		s.logger.Error().Err(err).Int("unit", unit).Msg("enqueue contract violation")
		return err
	}
	s.emit(StatusEnqueue, unit, e)
	return nil
}

// Dequeue removes e from unit's run queue.
func (s *Scheduler) Dequeue(unit int, e *Entity) error {
	rq, err := s.RunQueue(unit)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if err := rq.dequeueLocked(e); err != nil {
		s.logger.Error().Err(err).Int("unit", unit).Msg("dequeue contract violation")
		return err
	}
	s.emit(StatusDequeue, unit, e)
	return nil
}

// PickNext returns the current entity of unit with a fresh time slice, or
// nil if the run queue is empty.
func (s *Scheduler) PickNext(unit int) *Entity {
	rq, err := s.RunQueue(unit)
	if err != nil {
		s.logger.Error().Err(err).Msg("pick next")
		return nil
	}
	rq.mu.Lock()
	defer rq.mu.Unlock()

	cur := rq.currentLocked()
	if cur == nil {
		return nil
	}
	cur.TimeSlice = s.quantum(cur.Weight)
	if rq.lastPicked != cur {
		rq.stats.Switches++
		rq.lastPicked = cur
	}
	s.emit(StatusDispatch, unit, cur)
	return cur
}

// PutPrev is a no-op for WRR: a running entity never leaves the circular
// order, the cursor alone decides who is next.
func (s *Scheduler) PutPrev(unit int, e *Entity) {}

// Tick charges one tick to the current entity of unit. When its slice runs
// out the cursor advances and true is returned; a lone entity is refilled in
// place instead.
func (s *Scheduler) Tick(unit int) bool {
	rq, err := s.RunQueue(unit)
	if err != nil {
		s.logger.Error().Err(err).Msg("tick")
		return false
	}
	rq.mu.Lock()
	defer rq.mu.Unlock()

	cur := rq.currentLocked()
	if cur == nil {
		return false
	}
	if cur.TimeSlice > 0 {
		cur.TimeSlice--
	}
	if cur.TimeSlice > 0 {
		return false
	}

	if rq.members.Size() > 1 {
		s.emit(StatusPreempt, unit, cur)
		rq.advanceLocked()
		return true
	}
	cur.TimeSlice = s.quantum(cur.Weight)
	rq.stats.Refills++
	s.emit(StatusRefill, unit, cur)
	return false
}

// Yield forfeits the rest of the current entity's slice on unit.
func (s *Scheduler) Yield(unit int) bool {
	rq, err := s.RunQueue(unit)
	if err != nil {
		s.logger.Error().Err(err).Msg("yield")
		return false
	}
	rq.mu.Lock()
	defer rq.mu.Unlock()

	cur := rq.currentLocked()
	if cur == nil || rq.members.Size() < 2 {
		return false
	}
	cur.TimeSlice = 0
	s.emit(StatusYield, unit, cur)
	rq.advanceLocked()
	return true
}

// Fork initialises child from parent: the child adopts WRR and inherits the
// parent's weight when the parent is under WRR, DefaultWeight otherwise.
func (s *Scheduler) Fork(parent, child *Entity) error {
	if parent == child {
		return fmt.Errorf("fork entity %d from itself: %w", child.ID, ErrInvalidArgument)
	}

	weight := DefaultWeight
	rq := s.lockEntity(parent)
	if parent.Policy == PolicyWRR {
		weight = parent.Weight
	}
	allowed := parent.Allowed.Copy()
	s.unlockEntity(parent, rq)

	child.mu.Lock()
	defer child.mu.Unlock()
	if child.OnRunQueue() {
		return fmt.Errorf("fork into entity %d: already runnable: %w", child.ID, ErrInvalidState)
	}
	child.Policy = PolicyWRR
	child.Weight = weight
	child.TimeSlice = s.quantum(weight)
	if child.Allowed == nil {
		child.Allowed = allowed
	}
	s.emit(StatusFork, noUnit, child)
	return nil
}

// SwitchedTo resets e to DefaultWeight with a full slice. A weight set
// before the switch is discarded.
func (s *Scheduler) SwitchedTo(e *Entity) {
	rq := s.lockEntity(e)
	defer s.unlockEntity(e, rq)
	s.switchedToLocked(e, rq)
}

func (s *Scheduler) switchedToLocked(e *Entity, rq *RunQueue) {
	if rq != nil {
		rq.reweightLocked(e, DefaultWeight)
	} else {
		e.Weight = DefaultWeight
	}
	e.Policy = PolicyWRR
	e.TimeSlice = s.quantum(DefaultWeight)
	s.emit(StatusPolicyChange, unitOf(rq), e)
}

// SwitchedFrom drops the remaining slice of an entity leaving WRR.
func (s *Scheduler) SwitchedFrom(e *Entity) {
	rq := s.lockEntity(e)
	defer s.unlockEntity(e, rq)
	s.switchedFromLocked(e, rq)
}

func (s *Scheduler) switchedFromLocked(e *Entity, rq *RunQueue) {
	e.Policy = PolicyNormal
	e.TimeSlice = 0
	s.emit(StatusPolicyChange, unitOf(rq), e)
}

// SelectUnit returns the allowed unit with the smallest total weight, the
// first one in unit order on ties. Queues are read one at a time, so the
// answer may already be stale when the caller enqueues; the balancer
// evens that out later.
func (s *Scheduler) SelectUnit(e *Entity) (int, error) {
	if unit, ok := e.pinnedUnit(); ok {
		if unit >= len(s.rqs) {
			return noUnit, fmt.Errorf("entity %d pinned to missing unit %d: %w", e.ID, unit, ErrInvalidArgument)
		}
		return unit, nil
	}

	best, bestWeight := noUnit, int64(0)
	for _, rq := range s.rqs {
		if !e.AllowedOn(rq.unit) {
			continue
		}
		w := rq.TotalWeight()
		if best == noUnit || w < bestWeight {
			best, bestWeight = rq.unit, w
		}
	}
	if best == noUnit {
		return noUnit, fmt.Errorf("entity %d has no allowed unit: %w", e.ID, ErrInvalidArgument)
	}
	return best, nil
}

// RRInterval returns the wall-clock length of e's full quantum.
func (s *Scheduler) RRInterval(e *Entity) time.Duration {
	rq := s.lockEntity(e)
	defer s.unlockEntity(e, rq)

	if e.Policy != PolicyWRR {
		return 0
	}
	return time.Duration(s.quantum(e.Weight)) * s.cfg.Tick()
}

// cmp orders entity ids in the entity table.
func cmp(a, b any) int {
	ka, kb := a.(EntityID), b.(EntityID)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	default:
		return 0
	}
}
