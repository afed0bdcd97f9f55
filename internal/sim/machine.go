package sim

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"wrrsched/internal/job"
	"wrrsched/internal/log"
	"wrrsched/internal/metrics"
	"wrrsched/internal/sched"
)

// proc is the host-side view of one spawned job.
type proc struct {
	spec      job.Spec
	e         *sched.Entity
	remaining int64
	ran       int64
	arrived   int64
	finished  int64
	done      bool
}

// Machine is a deterministic host for the WRR class: it owns the clock,
// decides what each unit is running, and calls the class hooks the way a
// kernel scheduler core would.
type Machine struct {
	sched     *sched.Scheduler
	runID     string
	logger    zerolog.Logger
	collector *metrics.Collector

	now atomic.Int64 // ticks elapsed

	// Per unit: the entity running there and ticks since its dispatch.
	running    []*sched.Entity
	sliceTicks []int64
	unitLog    []zerolog.Logger

	procs      map[sched.EntityID]*proc
	byName     map[string]*proc
	pending    []job.Spec // not yet arrived, ordered by arrival
	nextID     sched.EntityID
	migrations []sched.Migration
}

// NewMachine creates a host around a fresh scheduler built from cfg.
func NewMachine(cfg sched.Config) *Machine {
	s := sched.New(cfg)
	runID := uuid.New().String()

	m := &Machine{
		sched:      s,
		runID:      runID,
		logger:     log.WithRunID(runID).With().Str("component", "sim").Logger(),
		collector:  metrics.NewCollector(s),
		running:    make([]*sched.Entity, s.NumUnits()),
		sliceTicks: make([]int64, s.NumUnits()),
		unitLog:    make([]zerolog.Logger, s.NumUnits()),
		procs:      make(map[sched.EntityID]*proc),
		byName:     make(map[string]*proc),
		nextID:     1,
	}
	for unit := range m.unitLog {
		m.unitLog[unit] = log.WithUnit(unit).With().Str("run_id", runID).Logger()
	}
	return m
}

// Scheduler exposes the scheduler the machine drives.
func (m *Machine) Scheduler() *sched.Scheduler { return m.sched }

// RunID identifies this machine in logs and traces.
func (m *Machine) RunID() string { return m.runID }

// Now returns the number of ticks simulated so far.
func (m *Machine) Now() int64 { return m.now.Load() }

// Migrations returns every migration performed so far.
func (m *Machine) Migrations() []sched.Migration {
	return append([]sched.Migration(nil), m.migrations...)
}

// Submit queues jobs to be spawned when their arrival tick is reached.
func (m *Machine) Submit(specs ...job.Spec) {
	m.pending = append(m.pending, specs...)
	sort.SliceStable(m.pending, func(i, j int) bool {
		return m.pending[i].Arrive < m.pending[j].Arrive
	})
}

// Idle reports whether every submitted job has finished.
func (m *Machine) Idle() bool {
	if len(m.pending) > 0 {
		return false
	}
	for _, p := range m.procs {
		if !p.done {
			return false
		}
	}
	return true
}

// Spawn makes a job runnable now: the entity joins WRR by switching in, or
// by forking from its parent job, then takes its configured weight and is
// placed on the lightest allowed unit.
func (m *Machine) Spawn(spec job.Spec) (*sched.Entity, error) {
	if _, dup := m.byName[spec.Name]; dup {
		return nil, fmt.Errorf("job %q already spawned", spec.Name)
	}
	allowed, err := spec.Affinity()
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", spec.Name, err)
	}

	var parent *proc
	if spec.Parent != "" {
		var ok bool
		if parent, ok = m.byName[spec.Parent]; !ok {
			return nil, fmt.Errorf("job %q: unknown parent %q", spec.Name, spec.Parent)
		}
	}

	id := m.nextID
	e := sched.NewEntity(id, sched.UID(spec.Owner))
	e.Allowed = allowed
	if err := m.sched.Register(e); err != nil {
		return nil, err
	}
	m.nextID++

	self := sched.Cred{UID: e.Owner, PID: id}
	if parent != nil {
		if err := m.sched.Fork(parent.e, e); err != nil {
			return nil, err
		}
	} else if err := m.sched.SetPolicy(self, 0, sched.PolicyWRR); err != nil {
		return nil, err
	}
	if spec.Weight > 0 {
		if err := m.sched.SetWeight(self, 0, spec.Weight); err != nil {
			return nil, err
		}
	}

	unit, err := m.sched.SelectUnit(e)
	if err != nil {
		return nil, err
	}
	if err := m.sched.Enqueue(unit, e); err != nil {
		return nil, err
	}

	p := &proc{spec: spec, e: e, remaining: spec.Work, arrived: m.Now()}
	m.procs[id] = p
	m.byName[spec.Name] = p

	l := log.WithEntity(uint64(id))
	l.Debug().
		Str("run_id", m.runID).
		Str("job", spec.Name).
		Int("unit", unit).
		Int("weight", e.Weight).
		Msg("spawned")
	return e, nil
}

// Step advances the machine by one tick: arrivals are spawned, every unit
// ticks in parallel, finished jobs exit, and the balancer gets its chance.
func (m *Machine) Step(ctx context.Context) error {
	if err := m.admit(); err != nil {
		return err
	}

	finished := make([]*proc, len(m.running))
	g, gctx := errgroup.WithContext(ctx)
	for unit := range m.running {
		unit := unit
		g.Go(func() error {
			p, err := m.stepUnit(gctx, unit)
			finished[unit] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := m.now.Add(1)
	for unit, p := range finished {
		if p == nil {
			continue
		}
		p.done = true
		p.finished = now
		m.running[unit] = nil
		if err := m.sched.Exit(p.e); err != nil {
			return fmt.Errorf("exit job %q: %w", p.spec.Name, err)
		}
		m.logger.Debug().Str("job", p.spec.Name).Int64("tick", now).Int64("ran", p.ran).Msg("finished")
	}

	timer := metrics.NewTimer()
	if mig := m.sched.MaybeLoadBalance(now); mig != nil {
		m.migrations = append(m.migrations, *mig)
	}
	timer.ObserveDuration(metrics.BalanceDuration)

	metrics.TicksTotal.Inc()
	m.collector.Collect()
	return nil
}

// stepUnit runs one tick on unit and returns the job that finished on it.
func (m *Machine) stepUnit(ctx context.Context, unit int) (*proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := m.running[unit]
	if e == nil {
		e = m.dispatch(unit)
		if e == nil {
			return nil, nil
		}
	}
	p, ok := m.procs[e.ID]
	if !ok {
		return nil, fmt.Errorf("unit %d runs unknown entity %d: %w", unit, e.ID, sched.ErrInvalidState)
	}

	p.ran++
	p.remaining--
	m.sliceTicks[unit]++
	resched := m.sched.Tick(unit)
	if p.remaining <= 0 {
		return p, nil
	}

	if !resched && p.spec.YieldEvery > 0 && m.sliceTicks[unit] >= p.spec.YieldEvery {
		resched = m.sched.Yield(unit)
	}
	if resched {
		m.sched.PutPrev(unit, e)
		m.dispatch(unit)
	}
	return nil, nil
}

func (m *Machine) dispatch(unit int) *sched.Entity {
	e := m.sched.PickNext(unit)
	m.running[unit] = e
	m.sliceTicks[unit] = 0
	if e != nil {
		m.unitLog[unit].Trace().Uint64("entity", uint64(e.ID)).Int("slice", e.TimeSlice).Msg("dispatch")
	}
	return e
}

func (m *Machine) admit() error {
	now := m.Now()
	n := 0
	for n < len(m.pending) && m.pending[n].Arrive <= now {
		if _, err := m.Spawn(m.pending[n]); err != nil {
			return err
		}
		n++
	}
	m.pending = m.pending[n:]
	return nil
}

// RunTicks performs n steps or stops at the first error.
func (m *Machine) RunTicks(ctx context.Context, n int64) error {
	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunUntilIdle steps until every job has finished, giving up after
// maxTicks steps.
func (m *Machine) RunUntilIdle(ctx context.Context, maxTicks int64) error {
	for !m.Idle() {
		if m.Now() >= maxTicks {
			return fmt.Errorf("jobs still running after %d ticks", maxTicks)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run steps once per clock tick until the machine is idle, the clock stops,
// or ctx is done.
func (m *Machine) Run(ctx context.Context, clock *TickClock) error {
	for !m.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-clock.Ch:
			if !ok {
				return nil
			}
			if err := m.Step(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Result summarises one job.
type Result struct {
	Name     string
	ID       sched.EntityID
	Weight   int
	Work     int64
	Ran      int64
	Arrived  int64
	Finished int64 // 0 while the job is still running
	Quantum  time.Duration
}

// Turnaround is the number of ticks between arrival and completion.
func (r Result) Turnaround() int64 {
	if r.Finished == 0 {
		return 0
	}
	return r.Finished - r.Arrived
}

// Report returns one result per spawned job, ordered by entity id.
func (m *Machine) Report() []Result {
	out := make([]Result, 0, len(m.procs))
	for _, p := range m.procs {
		r := Result{
			Name:    p.spec.Name,
			ID:      p.e.ID,
			Work:    p.spec.Work,
			Ran:     p.ran,
			Arrived: p.arrived,
			Quantum: m.sched.RRInterval(p.e),
		}
		if w, err := m.sched.GetWeight(sched.Cred{UID: sched.RootUID}, p.e.ID); err == nil {
			r.Weight = w
		} else {
			r.Weight = p.e.Weight
		}
		if p.done {
			r.Finished = p.finished
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
