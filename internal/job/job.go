package job

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"

	"wrrsched/internal/sched"
)

// Spec describes one CPU-bound workload. Work and Arrive are in host ticks.
type Spec struct {
	Name       string `yaml:"name"`
	Owner      uint32 `yaml:"owner"`
	Weight     int    `yaml:"weight"`      // 0 keeps the weight given on switch-in or fork
	Work       int64  `yaml:"work"`        // ticks of CPU the job needs
	Arrive     int64  `yaml:"arrive"`      // tick the job becomes runnable
	CPUs       string `yaml:"cpus"`        // affinity such as "0-1,3"; empty = any unit
	Parent     string `yaml:"parent"`      // fork from this job instead of switching in
	YieldEvery int64  `yaml:"yield_every"` // yield after this many ticks of each slice; 0 = never
}

// Scenario is a scheduler configuration plus the jobs to run on it.
type Scenario struct {
	Scheduler sched.Config `yaml:"scheduler"`
	Jobs      []Spec       `yaml:"jobs"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes and validates a YAML scenario. Scheduler settings
// left out keep their defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	sc := &Scenario{Scheduler: sched.DefaultConfig()}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Validate checks job names, work, weights, affinity and fork parents.
func (sc *Scenario) Validate() error {
	seen := make(map[string]Spec, len(sc.Jobs))
	for i, j := range sc.Jobs {
		if j.Name == "" {
			return fmt.Errorf("job %d: missing name", i)
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("job %q: duplicate name", j.Name)
		}
		if j.Work <= 0 {
			return fmt.Errorf("job %q: work must be positive, got %d", j.Name, j.Work)
		}
		if j.Weight < 0 {
			return fmt.Errorf("job %q: weight must not be negative, got %d", j.Name, j.Weight)
		}
		if j.Arrive < 0 || j.YieldEvery < 0 {
			return fmt.Errorf("job %q: arrive and yield_every must not be negative", j.Name)
		}
		if j.CPUs != "" {
			cpus, err := ParseCPUList(j.CPUs)
			if err != nil {
				return fmt.Errorf("job %q: %w", j.Name, err)
			}
			if units := sc.Scheduler.Units; units > 0 {
				for _, c := range cpus {
					if c >= units {
						return fmt.Errorf("job %q: cpu %d out of range [0,%d)", j.Name, c, units)
					}
				}
			}
		}
		if j.Parent != "" {
			p, ok := seen[j.Parent]
			if !ok {
				return fmt.Errorf("job %q: parent %q must be declared earlier", j.Name, j.Parent)
			}
			if j.Arrive < p.Arrive {
				return fmt.Errorf("job %q: arrives before its parent %q", j.Name, j.Parent)
			}
		}
		seen[j.Name] = j
	}
	return nil
}

// Affinity returns the CPUSet for the job, nil when it may run anywhere.
func (j Spec) Affinity() (sched.CPUSet, error) {
	if j.CPUs == "" {
		return nil, nil
	}
	cpus, err := ParseCPUList(j.CPUs)
	if err != nil {
		return nil, err
	}
	return sched.NewCPUSetOf(cpus...), nil
}

// Trial builds the weight sweep used to compare completion time against
// weight: reps jobs of equal work for every weight in [minWeight,maxWeight],
// all arriving at once.
func Trial(minWeight, maxWeight, reps int, work int64) []Spec {
	var specs []Spec
	for w := minWeight; w <= maxWeight; w++ {
		for r := 0; r < reps; r++ {
			specs = append(specs, Spec{
				Name:   fmt.Sprintf("w%02d-r%d", w, r),
				Weight: w,
				Work:   work,
			})
		}
	}
	return specs
}
