package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wrrsched/internal/sched"
)

// Tracer drains the scheduler's status channel, logging every event and
// optionally writing it to CSV.
type Tracer struct {
	m      *Machine
	logger zerolog.Logger

	csvFile   io.Closer
	csvWriter *csv.Writer

	done chan struct{}
}

// NewTracer creates a tracer for m. Call Start to begin draining events.
func NewTracer(m *Machine) *Tracer {
	return &Tracer{
		m:      m,
		logger: m.logger.With().Str("component", "trace").Logger(),
		done:   make(chan struct{}),
	}
}

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before Start().
func (t *Tracer) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	t.csvFile = f
	return t.writeHeader(f)
}

// EnableCSV writes CSV records to w.
func (t *Tracer) EnableCSV(w io.Writer) error {
	return t.writeHeader(w)
}

func (t *Tracer) writeHeader(w io.Writer) error {
	t.csvWriter = csv.NewWriter(w)
	t.csvWriter.Write([]string{"timestamp", "run_id", "tick", "event", "unit", "to_unit", "entity_id", "weight", "time_slice"})
	t.csvWriter.Flush()
	return t.csvWriter.Error()
}

// Start consumes events until stop is closed, then drains what is left.
func (t *Tracer) Start(stop <-chan struct{}) {
	ch := t.m.sched.StatusChannel()
	go func() {
		defer close(t.done)
		if ch == nil {
			<-stop
			return
		}
		for {
			select {
			case ev := <-ch:
				t.handleEvent(ev)
			case <-stop:
				for {
					select {
					case ev := <-ch:
						t.handleEvent(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the tracer has drained the channel, then closes the
// CSV file if one was opened.
func (t *Tracer) Wait() error {
	<-t.done
	if t.csvWriter != nil {
		t.csvWriter.Flush()
		if err := t.csvWriter.Error(); err != nil {
			return err
		}
	}
	if t.csvFile != nil {
		return t.csvFile.Close()
	}
	return nil
}

func (t *Tracer) handleEvent(ev sched.StatusEvent) {
	tick := t.m.Now()

	l := t.logger.Debug().
		Int64("tick", tick).
		Str("event", center(ev.Kind.String(), 14)).
		Int("unit", ev.Unit).
		Uint64("entity", uint64(ev.EntityID)).
		Int("weight", ev.Weight).
		Int("slice", ev.TimeSlice)
	if ev.Kind == sched.StatusMigrate {
		l = l.Int("to_unit", ev.ToUnit)
	}
	l.Msg("event")

	if t.csvWriter != nil {
		rec := []string{
			ev.Time.Format(time.RFC3339Nano),
			t.m.runID,
			strconv.FormatInt(tick, 10),
			ev.Kind.String(),
			strconv.Itoa(ev.Unit),
			strconv.Itoa(ev.ToUnit),
			strconv.FormatUint(uint64(ev.EntityID), 10),
			strconv.Itoa(ev.Weight),
			strconv.Itoa(ev.TimeSlice),
		}
		t.csvWriter.Write(rec)
	}
}

// center pads str on both sides to width.
func center(str string, width int) string {
	if len(str) >= width {
		return str
	}
	spaces := (width - len(str)) / 2
	return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
}
