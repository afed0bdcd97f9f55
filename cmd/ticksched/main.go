package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wrrsched/internal/job"
	"wrrsched/internal/log"
	"wrrsched/internal/metrics"
	"wrrsched/internal/sched"
	"wrrsched/internal/sim"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ticksched",
	Short: "Tick-driven weighted round-robin scheduler simulator",
	Long: `ticksched drives a weighted round-robin scheduling core over a fixed
set of processing units, one tick at a time. Every entity runs for
weight x base_quantum ticks per turn, and a periodic balancer moves
weight from the busiest unit to the idlest one.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ticksched version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs")

	runCmd.Flags().String("config", "", "Scheduler config file (YAML)")
	runCmd.Flags().String("scenario", "", "Scenario file (YAML)")
	runCmd.Flags().Int64("max-ticks", 1_000_000, "Give up after this many ticks")
	runCmd.Flags().String("csv", "", "Write the event trace to this CSV file")
	runCmd.Flags().Bool("realtime", false, "Pace ticks by tick_ms instead of running flat out")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	_ = runCmd.MarkFlagRequired("scenario")

	trialCmd.Flags().Int("min-weight", 1, "Smallest weight in the sweep")
	trialCmd.Flags().Int("max-weight", 20, "Largest weight in the sweep")
	trialCmd.Flags().Int("reps", 5, "Jobs per weight")
	trialCmd.Flags().Int64("work", 500, "Ticks of work per job")
	trialCmd.Flags().Int("units", 1, "Processing units")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(trialCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario to completion and print per-job results",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		scenarioPath, _ := cmd.Flags().GetString("scenario")
		maxTicks, _ := cmd.Flags().GetInt64("max-ticks")
		csvPath, _ := cmd.Flags().GetString("csv")
		realtime, _ := cmd.Flags().GetBool("realtime")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		sc, err := job.LoadScenario(scenarioPath)
		if err != nil {
			return err
		}
		cfg := sc.Scheduler
		if configPath != "" {
			if cfg, err = sched.Load(configPath); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Logger.Error().Err(err).Msg("metrics server failed")
				}
			}()
			defer srv.Close()
		}

		m := sim.NewMachine(cfg)
		tracer := sim.NewTracer(m)
		if csvPath != "" {
			if err := tracer.EnableCSVLogging(csvPath); err != nil {
				return err
			}
		}
		done := make(chan struct{})
		tracer.Start(done)

		m.Submit(sc.Jobs...)
		log.Logger.Info().
			Str("run_id", m.RunID()).
			Int("units", m.Scheduler().NumUnits()).
			Int("jobs", len(sc.Jobs)).
			Msg("starting run")

		if realtime {
			clock := sim.NewTickClock(16)
			clock.Start(m.Scheduler().Config().Tick())
			err = m.Run(ctx, clock)
			clock.Stop()
		} else {
			err = m.RunUntilIdle(ctx, maxTicks)
		}
		close(done)
		if werr := tracer.Wait(); werr != nil && err == nil {
			err = werr
		}

		printReport(m)
		return err
	},
}

var trialCmd = &cobra.Command{
	Use:   "trial",
	Short: "Sweep weights and compare completion times",
	Long: `trial runs reps equal jobs for every weight in [min-weight, max-weight]
side by side and prints the mean turnaround per weight. Heavier jobs get
longer slices each round and finish sooner.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		minW, _ := cmd.Flags().GetInt("min-weight")
		maxW, _ := cmd.Flags().GetInt("max-weight")
		reps, _ := cmd.Flags().GetInt("reps")
		work, _ := cmd.Flags().GetInt64("work")
		units, _ := cmd.Flags().GetInt("units")

		if minW < 1 || maxW < minW || reps < 1 || work < 1 {
			return fmt.Errorf("need 1 <= min-weight <= max-weight, reps >= 1 and work >= 1")
		}

		cfg := sched.DefaultConfig()
		cfg.Units = units
		m := sim.NewMachine(cfg)
		m.Submit(job.Trial(minW, maxW, reps, work)...)

		start := time.Now()
		if err := m.RunUntilIdle(cmd.Context(), int64(maxW-minW+1)*int64(reps)*work*2+1); err != nil {
			return err
		}

		sums := make(map[int]int64)
		for _, r := range m.Report() {
			sums[r.Weight] += r.Turnaround()
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WEIGHT\tAVG TURNAROUND (ticks)\tAVG (ms)")
		for weight := minW; weight <= maxW; weight++ {
			avg := float64(sums[weight]) / float64(reps)
			fmt.Fprintf(w, "%d\t%.1f\t%.1f\n", weight, avg, avg*float64(cfg.TickMS))
		}
		w.Flush()
		fmt.Printf("\nsimulated %d ticks in %s\n", m.Now(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func printReport(m *sim.Machine) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tJOB\tWEIGHT\tQUANTUM\tWORK\tRAN\tARRIVED\tFINISHED\tTURNAROUND")
	for _, r := range m.Report() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.Name, r.Weight, r.Quantum, r.Work, r.Ran, r.Arrived, r.Finished, r.Turnaround())
	}
	w.Flush()

	for _, mig := range m.Migrations() {
		fmt.Printf("migrated entity %d (weight %d): unit %d -> unit %d\n", mig.EntityID, mig.Weight, mig.From, mig.To)
	}
}
