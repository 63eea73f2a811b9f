package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/pkg/browser"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ignaciolitma/nachOS/datarecording"
	"github.com/ignaciolitma/nachOS/exe"
	"github.com/ignaciolitma/nachOS/kernel"
	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
	"github.com/ignaciolitma/nachOS/monitoring"
	"github.com/ignaciolitma/nachOS/sim"
	"github.com/ignaciolitma/nachOS/tracing"
)

func newRunCmd(cfg config, fs afero.Fs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run PROGRAM...",
		Short: "Run programs until they finish.",
		Long: "`run PROGRAM...` starts one process per executable and runs " +
			"them round robin. Each process performs the accesses of a " +
			"generated pattern, or of a trace file given with --trace.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrograms(cmd, fs, args)
		},
	}

	flags := cmd.Flags()
	flags.Int("frames", cfg.numFrames, "Number of physical frames")
	flags.Int("page-size", cfg.pageSize, "Page size in bytes")
	flags.Int("tlb-size", cfg.tlbSize, "Number of TLB entries")
	flags.String("policy", cfg.policy, "Frame replacement policy (fifo, lru)")
	flags.String("tlb-policy", cfg.tlbPolicy,
		"TLB replacement policy (fifo, lru)")
	flags.Int("stack", cfg.stackSize, "Stack size in bytes")
	flags.Bool("demand-loading", cfg.demandLoading,
		"Load pages on first use instead of at process creation")
	flags.Int("quantum", cfg.quantum, "Accesses per time slice")

	flags.String("pattern", "sequential",
		"Generated access pattern (sequential, random)")
	flags.Int("accesses", 100, "Number of generated accesses per process")
	flags.Uint64("stride", 4, "Distance between sequential accesses")
	flags.Float64("write-ratio", 0.3,
		"Share of writes in generated accesses. Sequential writes skip the text")
	flags.Int64("seed", 1, "Seed of the random pattern")
	flags.StringSlice("trace", nil,
		"Trace files with the accesses of each program, in order")
	flags.Bool("in-memory-swap", false, "Keep swap files in memory")

	flags.Bool("debug", false, "Print page fault and paging tasks")
	flags.String("trace-db", "",
		"Record tasks into the SQLite database <name>.sqlite3")
	flags.Bool("unique-ids", false,
		"Give tasks globally unique IDs instead of sequence numbers")
	flags.Bool("monitor", false, "Serve the monitoring API")
	flags.Int("monitor-port", cfg.monitorPort, "Port of the monitoring API")
	flags.Bool("open-monitor", false, "Open the monitoring API in a browser")

	return cmd
}

func buildKernel(
	cmd *cobra.Command,
	wfs afero.Fs,
	clock *sim.Clock,
	tracers []tracing.Tracer,
) (*kernel.Kernel, error) {
	flags := cmd.Flags()

	policyName, _ := flags.GetString("policy")
	policy, err := replacement.ParsePolicy(policyName)
	if err != nil {
		return nil, err
	}

	tlbPolicyName, _ := flags.GetString("tlb-policy")
	tlbPolicy, err := replacement.ParsePolicy(tlbPolicyName)
	if err != nil {
		return nil, err
	}

	numFrames, _ := flags.GetInt("frames")
	pageSize, _ := flags.GetInt("page-size")
	tlbSize, _ := flags.GetInt("tlb-size")
	stack, _ := flags.GetInt("stack")
	demandLoading, _ := flags.GetBool("demand-loading")
	quantum, _ := flags.GetInt("quantum")

	if numFrames <= 0 || pageSize <= 0 || tlbSize <= 0 || stack < 0 {
		return nil, fmt.Errorf(
			"frames, page size and TLB size must be positive")
	}

	b := kernel.MakeBuilder().
		WithFs(wfs).
		WithClock(clock).
		WithNumFrames(numFrames).
		WithPageSize(pageSize).
		WithTLBSize(tlbSize).
		WithPolicy(policy).
		WithTLBPolicy(tlbPolicy).
		WithStackSize(stack).
		WithDemandLoading(demandLoading).
		WithQuantum(quantum)

	if inMemory, _ := flags.GetBool("in-memory-swap"); inMemory {
		b = b.WithSwapFs(afero.NewMemMapFs())
	}

	for _, t := range tracers {
		b = b.WithTracer(t)
	}

	return b.Build("Kernel"), nil
}

func runPrograms(
	cmd *cobra.Command,
	fs afero.Fs,
	programs []string,
) error {
	wfs, err := workingFs(cmd, fs)
	if err != nil {
		return err
	}

	if unique, _ := cmd.Flags().GetBool("unique-ids"); unique {
		sim.UseParallelIDGenerator()
	}

	clock := &sim.Clock{}
	tracers, execRecorder := setupTracing(cmd, clock)

	faults := tracing.KindFilter("page_fault")
	latency := tracing.NewAverageTimeTracer(clock, faults)
	steps := tracing.NewStepCountTracer(faults)
	tracers = append(tracers, latency, steps)

	k, err := buildKernel(cmd, wfs, clock, tracers)
	if err != nil {
		return err
	}

	if execRecorder != nil {
		execRecorder.Start(properties(cmd))
		defer execRecorder.End()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	monitored, err := startMonitor(cmd, k)
	if err != nil {
		return err
	}

	seed, _ := cmd.Flags().GetInt64("seed")
	rng := rand.New(rand.NewSource(seed))

	for i, name := range programs {
		accesses, err := workload(cmd, wfs, rng, i, name)
		if err != nil {
			return err
		}

		_, err = k.Exec(name, accesses)
		if err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
	}

	err = k.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report(out, k)
	reportFaults(out, latency, steps)

	if monitored {
		fmt.Fprintf(os.Stderr, "Monitoring until interrupted\n")
		<-ctx.Done()
	}

	return nil
}

// setupTracing creates the tracers asked for by the flags. The exec
// recorder is nil unless tasks are recorded into a database.
func setupTracing(
	cmd *cobra.Command,
	clock *sim.Clock,
) ([]tracing.Tracer, *datarecording.ExecRecorder) {
	var (
		tracers      []tracing.Tracer
		execRecorder *datarecording.ExecRecorder
	)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger := log.New(cmd.ErrOrStderr(), "", 0)
		tracers = append(tracers,
			tracing.NewLogTracer(logger, clock, tracing.AllTasks))
	}

	if dbName, _ := cmd.Flags().GetString("trace-db"); dbName != "" {
		recorder := datarecording.New(dbName)
		tracers = append(tracers, tracing.NewDBTracer(clock, recorder))
		execRecorder = datarecording.NewExecRecorder(recorder)
	}

	return tracers, execRecorder
}

// properties lists the machine configuration for the exec_info table.
func properties(cmd *cobra.Command) map[string]string {
	props := make(map[string]string)

	for _, name := range []string{
		"frames", "page-size", "tlb-size", "policy", "tlb-policy",
		"stack", "demand-loading", "quantum",
	} {
		props[name] = cmd.Flags().Lookup(name).Value.String()
	}

	return props
}

func startMonitor(cmd *cobra.Command, k *kernel.Kernel) (bool, error) {
	enabled, _ := cmd.Flags().GetBool("monitor")
	open, _ := cmd.Flags().GetBool("open-monitor")

	if !enabled && !open {
		return false, nil
	}

	port, _ := cmd.Flags().GetInt("monitor-port")

	m := monitoring.NewMonitor().WithPortNumber(port)
	m.RegisterKernel(k)
	m.RegisterComponent(k.CoreMap())
	m.RegisterComponent(k.FaultHandler())
	m.RegisterComponent(k.Machine())

	url := m.StartServer()

	if open {
		err := browser.OpenURL(url + "/api/stats")
		if err != nil {
			return true, err
		}
	}

	return true, nil
}

// workload returns the accesses of the i-th program. Trace files take
// precedence over generated patterns.
func workload(
	cmd *cobra.Command,
	fs afero.Fs,
	rng *rand.Rand,
	i int,
	name string,
) ([]kernel.Access, error) {
	flags := cmd.Flags()

	traces, _ := flags.GetStringSlice("trace")
	if i < len(traces) {
		f, err := fs.Open(traces[i])
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return kernel.ParseTrace(f)
	}

	size, text, err := imageLayout(fs, name)
	if err != nil {
		return nil, err
	}

	stack, _ := flags.GetInt("stack")
	size += uint64(stack)

	n, _ := flags.GetInt("accesses")
	ratio, _ := flags.GetFloat64("write-ratio")
	pattern, _ := flags.GetString("pattern")

	switch pattern {
	case "sequential":
		stride, _ := flags.GetUint64("stride")
		accesses := kernel.SequentialAccesses(0, n, stride, false)
		for j := range accesses {
			accesses[j].VAddr %= size
		}

		kernel.InterleaveWrites(accesses, ratio, text)

		return accesses, nil
	case "random":
		return kernel.RandomAccesses(rng, n, 0, size, ratio), nil
	default:
		return nil, fmt.Errorf("unknown access pattern %q", pattern)
	}
}

// imageLayout returns the size of an executable image and of its text.
func imageLayout(fs afero.Fs, name string) (size, text uint64, err error) {
	f, err := exe.Open(fs, name)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	return uint64(f.Size()), uint64(f.ReadOnlySize()), nil
}

func report(w io.Writer, k *kernel.Kernel) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "PID\tNAME\tSTATE\tEXIT\tACCESSES\tREADS\tWRITES\tCHECKSUM")
	for _, p := range k.Processes() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d/%d\t%d\t%d\t%d\n",
			p.PID, p.Name, p.State, p.ExitStatus, p.Done, p.Total,
			p.Reads, p.Writes, p.Checksum)
	}
	tw.Flush()

	s := k.Stats()
	fmt.Fprintf(w, "\nTicks: %d, context switches: %d\n",
		s.Ticks, s.ContextSwitches)
	fmt.Fprintf(w, "TLB: %d hits, %d misses\n", s.TLBHits, s.TLBMisses)
	fmt.Fprintf(w, "Paging: %d page faults, %d read-only faults, "+
		"%d demand loads, %d terminations\n",
		s.Faults.PageFaults, s.Faults.ReadOnlyFaults,
		s.Faults.DemandLoads, s.Faults.Terminations)
	fmt.Fprintf(w, "Frames (%s): %d/%d free, %d evictions, %d swap outs, "+
		"%d swap ins, %d loads from executables, %d processes lost\n",
		s.Policy, s.FreeFrames, s.NumFrames, s.Frames.Evictions,
		s.Frames.SwapOuts, s.Frames.SwapIns, s.Frames.ExecLoads,
		s.Frames.LostSpaces)
}

func reportFaults(
	w io.Writer,
	latency *tracing.AverageTimeTracer,
	steps *tracing.StepCountTracer,
) {
	fmt.Fprintf(w, "Faults handled: %d, %.2f ticks on average\n",
		latency.TotalCount(), latency.AverageTime())

	for _, name := range steps.GetStepNames() {
		fmt.Fprintf(w, "  %s: %d\n", name, steps.GetStepCount(name))
	}
}
