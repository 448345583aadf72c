package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"kernsched/pkg/cpu"
	"kernsched/pkg/memory"
	"kernsched/pkg/process"
	"kernsched/pkg/process/ipc"
	"kernsched/pkg/syscall"
	"kernsched/pkg/telemetry"
)

var (
	configPath = flag.String("config", "", "YAML scheduler configuration")
	logLevel   = flag.String("log-level", "", "Log level, overrides the configuration")
	jsonLogs   = flag.Bool("json", false, "Write JSON logs instead of console output")
	trace      = flag.Bool("trace", false, "Export scheduler events as spans to stdout")
	runFor     = flag.Duration("run", 0, "Keep the scheduler running on a real timer for this long")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "process-demo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := process.DefaultConfig()
	if *configPath != "" {
		loaded, err := process.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	process.DetectDeadlocks(cfg.DetectDeadlocks)

	instance := telemetry.NewInstanceID()
	log := telemetry.NewLogger(os.Stderr, telemetry.LoggerConfig{
		Level:    cfg.LogLevel,
		Console:  !*jsonLogs,
		Instance: instance,
	})

	sinks := telemetry.Multi{telemetry.NewLogSink(log)}
	if *trace {
		tp, err := telemetry.InitTracing("process-demo", instance, os.Stdout)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer tp.Shutdown(context.Background())
		sinks = append(sinks, telemetry.NewOTelSink(tp))
	}
	events := telemetry.NewAsync(sinks, cfg.EventBuffer)
	defer func() {
		events.Close()
		if n := events.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("telemetry events dropped")
		}
	}()

	mem := memory.NewSimulated(memory.DefaultSimulatedConfig())
	m, err := process.NewManager(cfg, cpu.NewVirtual(0), mem,
		process.WithLogger(log),
		process.WithSink(events),
	)
	if err != nil {
		return err
	}
	sys := syscall.New(m, log)

	if err := scenario(m, sys, log); err != nil {
		return err
	}

	if *runFor > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, *runFor)
		defer cancel()
		log.Info().Dur("for", *runFor).Msg("running on real timer")
		_ = m.Run(ctx)
	}

	if err := m.CheckInvariants(); err != nil {
		return err
	}
	printTable(m)
	fmt.Println()
	fmt.Println(m.Report())
	return nil
}

// scenario walks through creation, preemption, fork, wait, sleep, and
// orphan cleanup.
func scenario(m *process.Manager, sys *syscall.Table, log zerolog.Logger) error {
	tick := m.Config().TickInterval

	fmt.Println("--- creation ---")
	specs := []process.CreateConfig{
		{Name: "init", EntryPoint: 0x400000, StackPointer: 0x7fff0000},
		{Name: "batch", EntryPoint: 0x410000, StackPointer: 0x7ffe0000, Priority: process.PriorityLow},
		{Name: "audio", EntryPoint: 0x420000, StackPointer: 0x7ffd0000, Priority: process.PriorityHigh},
		{Name: "kworker", EntryPoint: 0xffff8000, Priority: process.PriorityNormal, Kernel: true},
	}
	pids := make(map[string]process.PID, len(specs))
	for i := range specs {
		pid, err := m.Spawn(&specs[i])
		if err != nil {
			return fmt.Errorf("spawn %s: %w", specs[i].Name, err)
		}
		pids[specs[i].Name] = pid
		info, err := m.GetProcess(pid)
		if err != nil {
			return err
		}
		fmt.Printf("created %-8s pid=%d priority=%s\n", info.Name, pid, info.Priority)
	}

	fmt.Println("\n--- preemption ---")
	fmt.Printf("running pid %d\n", m.Schedule())
	if err := m.SetPriority(pids["audio"], process.PriorityLow); err != nil {
		return err
	}
	last := m.Current()
	for i := 0; i < 40; i++ {
		if pid := m.Tick(tick); pid != last {
			fmt.Printf("uptime %-6s switch %d -> %d\n", m.Uptime(), last, pid)
			last = pid
		}
	}

	fmt.Println("\n--- fork, exit, wait ---")
	for m.Current() != pids["init"] {
		m.Yield()
	}
	child := sys.Fork()
	if child < 0 {
		return fmt.Errorf("fork: errno %d", -child)
	}
	fmt.Printf("init forked pid %d\n", child)
	for m.Current() != process.PID(child) {
		m.Yield()
	}
	if ret := sys.Brk(64 * 1024); ret > 0 {
		fmt.Printf("pid %d heap %s\n", child, humanize.IBytes(uint64(ret)))
	}
	sys.Exit(3)
	for m.Current() != pids["init"] {
		m.Yield()
	}
	reaped, code := sys.Wait(context.Background(), process.NoPID)
	fmt.Printf("init reaped pid %d status %d\n", reaped, code)

	fmt.Println("\n--- sleep ---")
	sleeper := m.Current()
	done := make(chan int64, 1)
	go func() { done <- sys.Sleep(context.Background(), 5*tick) }()
	for {
		if s, err := m.GetState(sleeper); err == nil && s == process.StateSleeping {
			break
		}
		time.Sleep(time.Millisecond)
	}
	fmt.Printf("pid %d sleeping, running pid %d\n", sleeper, m.Current())
	for i := 0; i < 5; i++ {
		m.Tick(tick)
	}
	fmt.Printf("pid %d woke, sleep returned %d\n", sleeper, <-done)

	fmt.Println("\n--- pipe ---")
	if err := pipeDemo(m, pids["kworker"], pids["init"]); err != nil {
		return err
	}

	fmt.Println("\n--- orphans ---")
	parent, err := m.Fork(pids["batch"])
	if err != nil {
		return err
	}
	orphan, err := m.Fork(parent)
	if err != nil {
		return err
	}
	if err := m.Kill(parent, process.SignalTerminate); err != nil {
		return err
	}
	if err := m.Exit(orphan, 0); err != nil {
		return err
	}
	info, err := m.GetProcess(orphan)
	if err != nil {
		return err
	}
	fmt.Printf("pid %d adopted by %d, orphaned=%t\n", orphan, info.ParentPID, info.Orphaned)
	m.Tick(m.Config().OrphanReapAge)
	n := m.CleanupOrphans()
	log.Info().Int("reaped", n).Msg("orphan cleanup")
	fmt.Printf("cleanup reaped %d zombies\n", n)
	return nil
}

// pipeDemo blocks reader on an empty pipe and releases it with a write.
func pipeDemo(m *process.Manager, reader, writer process.PID) error {
	p, err := ipc.NewPipe(m, reader, writer, 0)
	if err != nil {
		return err
	}
	defer p.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := p.Read(context.Background(), buf)
		got <- string(buf[:n])
	}()
	for {
		if s, err := m.GetState(reader); err == nil && s == process.StateBlocked {
			break
		}
		time.Sleep(time.Millisecond)
	}
	fmt.Printf("pid %d blocked on empty pipe\n", reader)
	if _, err := p.Write([]byte("hello from init")); err != nil {
		return err
	}
	fmt.Printf("pid %d read %q\n", reader, <-got)
	return nil
}

func printTable(m *process.Manager) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tPPID\tNAME\tSTATE\tPRIO\tCPU\tMEM\tSWITCHES")
	for _, p := range m.Processes() {
		ppid := "-"
		if p.ParentPID != process.NoPID {
			ppid = fmt.Sprint(p.ParentPID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			p.PID, ppid, p.Name, p.State, p.Priority,
			p.Stats.CPUTime(), humanize.IBytes(p.MemoryUsage), p.Stats.ContextSwitches)
	}
	w.Flush()
}
