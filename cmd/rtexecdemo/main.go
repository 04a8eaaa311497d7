// Command rtexecdemo drives every component of the executive core
// through one in-process run: module load, domain registration, a
// two-CPU scheduler with a priority-preemptive ready list, resource
// primitives under priority inheritance, synchronous IPC (plain and
// rpc), a fixed-RPC proxy agent, hard/soft task migration, fault
// routing, the feature registry, and the anticipation/IPI diagnostics.
//
// It exists to be read, not deployed: a real skin wires these packages
// to an actual Pipeline Domain Interface and a kernel-thread reservoir;
// this binary substitutes the software reference Domain and logs every
// step instead.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-rtexec/internal/fault"
	"github.com/joeycumines/go-rtexec/internal/ipc"
	"github.com/joeycumines/go-rtexec/internal/irqtab"
	"github.com/joeycumines/go-rtexec/internal/jitter"
	"github.com/joeycumines/go-rtexec/internal/migration"
	"github.com/joeycumines/go-rtexec/internal/pipeline"
	"github.com/joeycumines/go-rtexec/internal/proxy"
	"github.com/joeycumines/go-rtexec/internal/registry"
	"github.com/joeycumines/go-rtexec/internal/resource"
	"github.com/joeycumines/go-rtexec/internal/rtconfig"
	"github.com/joeycumines/go-rtexec/internal/rtlog"
	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
	"github.com/joeycumines/go-rtexec/internal/timebase"
	"github.com/joeycumines/go-rtexec/internal/timer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rtexecdemo:", err)
		os.Exit(1)
	}
}

func run() error {
	lg := rtlog.New(os.Stdout, rtlog.LevelDebug)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := rtconfig.New(
		rtconfig.WithLatency(2*time.Microsecond),
		rtconfig.WithSetupTimeTimer(time.Microsecond),
		rtconfig.WithCPUFreq(2_000_000_000),
		rtconfig.WithReservoir(2),
	)
	if err != nil {
		return fmt.Errorf("rtconfig: %w", err)
	}
	lg.Info().Int("reservoir", cfg.Reservoir).Bool("oneshot", cfg.Oneshot).Log("module loaded")

	base, err := timebase.New(timebase.ModeOneshot, cfg.CPUFreqHz, cfg.Latency, cfg.SetupTimeTimer, cfg.SetupTimeTimer)
	if err != nil {
		return fmt.Errorf("timebase: %w", err)
	}

	const ncpu = 2
	domain := pipeline.NewSoftware(ncpu, lg)
	domainID, err := domain.RegisterDomain(nil, 0)
	if err != nil {
		return fmt.Errorf("register domain: %w", err)
	}
	defer domain.UnregisterDomain(domainID)

	irqs := irqtab.New(domain, nil)
	if err := irqs.RequestIRQ(0, func(vec int, cookie any) bool {
		lg.Debug().Int("vec", vec).Log("irqtab: demo vector serviced in RT domain")
		return true
	}, nil); err != nil {
		return fmt.Errorf("request_irq: %w", err)
	}
	defer irqs.ReleaseIRQ(0)
	irqs.Dispatch(0, 0)

	timers := make([]*timer.Service, ncpu)
	for i := range timers {
		timers[i] = timer.New(base, timebase.ModeOneshot)
	}

	arena := tcb.NewArena(0)
	idleIDs := make([]tcb.ID, ncpu)
	for i := range idleIDs {
		id := arena.Alloc()
		arena.MustGet(id).Priority = 1 << 30
		arena.MustGet(id).Name = fmt.Sprintf("idle%d", i)
		idleIDs[i] = id
	}

	s := sched.New(arena, domain, timers, idleIDs, lg)
	cpu := s.CPUs[0]

	demoDispatch(lg, s, cpu)

	demoResources(lg, s, cpu)

	core := ipc.NewCore(s)
	demoIPC(ctx, lg, core, cpu, arena)
	demoProxy(ctx, lg, core, cpu, arena)

	mgr := migration.New(s, cfg.Reservoir, lg)
	mgr.Start(ctx)
	demoMigration(ctx, lg, mgr, s, cpu, arena)

	faults := fault.NewRegistry(mgr, lg)
	demoFault(lg, faults, mgr, arena)

	demoRegistry(lg)
	demoJitter(lg)

	return nil
}

func allocTask(arena *tcb.Arena, name string, prio int) tcb.ID {
	id := arena.Alloc()
	t := arena.MustGet(id)
	t.Name = name
	t.Priority = prio
	t.Base = prio
	return id
}

// demoDispatch drives the priority-preemptive ready list through a real
// baton handoff: each task's Body runs once per RunOnce turn, instead of
// the caller just inspecting Pick's answer and discarding it.
func demoDispatch(lg *rtlog.Logger, s *sched.Scheduler, cpu *sched.CPU) {
	hi := allocTask(s.Arena, "hi", 1)
	lo := allocTask(s.Arena, "lo", 10)

	s.Arena.MustGet(hi).Body = func(t *tcb.Task) {
		lg.Debug().Str("task", t.Name).Log("dispatch: task body ran with the baton")
		s.RemReady(cpu, hi)
	}
	s.Arena.MustGet(lo).Body = func(t *tcb.Task) {
		lg.Debug().Str("task", t.Name).Log("dispatch: task body ran with the baton")
		s.RemReady(cpu, lo)
	}
	s.Spawn(cpu, hi)
	s.Spawn(cpu, lo)
	s.EnqReady(cpu, lo)
	s.EnqReady(cpu, hi)

	first := s.RunOnce(cpu, 0)
	second := s.RunOnce(cpu, 0)
	lg.Info().Int("first", int(first)).Int("second", int(second)).
		Log("scheduler: highest-priority ready task ran first")
}

func demoResources(lg *rtlog.Logger, s *sched.Scheduler, cpu *sched.CPU) {
	mu := resource.NewMutex()
	owner := allocTask(s.Arena, "owner", 8)
	waiter := allocTask(s.Arena, "waiter", 2)

	ctx := context.Background()
	if r := mu.Lock(ctx, s, cpu, owner); r != resource.OK {
		lg.Warning().Log("resource: owner failed to acquire mutex")
		return
	}

	done := make(chan struct{})
	go func() {
		mu.Lock(ctx, s, cpu, waiter)
		close(done)
	}()
	// give the waiter goroutine a chance to block and trigger inheritance.
	time.Sleep(time.Millisecond)

	lg.Info().Int("owner_priority", s.Arena.MustGet(owner).Priority).
		Log("resource: owner's priority inherited from a higher-priority waiter")

	mu.Unlock(s, cpu, owner)
	<-done
	mu.Unlock(s, cpu, waiter)
}

func demoIPC(ctx context.Context, lg *rtlog.Logger, core *ipc.Core, cpu *sched.CPU, arena *tcb.Arena) {
	sender := allocTask(arena, "sender", 5)
	receiver := allocTask(arena, "receiver", 5)

	go func() {
		src, msg, r := core.Receive(ctx, receiver)
		if r != ipc.OK {
			return
		}
		lg.Debug().Int("from", int(src)).Int("msg", int(msg)).Log("ipc: plain message received")
	}()
	core.Send(ctx, sender, receiver, 42)

	replyDone := make(chan struct{})
	go func() {
		src, msg, r := core.Receive(ctx, receiver)
		if r != ipc.OK {
			close(replyDone)
			return
		}
		core.Return(cpu, receiver, src, msg*2)
		close(replyDone)
	}()
	reply, r := core.RPC(ctx, cpu, sender, receiver, 21)
	<-replyDone
	lg.Info().Int("reply", int(reply)).Int("result", int(r)).Log("ipc: rpc round trip complete")
}

func demoProxy(ctx context.Context, lg *rtlog.Logger, core *ipc.Core, cpu *sched.CPU, arena *tcb.Arena) {
	agentTask := allocTask(arena, "agent", 4)
	server := allocTask(arena, "rpcsrv", 4)
	a := proxy.New(core, cpu, agentTask, server, 7)

	replies := make(chan uint64, 4)
	a.OnReply = func(reply uint64) { replies <- reply }

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.Run(pctx)

	go func() {
		for i := 0; i < 3; i++ {
			src, msg, r := core.Receive(pctx, server)
			if r != ipc.OK {
				return
			}
			core.Return(cpu, server, src, msg)
		}
	}()

	a.Trigger()
	a.Trigger()
	a.Trigger()

	for i := 0; i < 3; i++ {
		select {
		case reply := <-replies:
			lg.Debug().Int("reply", int(reply)).Log("proxy: coalesced trigger served")
		case <-time.After(time.Second):
			lg.Warning().Log("proxy: timed out waiting for a triggered rpc")
			return
		}
	}
}

func demoMigration(ctx context.Context, lg *rtlog.Logger, mgr *migration.Manager, s *sched.Scheduler, cpu *sched.CPU, arena *tcb.Arena) {
	id := allocTask(arena, "soft1", 6)
	arena.MustGet(id).State |= tcb.Suspended
	arena.MustGet(id).SuspendDepth = 1

	if err := mgr.MakeHard(ctx, id, cpu.Index); err != nil {
		lg.Warning().Err(err).Log("migration: make_hard failed")
		return
	}
	lg.Info().Str("phase", mgr.Phase(id).String()).Log("migration: task promoted to hard")

	if err := mgr.MakeSoft(cpu, id); err != nil {
		lg.Warning().Err(err).Log("migration: make_soft failed")
		return
	}
	lg.Info().Str("phase", mgr.Phase(id).String()).Log("migration: task demoted back to soft")
	mgr.Release(id)
}

func demoFault(lg *rtlog.Logger, faults *fault.Registry, mgr *migration.Manager, arena *tcb.Arena) {
	id := allocTask(arena, "hard1", 3)
	ctx := context.Background()
	if err := mgr.MakeHard(ctx, id, 0); err != nil {
		lg.Warning().Err(err).Log("fault: setup make_hard failed")
		return
	}
	defer mgr.Release(id)

	handled := faults.Route(id, 0, 6, false)
	lg.Info().Bool("handled", handled).Log("fault: unhandled vector demotes the hard task")
	lg.Info().Bool("force_soft_pending", mgr.CheckForceSoft(id)).Log("fault: force_soft observed at next schedule entry")

	faults.Install(id, fault.FPUUnavailable, func(task tcb.ID, vec fault.Vector) fault.Disposition {
		return fault.Handled
	})
	handled = faults.Route(id, 0, fault.FPUUnavailable, false)
	lg.Info().Bool("handled", handled).Log("fault: fpu_unavailable serviced lazily")
}

func demoRegistry(lg *rtlog.Logger) {
	reg := registry.New(8)
	idx, err := reg.RegisterNext("posix_mq_send", []registry.Descriptor{
		{Mode: registry.ArgReadOnlyPointer},
		{Mode: registry.ArgSizedByArg, SizeArgIndex: 1},
	}, func(args []uint64) (uint64, error) { return args[0], nil })
	if err != nil {
		lg.Warning().Err(err).Log("registry: register_next failed")
		return
	}

	got, err := reg.Call(idx, []uint64{99})
	if err != nil {
		lg.Warning().Err(err).Log("registry: call failed")
		return
	}
	lg.Info().Int("slot", idx).Int("result", int(got)).Log("registry: feature call served")
}

func demoJitter(lg *rtlog.Logger) {
	tr := jitter.NewAnticipationTracker(50*time.Microsecond, time.Second)
	now := time.Now()
	tr.Observe(0, now, 10*time.Microsecond)
	tr.Observe(0, now, 200*time.Microsecond)
	lg.Info().Int("violations", tr.Violations(0)).Log("jitter: anticipation-window samples recorded")

	th := jitter.NewIPIThrottle(2, time.Second)
	for i := 0; i < 3; i++ {
		_, ok := th.Allow("cpu0,cpu1", now)
		lg.Debug().Bool("allowed", ok).Log("jitter: reschedule ipi throttle checked")
	}
}
