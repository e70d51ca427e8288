// Binary uthread-demo exercises the scheduler from the command line. Each
// demo scenario is its own subcommand so new ones are easy to bolt on.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/subcommands"

	uthread "github.com/ehrlich-b/go-uthread"
	"github.com/ehrlich-b/go-uthread/internal/logging"
	"github.com/ehrlich-b/go-uthread/queue"
)

var verbose = flag.Bool("v", false, "Verbose output")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(hello), "")
	subcommands.Register(new(roundRobin), "")
	subcommands.Register(new(preemptSpin), "")
	subcommands.Register(new(semOrder), "")
	subcommands.Register(new(queueWalk), "")

	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	exitCode := subcommands.Execute(context.Background())
	os.Exit(int(exitCode))
}

// schedulerConfig builds the Config every demo runs with.
func schedulerConfig(preempt bool) uthread.Config {
	cfg := uthread.Config{Preempt: preempt}
	if *verbose {
		cfg.Logger = logging.Default()
	}
	return cfg
}

func runOrFail(cfg uthread.Config, fn func(any), arg any) subcommands.ExitStatus {
	if err := uthread.RunConfig(cfg, fn, arg); err != nil {
		fmt.Fprintf(os.Stderr, "uthread-demo: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// hello implements subcommands.Command for the "hello" demo: the second
// thread runs before the creator resumes from its yield.
type hello struct{}

// Name implements subcommands.Command.Name.
func (*hello) Name() string {
	return "hello"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*hello) Synopsis() string {
	return "two threads handing the slot to each other once"
}

// Usage implements subcommands.Command.Usage.
func (*hello) Usage() string {
	return "hello\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*hello) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*hello) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	return runOrFail(schedulerConfig(false), func(any) {
		if err := uthread.Create(func(any) {
			fmt.Println("B")
		}, nil); err != nil {
			fmt.Fprintf(os.Stderr, "create: %v\n", err)
			return
		}
		uthread.Yield()
		fmt.Println("A")
	}, nil)
}

// roundRobin implements subcommands.Command for the "roundrobin" demo.
type roundRobin struct {
	iterations int
}

// Name implements subcommands.Command.Name.
func (*roundRobin) Name() string {
	return "roundrobin"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*roundRobin) Synopsis() string {
	return "three yielding threads cycling in FIFO order"
}

// Usage implements subcommands.Command.Usage.
func (*roundRobin) Usage() string {
	return "roundrobin [-iterations N]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *roundRobin) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.iterations, "iterations", 3, "turns each thread takes")
}

// Execute implements subcommands.Command.Execute.
func (r *roundRobin) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	letter := func(arg any) {
		for i := 0; i < r.iterations; i++ {
			fmt.Println(arg.(string))
			uthread.Yield()
		}
	}
	return runOrFail(schedulerConfig(false), func(any) {
		for _, l := range []string{"A", "B", "C"} {
			if err := uthread.Create(letter, l); err != nil {
				fmt.Fprintf(os.Stderr, "create: %v\n", err)
				return
			}
		}
	}, nil)
}

// preemptSpin implements subcommands.Command for the "preempt" demo: a
// thread spins without yielding until the timer takes the slot away and the
// second thread flips its flag. With -cooperative the program spins forever,
// which is the point.
type preemptSpin struct {
	cooperative bool
}

// Name implements subcommands.Command.Name.
func (*preemptSpin) Name() string {
	return "preempt"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*preemptSpin) Synopsis() string {
	return "break a busy loop with the virtual-time alarm"
}

// Usage implements subcommands.Command.Usage.
func (*preemptSpin) Usage() string {
	return "preempt [-cooperative]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *preemptSpin) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.cooperative, "cooperative", false, "disable preemption (the demo then hangs)")
}

// Execute implements subcommands.Command.Execute.
func (p *preemptSpin) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	var spinning atomic.Bool
	spinning.Store(true)

	status := runOrFail(schedulerConfig(!p.cooperative), func(any) {
		if err := uthread.Create(func(any) {
			fmt.Println("t2")
			spinning.Store(false)
		}, nil); err != nil {
			fmt.Fprintf(os.Stderr, "create: %v\n", err)
			return
		}
		for spinning.Load() {
		}
		fmt.Println("t1-exit")
	}, nil)

	if status == subcommands.ExitSuccess {
		snap := uthread.Stats()
		fmt.Printf("preemptions: %d\n", snap.Preemptions)
	}
	return status
}

// semOrder implements subcommands.Command for the "sem" demo: three threads
// wait on a zero semaphore and wake in arrival order.
type semOrder struct{}

// Name implements subcommands.Command.Name.
func (*semOrder) Name() string {
	return "sem"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*semOrder) Synopsis() string {
	return "FIFO wakeup order on a counting semaphore"
}

// Usage implements subcommands.Command.Usage.
func (*semOrder) Usage() string {
	return "sem\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*semOrder) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*semOrder) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	return runOrFail(schedulerConfig(false), func(any) {
		gate, err := uthread.NewSem(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sem: %v\n", err)
			return
		}
		for i := 1; i <= 3; i++ {
			if err := uthread.Create(func(arg any) {
				if err := gate.Down(); err != nil {
					fmt.Fprintf(os.Stderr, "down: %v\n", err)
					return
				}
				fmt.Println(arg.(int))
			}, i); err != nil {
				fmt.Fprintf(os.Stderr, "create: %v\n", err)
				return
			}
		}
		uthread.Yield()
		for i := 0; i < 3; i++ {
			if err := gate.Up(); err != nil {
				fmt.Fprintf(os.Stderr, "up: %v\n", err)
				return
			}
			uthread.Yield()
		}
	}, nil)
}

// queueWalk implements subcommands.Command for the "queue" demo: the
// iterate-while-deleting walk over ten integers.
type queueWalk struct{}

// Name implements subcommands.Command.Name.
func (*queueWalk) Name() string {
	return "queue"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*queueWalk) Synopsis() string {
	return "iterate a queue while mutating it"
}

// Usage implements subcommands.Command.Usage.
func (*queueWalk) Usage() string {
	return "queue\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*queueWalk) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*queueWalk) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	q := queue.New()
	for _, n := range []int{1, 2, 3, 4, 5, 42, 6, 7, 8, 9} {
		v := n
		if err := q.Enqueue(&v); err != nil {
			fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	if err := q.Iterate(func(q *queue.Queue, v any) {
		p := v.(*int)
		*p++
		if *p == 43 {
			_ = q.Delete(v)
		}
	}); err != nil {
		fmt.Fprintf(os.Stderr, "iterate: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("length: %d\n", q.Len())
	for q.Len() > 0 {
		v, err := q.Dequeue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dequeue: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("%d ", *v.(*int))
	}
	fmt.Println()
	return subcommands.ExitSuccess
}
