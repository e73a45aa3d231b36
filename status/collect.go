// Package status samples the runtime measurements that
// instrumentation events attach: heap and allocator memory, garbage
// collection totals, scheduler activity, process and host memory,
// and the system load average.
//
// Collection is organized around a Collector with a set of Flags
// selecting measurement groups. A disabled group is never sampled,
// so callers that gate collection on log levels pay nothing when the
// sink discards the output anyway. Process and host numbers come
// from gopsutil; everything else reads the Go runtime directly.
package status

import (
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
	"github.com/tychoish/fun/erc"
	"github.com/tychoish/meter/event"
)

// Flags selects the measurement groups a Collector samples.
type Flags struct {
	// Memory covers the runtime heap and allocator groups plus
	// process and host memory.
	Memory bool
	// GC covers collector cycle and pause totals.
	GC bool
	// Runtime covers goroutine and cgo counters.
	Runtime bool
	// Load covers the host load average.
	Load bool
}

// DefaultFlags enables every group.
func DefaultFlags() Flags {
	return Flags{Memory: true, GC: true, Runtime: true, Load: true}
}

func (f Flags) any() bool { return f.Memory || f.GC || f.Runtime || f.Load }

// Collector samples runtime status on demand. Collectors are safe
// for concurrent use; the memory stats read is serialized because it
// briefly stops the world.
type Collector struct {
	flags Flags

	mu   sync.Mutex
	proc *process.Process

	limitOnce sync.Once
	limit     int64
}

// NewCollector returns a Collector sampling the groups enabled in
// flags.
func NewCollector(flags Flags) *Collector {
	return &Collector{flags: flags}
}

// heapLimit reads the configured soft memory limit once. An
// unconfigured limit reads back as MaxInt64 and reports as zero so
// the field is omitted downstream.
func (c *Collector) heapLimit() int64 {
	c.limitOnce.Do(func() {
		if lim := debug.SetMemoryLimit(-1); lim != math.MaxInt64 {
			c.limit = lim
		}
	})
	return c.limit
}

// Collect samples every enabled group into a fresh Status. The
// returned error aggregates soft failures from the operating system
// probes; the Status is always usable, with failed groups left
// unset.
func (c *Collector) Collect() (*event.Status, error) {
	out := &event.Status{}
	if !c.flags.any() {
		return out, nil
	}

	ec := &erc.Collector{}

	if c.flags.Memory || c.flags.GC {
		c.mu.Lock()
		m := runtime.MemStats{}
		runtime.ReadMemStats(&m)
		c.mu.Unlock()

		if c.flags.Memory {
			out.HeapCommitted = int64(m.HeapSys)
			out.HeapUsed = int64(m.HeapAlloc)
			out.HeapMax = c.heapLimit()
			out.NonHeapCommitted = int64(m.StackSys + m.MSpanSys + m.MCacheSys + m.BuckHashSys + m.GCSys + m.OtherSys)
			out.NonHeapUsed = int64(m.StackInuse + m.MSpanInuse + m.MCacheInuse)
		}
		if c.flags.GC {
			out.GCCount = int64(m.NumGC)
			out.GCTime = int64(m.PauseTotalNs)
		}
	}

	if c.flags.Runtime {
		out.Goroutines = int64(runtime.NumGoroutine())
		out.CgoCalls = runtime.NumCgoCall()
	}

	if c.flags.Memory {
		mi, err := c.process()
		ec.Add(err)
		if mi != nil {
			out.ProcessUsed = int64(mi.RSS)
			out.ProcessTotal = int64(mi.VMS)
		}

		vm, err := mem.VirtualMemory()
		ec.Add(err)
		if err == nil && vm != nil {
			out.SystemUsed = int64(vm.Used)
			out.SystemTotal = int64(vm.Total)
		}
	}

	if c.flags.Load {
		avg, err := load.Avg()
		ec.Add(err)
		if err == nil && avg != nil {
			out.Load = avg.Load1
		}
	}

	return out, ec.Resolve()
}

func (c *Collector) process() (*process.MemoryInfoStat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil, err
		}
		c.proc = proc
	}
	return c.proc.MemoryInfo()
}
