package meter

import (
	"os"
	"strconv"
	"time"

	"github.com/tychoish/fun/adt"
	"github.com/tychoish/fun/erc"

	"github.com/tychoish/meter/status"
)

const (
	DefaultProgressPeriod = 2 * time.Second
	DefaultWatchPeriod    = time.Minute
	DefaultUUIDSize       = 10
)

// Environment variables consulted once at process startup by
// OptionsFromEnv. Periods parse as time.ParseDuration strings and
// the status toggles as strconv.ParseBool values.
const (
	EnvProgressPeriod = "METER_PROGRESS_PERIOD"
	EnvWatchPeriod    = "METER_WATCH_PERIOD"
	EnvUUIDSize       = "METER_UUID_SIZE"
	EnvStatusMemory   = "METER_STATUS_MEMORY"
	EnvStatusGC       = "METER_STATUS_GC"
	EnvStatusRuntime  = "METER_STATUS_RUNTIME"
	EnvStatusLoad     = "METER_STATUS_LOAD"
)

// Options control emission pacing, status collection, and the
// rendering of human-readable lines. Meters and watchers capture
// options at construction and never observe later changes.
type Options struct {
	// ProgressPeriod is the minimum interval between progress
	// emissions of one meter; calls inside the window are free.
	ProgressPeriod time.Duration
	// WatchPeriod is the sampling interval for background
	// watchers.
	WatchPeriod time.Duration
	// UUIDSize truncates the session identifier in human-readable
	// output. Encoded payloads always carry the full identifier.
	UUIDSize int
	// Status selects the measurement groups collected at emission
	// points.
	Status status.Flags
}

// DefaultOptions returns the stock configuration: two second
// progress pacing, one minute watch sampling, ten character session
// prefixes, and every status group enabled.
func DefaultOptions() Options {
	return Options{
		ProgressPeriod: DefaultProgressPeriod,
		WatchPeriod:    DefaultWatchPeriod,
		UUIDSize:       DefaultUUIDSize,
		Status:         status.DefaultFlags(),
	}
}

// Validate rejects negative settings and fills unset ones with their
// defaults. The status flags pass through untouched: all-disabled is
// a legitimate choice.
func (o *Options) Validate() error {
	ec := &erc.Collector{}
	erc.When(ec, o.ProgressPeriod < 0, "progress period must not be negative")
	erc.When(ec, o.WatchPeriod < 0, "watch period must not be negative")
	erc.When(ec, o.UUIDSize < 0, "uuid size must not be negative")

	if o.ProgressPeriod == 0 {
		o.ProgressPeriod = DefaultProgressPeriod
	}
	if o.WatchPeriod == 0 {
		o.WatchPeriod = DefaultWatchPeriod
	}
	if o.UUIDSize == 0 {
		o.UUIDSize = DefaultUUIDSize
	}

	return ec.Resolve()
}

var processOptions = &adt.Atomic[Options]{}

func init() { processOptions.Set(OptionsFromEnv()) }

// CurrentOptions returns the process-wide options that new meters
// and watchers capture at construction.
func CurrentOptions() Options { return processOptions.Get() }

// SetOptions validates and replaces the process-wide options.
// Existing meters keep whatever they captured.
func SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	processOptions.Set(opts)
	return nil
}

// OptionsFromEnv resolves the startup configuration: stock defaults
// overridden by the METER_* environment variables. Malformed
// variables fall back to the defaults; configuration reading never
// fails process startup.
func OptionsFromEnv() Options {
	opts := DefaultOptions()
	opts.ProgressPeriod = envDuration(EnvProgressPeriod, opts.ProgressPeriod)
	opts.WatchPeriod = envDuration(EnvWatchPeriod, opts.WatchPeriod)
	opts.UUIDSize = envInt(EnvUUIDSize, opts.UUIDSize)
	opts.Status.Memory = envBool(EnvStatusMemory, opts.Status.Memory)
	opts.Status.GC = envBool(EnvStatusGC, opts.Status.GC)
	opts.Status.Runtime = envBool(EnvStatusRuntime, opts.Status.Runtime)
	opts.Status.Load = envBool(EnvStatusLoad, opts.Status.Load)
	if opts.Validate() != nil {
		return DefaultOptions()
	}
	return opts
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if raw, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if raw, ok := os.LookupEnv(key); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return fallback
}
