// Package hooks runs ordered, isolated lifecycle callbacks around
// migration execution. Hooks are advisory instrumentation: one hook's
// failure or timeout is recorded in its own result entry and never blocks
// other hooks or the migration flow.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
)

// Trigger names a lifecycle boundary.
type Trigger string

const (
	BeforeDDL Trigger = "before_ddl"
	AfterDDL  Trigger = "after_ddl"
	BeforeDML Trigger = "before_dml"
	AfterDML  Trigger = "after_dml"
)

// DefaultHookTimeout bounds each callback so a stuck hook cannot stall the
// engine.
const DefaultHookTimeout = 10 * time.Second

// Context is what a callback receives about the surrounding migration.
type Context struct {
	Trigger   Trigger
	Version   string
	Plan      *api.MigrationPlan
	Migration *api.Migration
}

// Callback is a hook body. Failures must surface as returned errors (or
// panics), not sentinel values, so the registry can isolate them.
type Callback func(ctx context.Context, hc Context) (any, error)

// Result is one hook's outcome for one trigger firing.
type Result struct {
	Value    any
	Err      error
	Duration time.Duration
	TimedOut bool
}

type registration struct {
	name     string
	trigger  Trigger
	priority int
	filter   string // version filter; empty matches everything
	callback Callback
	seq      int
}

// Registry holds hook registrations. Register at process start; the set is
// read-only once the engine starts firing triggers.
type Registry struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.RWMutex
	regs []registration
	seq  int
}

// NewRegistry creates a registry with the given per-hook timeout. A
// non-positive timeout falls back to DefaultHookTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	return &Registry{
		timeout: timeout,
		logger:  log.With().Str("component", "hooks").Logger(),
	}
}

// Register adds a callback for a trigger. Lower priority runs first; ties
// run in registration order.
func (r *Registry) Register(name string, trigger Trigger, priority int, cb Callback) {
	r.RegisterFiltered(name, trigger, priority, "", cb)
}

// RegisterFiltered is Register with a version filter: the hook fires only
// when the firing version equals the filter.
func (r *Registry) RegisterFiltered(name string, trigger Trigger, priority int, versionFilter string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.regs = append(r.regs, registration{
		name:     name,
		trigger:  trigger,
		priority: priority,
		filter:   versionFilter,
		callback: cb,
		seq:      r.seq,
	})
}

// Execute fires every hook registered for the trigger, in priority order,
// and returns a result entry per hook name.
func (r *Registry) Execute(ctx context.Context, trigger Trigger, hc Context) map[string]Result {
	hc.Trigger = trigger

	r.mu.RLock()
	var matched []registration
	for _, reg := range r.regs {
		if reg.trigger != trigger {
			continue
		}
		if reg.filter != "" && reg.filter != hc.Version {
			continue
		}
		matched = append(matched, reg)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority < matched[j].priority
		}
		return matched[i].seq < matched[j].seq
	})

	results := make(map[string]Result, len(matched))
	for _, reg := range matched {
		res := r.runOne(ctx, reg, hc)
		if res.Err != nil {
			r.logger.Warn().Err(res.Err).
				Str("hook", reg.name).
				Str("trigger", string(trigger)).
				Bool("timed_out", res.TimedOut).
				Msg("hook failed")
		}
		results[reg.name] = res
	}
	return results
}

// runOne executes a single callback on its own goroutine under the
// per-hook timeout, converting panics to errors.
func (r *Registry) runOne(ctx context.Context, reg registration, hc Context) Result {
	hookCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("hook panicked: %v", rec)}
			}
		}()
		v, err := reg.callback(hookCtx, hc)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return Result{Value: out.value, Err: out.err, Duration: time.Since(start)}
	case <-hookCtx.Done():
		return Result{
			Err:      fmt.Errorf("hook %s timed out after %s", reg.name, r.timeout),
			Duration: time.Since(start),
			TimedOut: true,
		}
	}
}
