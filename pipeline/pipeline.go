package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/r3e-network/llm-inference-kernel/execution"
	"github.com/r3e-network/llm-inference-kernel/logging"
)

// Config controls pipeline-wide behavior not pinned down by spec §4.2
// itself; see SPEC_FULL.md §D for the open-question resolution this
// implements.
type Config struct {
	// RunCleanupOnCancel resolves spec §9 open question 1: whether
	// runsOnError phases still execute when the caller cancels
	// mid-stream. Default true.
	RunCleanupOnCancel bool
}

// DefaultConfig returns RunCleanupOnCancel=true (spec §9 default).
func DefaultConfig() Config {
	return Config{RunCleanupOnCancel: true}
}

// Pipeline executes the ten ordered phases of spec §4.2 against an
// execution.Context.
type Pipeline struct {
	plugins   *Registry
	engine    *execution.EngineContext
	config    Config
	log       *logging.Logger
	observers []func(phase execution.Phase, err error, duration time.Duration)
}

// New builds a Pipeline bound to the given plugin registry and engine
// context.
func New(plugins *Registry, engine *execution.EngineContext, cfg Config, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NewDefault("pipeline")
	}
	return &Pipeline{plugins: plugins, engine: engine, config: cfg, log: log}
}

// Observe registers a callback invoked once per executed phase, after
// that phase's plugins have all run, with its aggregate outcome and
// wall-clock duration (spec §8 S1: "every phase emits one observer
// onPhase"). Phases skipped entirely (e.g. a runsOnError phase
// suppressed by RunCleanupOnCancel) do not emit.
func (p *Pipeline) Observe(fn func(phase execution.Phase, err error, duration time.Duration)) {
	p.observers = append(p.observers, fn)
}

func (p *Pipeline) emitPhase(phase execution.Phase, err error, duration time.Duration) {
	for _, fn := range p.observers {
		fn(phase, err, duration)
	}
}

// Execute runs the ten-phase contract of spec §4.2 against execCtx,
// honoring goCtx cancellation. It never returns the execution's own
// failure as a Go error for a well-formed pipeline: callers should
// inspect execCtx.Error()/execCtx.Token().Status for the outcome. It
// only returns an error for a structural misuse (e.g. an illegal
// transition that should be impossible given this implementation).
func (p *Pipeline) Execute(goCtx context.Context, execCtx *execution.Context) error {
	execCtx.SetGoContext(goCtx)
	if _, err := execCtx.Signal(execution.SignalStart); err != nil {
		return fmt.Errorf("pipeline: advance CREATED->RUNNING: %w", err)
	}

	hasError := false
	cancelled := false

	for _, phase := range Ordered() {
		select {
		case <-goCtx.Done():
			cancelled = true
		default:
		}

		if cancelled && phase == PhaseProviderDispatch {
			// Abort the in-flight provider call; runsOnError phases still
			// run per spec §5 cancellation semantics.
			hasError = true
			execCtx.SetError(goCtx.Err())
			if !RunsOnError(phase) {
				continue
			}
		}

		if hasError && !RunsOnError(phase) {
			continue
		}
		if cancelled && !p.config.RunCleanupOnCancel && RunsOnError(phase) {
			continue
		}

		execCtx.SetPhase(phase)
		plugins := p.plugins.For(phase)

		phaseStart := time.Now()
		var phaseErr error

		for _, plugin := range plugins {
			err := p.runPlugin(execCtx, plugin)
			if err != nil {
				if RunsOnError(phase) {
					// Best-effort: capture and log, never alter status.
					p.log.FromContext(goCtx).WithError(err).WithField("plugin", plugin.ID()).
						Warn("runsOnError plugin failed; continuing best-effort")
					if phaseErr == nil {
						phaseErr = err
					}
					continue
				}
				execCtx.SetError(err)
				hasError = true
				if phaseErr == nil {
					phaseErr = err
				}
				if IsCritical(phase) {
					break
				}
			} else if execCtx.HasError() && !hasError {
				// A plugin called ctx.SetError without returning an error.
				hasError = true
				if phaseErr == nil {
					phaseErr = execCtx.Error()
				}
				if IsCritical(phase) {
					break
				}
			}
		}

		p.emitPhase(phase, phaseErr, time.Since(phaseStart))
	}

	if cancelled {
		_, _ = execCtx.Signal(execution.SignalCancel)
		return nil
	}

	if hasError {
		// The pipeline itself does not retry phases (retry/fallback is the
		// orchestrator's responsibility across candidate providers); a
		// critical-phase failure here is therefore immediately exhausted.
		if _, err := execCtx.Signal(execution.SignalPhaseFailure); err != nil {
			return fmt.Errorf("pipeline: signal PHASE_FAILURE: %w", err)
		}
		if _, err := execCtx.Signal(execution.SignalRetryExhausted); err != nil {
			return fmt.Errorf("pipeline: signal RETRY_EXHAUSTED: %w", err)
		}
		return nil
	}

	if _, err := execCtx.Signal(execution.SignalExecutionSuccess); err != nil {
		return fmt.Errorf("pipeline: signal EXECUTION_SUCCESS: %w", err)
	}
	return nil
}

func (p *Pipeline) runPlugin(execCtx *execution.Context, plugin Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", plugin.ID(), r)
		}
	}()
	return plugin.Execute(execCtx, p.engine)
}
