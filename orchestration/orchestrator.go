// Package orchestration implements the fallback walk of spec §4.4
// steps 1-5: acquire a runner for each ranked candidate in turn,
// invoke it through a circuit breaker, classify failures, and fall
// back to the next candidate or give up.
//
// Grounded on infrastructure/fallback/fallback.go's Handler.Execute
// (primary + fallbacks, walked in order, first success wins), adapted
// from "retry the same fn N times with backoff" to "walk a ranked
// candidate list once with no inter-candidate delay" since the ranked
// list itself already encodes priority order.
package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
	"github.com/r3e-network/llm-inference-kernel/provider"
	"github.com/r3e-network/llm-inference-kernel/resilience"
	"github.com/r3e-network/llm-inference-kernel/selection"
)

// RunnerAcquirer resolves a ranked candidate's runner identifier to a
// live Provider, warming it on miss (spec §4.5 "Acquire runner from
// factory (warms on miss)").
type RunnerAcquirer interface {
	Acquire(ctx context.Context, runnerID string) (provider.Provider, error)
}

// BreakerSource returns the circuit breaker guarding calls to a given
// runner, creating one with defaults on first use.
type BreakerSource interface {
	For(runnerID string) *resilience.CircuitBreaker
}

// Orchestrator walks a ranked candidate list per spec §4.4.
type Orchestrator struct {
	runners  RunnerAcquirer
	breakers BreakerSource
}

// New builds an Orchestrator over the given runner acquirer and
// circuit breaker source.
func New(runners RunnerAcquirer, breakers BreakerSource) *Orchestrator {
	return &Orchestrator{runners: runners, breakers: breakers}
}

// isNonRetryable reports whether err must abort the walk immediately
// rather than trigger fallback (spec §4.4 step 4: "validation or quota
// errors are non-retryable and surface immediately").
func isNonRetryable(err error) bool {
	var ke *kernelerrors.KernelError
	if errors.As(err, &ke) {
		return ke.Type == kernelerrors.TypeValidation || ke.Type == kernelerrors.TypeQuota
	}
	return false
}

// Execute walks ranked, acquiring and invoking each candidate's runner
// under its circuit breaker until one succeeds, a non-retryable error
// surfaces, or the list is exhausted (spec §4.4).
//
// ranked must already reflect selection.SelectionPolicy.Rank's output;
// an empty list is rejected with kernelerrors.ErrNoCompatibleProviderAvailable
// (spec §8.14) before any acquisition is attempted.
func (o *Orchestrator) Execute(ctx context.Context, ranked []selection.Scored, req provider.Request) (provider.Response, error) {
	if len(ranked) == 0 {
		return provider.Response{}, kernelerrors.ErrNoCompatibleProviderAvailable
	}

	var lastErr error
	for _, candidate := range ranked {
		runnerID := candidate.Candidate.RunnerID

		p, err := o.runners.Acquire(ctx, runnerID)
		if err != nil {
			lastErr = err
			continue
		}

		breaker := o.breakers.For(runnerID)
		var resp provider.Response
		execErr := breaker.Execute(ctx, func() error {
			r, err := p.Infer(ctx, req)
			resp = r
			return err
		})
		if execErr == nil {
			return resp, nil
		}

		lastErr = execErr
		if isNonRetryable(execErr) {
			return provider.Response{}, execErr
		}
		// any other error (provider/network/device/breaker-open) falls
		// back to the next ranked candidate.
	}

	return provider.Response{}, kernelerrors.Wrap(kernelerrors.TypeProvider, "all ranked runners failed",
		fmt.Errorf("%w: %v", kernelerrors.ErrAllRunnersFailed, lastErr))
}
