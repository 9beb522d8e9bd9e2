// Package pipeline implements the ten-phase execution pipeline of
// spec §4.2, grounded on the teacher's system/core/registry.go ordered,
// mutex-guarded module registration generalized from named service
// modules to named ordered phase plugins.
package pipeline

import "github.com/r3e-network/llm-inference-kernel/execution"

// The ten ordered phases of spec §4.2.
const (
	PhasePreValidate     execution.Phase = "PRE_VALIDATE"
	PhaseValidate        execution.Phase = "VALIDATE"
	PhaseAuthorize       execution.Phase = "AUTHORIZE"
	PhaseRoute           execution.Phase = "ROUTE"
	PhasePreProcessing   execution.Phase = "PRE_PROCESSING"
	PhaseProviderDispatch execution.Phase = "PROVIDER_DISPATCH"
	PhasePostProcessing  execution.Phase = "POST_PROCESSING"
	PhaseAudit           execution.Phase = "AUDIT"
	PhaseObservability   execution.Phase = "OBSERVABILITY"
	PhaseCleanup         execution.Phase = "CLEANUP"
)

// Ordered returns the fixed phase order of spec §4.2.
func Ordered() []execution.Phase {
	return []execution.Phase{
		PhasePreValidate,
		PhaseValidate,
		PhaseAuthorize,
		PhaseRoute,
		PhasePreProcessing,
		PhaseProviderDispatch,
		PhasePostProcessing,
		PhaseAudit,
		PhaseObservability,
		PhaseCleanup,
	}
}

var critical = map[execution.Phase]bool{
	PhasePreValidate:      true,
	PhaseValidate:         true,
	PhaseAuthorize:        true,
	PhaseProviderDispatch: true,
}

var retryable = map[execution.Phase]bool{
	PhaseRoute:            true,
	PhaseProviderDispatch: true,
}

var runsOnError = map[execution.Phase]bool{
	PhaseAudit:         true,
	PhaseObservability: true,
	PhaseCleanup:       true,
}

// IsCritical reports whether a plugin failure in phase stops the
// remaining plugins of that phase. Any plugin failure, critical or not,
// makes the pipeline skip the later phases that do not run on error.
func IsCritical(p execution.Phase) bool { return critical[p] }

// IsRetryable reports whether phase is eligible for retry.
func IsRetryable(p execution.Phase) bool { return retryable[p] }

// IsIdempotent reports whether phase may be safely re-executed; every
// phase is idempotent except PROVIDER_DISPATCH (spec §4.2).
func IsIdempotent(p execution.Phase) bool { return p != PhaseProviderDispatch }

// RunsOnError reports whether phase must still execute, best-effort,
// after a prior critical failure (spec §4.2).
func RunsOnError(p execution.Phase) bool { return runsOnError[p] }
