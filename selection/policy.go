// Package selection implements the selection policy of spec §4.4: a
// pure scoring function over candidate runners, returning a ranked
// list for the orchestrator to walk.
//
// Grounded on the teacher's scoring-less registry filters
// (system/core/registry.go's domain/permission-filtered module
// lookups), generalized here into a scored ranking; the arithmetic
// itself is stdlib (no ecosystem ranking/scoring library in the pack
// fits a spec-mandated, fixed-weight formula better than plain
// arithmetic — see DESIGN.md).
package selection

import (
	"sort"

	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
	"github.com/r3e-network/llm-inference-kernel/model"
)

// Candidate describes one configured runner as input to scoring
// (spec §4.4). Device/format/resource fields mirror model.ModelManifest;
// Load and Healthy reflect the runner's live state as tracked by the
// runner/session packages.
type Candidate struct {
	RunnerID         string
	SupportedDevices []string
	SupportsFormat   bool
	HistoricalP95    float64 // seconds
	Resources        model.ResourceRequirements
	AvailableMemory  int64
	AvailableVRAM    int64
	Healthy          bool
	CPUCapable       bool
	Load             float64 // 0..1 utilization
}

// Request carries the selection-relevant portion of an inference
// request context (spec §4.4: "tenant, timeout, priority, preferred
// device, cost-sensitive flag").
type Request struct {
	Timeout         float64 // seconds
	PreferredDevice string
	CostSensitive   bool
}

// Scored pairs a candidate with its computed score.
type Scored struct {
	Candidate Candidate
	Score     int
}

// hardFilter reports whether c fails a hard exclusion: format
// incompatibility or device unavailability (spec §4.4).
func hardFilter(c Candidate) bool {
	if !c.SupportsFormat {
		return true
	}
	if len(c.SupportedDevices) == 0 {
		return true
	}
	return false
}

func sufficientResources(c Candidate) bool {
	if c.AvailableMemory > 0 && c.AvailableMemory < c.Resources.MinMemoryBytes {
		return false
	}
	if c.Resources.MinVRAMBytes > 0 && c.AvailableVRAM < c.Resources.MinVRAMBytes {
		return false
	}
	return true
}

// score computes the spec §4.4 formula for one candidate.
func score(c Candidate, req Request) int {
	s := 0
	preferredMatches := false
	for _, d := range c.SupportedDevices {
		if req.PreferredDevice != "" && d == req.PreferredDevice {
			preferredMatches = true
			break
		}
	}
	if preferredMatches {
		s += 50
	}
	if c.SupportsFormat {
		s += 30
	}
	if req.Timeout > 0 && c.HistoricalP95 > 0 && c.HistoricalP95 < req.Timeout {
		s += 25
	}
	if sufficientResources(c) {
		s += 20
	}
	if c.Healthy {
		s += 15
	}
	if req.CostSensitive && c.CPUCapable {
		s += 10
	}
	s += loadAdjust(c.Load)
	if s < 0 {
		s = 0
	}
	return s
}

func loadAdjust(load float64) int {
	switch {
	case load < 0.7:
		return 10
	case load > 0.9:
		return -20
	default:
		return 0
	}
}

// SelectionPolicy ranks candidates per spec §4.4.
type SelectionPolicy struct{}

// New returns a SelectionPolicy. It holds no state: the formula is pure.
func New() *SelectionPolicy {
	return &SelectionPolicy{}
}

// Rank scores every candidate not excluded by a hard filter and
// returns them sorted descending by score, tie-broken lexicographically
// by runner identifier (spec §4.4).
func (p *SelectionPolicy) Rank(candidates []Candidate, req Request) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if hardFilter(c) {
			continue
		}
		out = append(out, Scored{Candidate: c, Score: score(c, req)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Candidate.RunnerID < out[j].Candidate.RunnerID
	})
	return out
}

// RankOrError is Rank plus the zero-candidate guard of spec §8.14: "a
// request whose candidate set is empty after hard filtering raises
// NoCompatibleProviderAvailable". Rank itself stays a pure, always-
// succeeding scoring function so existing callers that want the raw
// ranked slice (diagnostics, Explain-adjacent tooling) are unaffected;
// RankOrError is the entry point that carries the policy's own
// raise-on-empty obligation.
func (p *SelectionPolicy) RankOrError(candidates []Candidate, req Request) ([]Scored, error) {
	out := p.Rank(candidates, req)
	if len(out) == 0 {
		return nil, kernelerrors.ErrNoCompatibleProviderAvailable
	}
	return out, nil
}

// Explain returns the per-factor score breakdown for one candidate
// (SPEC_FULL.md §C.3), useful for diagnostics and audit trails.
func (p *SelectionPolicy) Explain(c Candidate, req Request) map[string]int {
	breakdown := map[string]int{}
	preferredMatches := false
	for _, d := range c.SupportedDevices {
		if req.PreferredDevice != "" && d == req.PreferredDevice {
			preferredMatches = true
			break
		}
	}
	if preferredMatches {
		breakdown["preferred_device"] = 50
	}
	if c.SupportsFormat {
		breakdown["format_support"] = 30
	}
	if req.Timeout > 0 && c.HistoricalP95 > 0 && c.HistoricalP95 < req.Timeout {
		breakdown["p95_under_timeout"] = 25
	}
	if sufficientResources(c) {
		breakdown["sufficient_resources"] = 20
	}
	if c.Healthy {
		breakdown["healthy"] = 15
	}
	if req.CostSensitive && c.CPUCapable {
		breakdown["cost_sensitive_cpu"] = 10
	}
	breakdown["load_adjust"] = loadAdjust(c.Load)
	breakdown["total"] = score(c, req)
	return breakdown
}
