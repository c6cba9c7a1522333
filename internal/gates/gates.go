// Package gates evaluates the data-quality battery after normalization.
// Every gate is a SQL predicate over the store; the report is a
// deterministic function of the database contents. A failing gate is a
// valid result, not an error; downstream phases consume it.
package gates

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// Gate names, in report order.
const (
	GateDataIntegrity          = "data_integrity"
	GateProjectBrandRequired   = "project_brand_required"
	GateProjectBrandConsistent = "project_brand_consistency"
	GateProjectClientPopulated = "project_client_populated"
	GateInternalClientNull     = "internal_project_client_null"
	GateClientCoverage         = "client_coverage"
	GateCommitmentReady        = "commitment_ready"
	GateFinanceARCoverage      = "finance_ar_coverage"
	GateFinanceARClean         = "finance_ar_clean"
	GateCapacityBaseline       = "capacity_baseline"
)

// GateNames lists the battery in evaluation order.
func GateNames() []string {
	return []string{
		GateDataIntegrity,
		GateProjectBrandRequired,
		GateProjectBrandConsistent,
		GateProjectClientPopulated,
		GateInternalClientNull,
		GateClientCoverage,
		GateCommitmentReady,
		GateFinanceARCoverage,
		GateFinanceARClean,
		GateCapacityBaseline,
	}
}

// Result is one gate's outcome. Value is a violation count for boolean
// gates, a ratio for coverage gates, and nil when the denominator is
// empty (vacuous pass).
type Result struct {
	Pass    bool     `json:"pass"`
	Value   *float64 `json:"value"`
	Message string   `json:"message"`
}

// Report maps gate names to results plus the derived domain confidence.
type Report struct {
	Gates      map[string]Result                        `json:"gates"`
	Confidence map[domain.Domain]domain.ConfidenceState `json:"domain_confidence"`
}

// Pass reports whether the named gate passed. Unknown gates count as
// failed so a typo never silently relaxes a domain.
func (r *Report) Pass(name string) bool {
	res, ok := r.Gates[name]
	return ok && res.Pass
}

// JSON renders the report for gate_reports persistence.
func (r *Report) JSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal gate report: %w", err)
	}
	return string(data), nil
}

// Thresholds are the ratio-gate floors, overridable from config.
type Thresholds struct {
	ClientCoverage    float64
	CommitmentReady   float64
	FinanceARCoverage float64
	MinBodyLength     int
}

// DefaultThresholds returns the standard gate floors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ClientCoverage:    0.80,
		CommitmentReady:   0.50,
		FinanceARCoverage: 0.95,
		MinBodyLength:     50,
	}
}

// Engine evaluates the battery against a store.
type Engine struct {
	store      *store.Store
	thresholds Thresholds
	logger     *zap.Logger
}

// NewEngine builds a gate engine.
func NewEngine(st *store.Store, th Thresholds, logger *zap.Logger) *Engine {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Engine{store: st, thresholds: th, logger: logging.OrNop(logger).Named("gates")}
}

// Evaluate runs the full battery and derives domain confidence.
func (e *Engine) Evaluate(ctx context.Context) (*Report, error) {
	report := &Report{Gates: make(map[string]Result, 10)}

	type eval struct {
		name string
		fn   func(context.Context) (Result, error)
	}
	evals := []eval{
		{GateDataIntegrity, e.dataIntegrity},
		{GateProjectBrandRequired, e.projectBrandRequired},
		{GateProjectBrandConsistent, e.projectBrandConsistency},
		{GateProjectClientPopulated, e.projectClientPopulated},
		{GateInternalClientNull, e.internalProjectClientNull},
		{GateClientCoverage, e.clientCoverage},
		{GateCommitmentReady, e.commitmentReady},
		{GateFinanceARCoverage, e.financeARCoverage},
		{GateFinanceARClean, e.financeARClean},
		{GateCapacityBaseline, e.capacityBaseline},
	}
	for _, ev := range evals {
		res, err := ev.fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("gate %s: %w", ev.name, err)
		}
		report.Gates[ev.name] = res
		if !res.Pass {
			e.logger.Debug("gate failed", zap.String("gate", ev.name), zap.String("message", res.Message))
		}
	}

	report.Confidence = deriveConfidence(report)
	return report, nil
}

// deriveConfidence maps gate outcomes onto the per-domain trust level.
func deriveConfidence(r *Report) map[domain.Domain]domain.ConfidenceState {
	level := func(blocking, quality []string) domain.ConfidenceState {
		for _, g := range blocking {
			if !r.Pass(g) {
				return domain.ConfidenceBlocked
			}
		}
		for _, g := range quality {
			if !r.Pass(g) {
				return domain.ConfidenceDegraded
			}
		}
		return domain.ConfidenceReliable
	}
	return map[domain.Domain]domain.ConfidenceState{
		domain.DomainDelivery: level(
			[]string{GateDataIntegrity},
			[]string{GateProjectBrandRequired, GateProjectBrandConsistent, GateProjectClientPopulated}),
		domain.DomainClients: level(
			[]string{GateDataIntegrity},
			[]string{GateClientCoverage}),
		domain.DomainCash: level(
			[]string{GateDataIntegrity, GateFinanceARClean},
			[]string{GateFinanceARCoverage}),
		domain.DomainComms: level(
			[]string{GateDataIntegrity},
			[]string{GateCommitmentReady}),
		domain.DomainCapacity: level(
			[]string{GateDataIntegrity, GateCapacityBaseline},
			nil),
	}
}

// countResult renders a violation-count gate.
func countResult(violations int, what string) Result {
	v := float64(violations)
	if violations == 0 {
		return Result{Pass: true, Value: &v, Message: "ok"}
	}
	return Result{Pass: false, Value: &v, Message: fmt.Sprintf("%d %s", violations, what)}
}

// ratioResult renders a coverage gate. An empty denominator passes
// vacuously with a nil value; a fresh install should not open blocked.
func ratioResult(numerator, denominator int, floor float64, what string) Result {
	if denominator == 0 {
		return Result{Pass: true, Value: nil, Message: "no " + what + " yet"}
	}
	ratio := float64(numerator) / float64(denominator)
	if ratio >= floor {
		return Result{Pass: true, Value: &ratio,
			Message: fmt.Sprintf("%.0f%% of %s covered", ratio*100, what)}
	}
	return Result{Pass: false, Value: &ratio,
		Message: fmt.Sprintf("%.0f%% of %s covered, need %.0f%%", ratio*100, what, floor*100)}
}
