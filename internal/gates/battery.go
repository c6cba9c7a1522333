package gates

import (
	"context"
	"fmt"
)

// The individual gate evaluators. Each reads its counts through the
// store's gate queries and renders a Result; thresholds come from the
// engine's configuration.

func (e *Engine) dataIntegrity(ctx context.Context) (Result, error) {
	n, err := e.store.IntegrityViolations(ctx)
	if err != nil {
		return Result{}, err
	}
	return countResult(n, "structural invariant violations"), nil
}

func (e *Engine) projectBrandRequired(ctx context.Context) (Result, error) {
	n, err := e.store.ExternalProjectsMissingBrand(ctx)
	if err != nil {
		return Result{}, err
	}
	return countResult(n, "client projects without a brand"), nil
}

func (e *Engine) projectBrandConsistency(ctx context.Context) (Result, error) {
	n, err := e.store.BrandInconsistentProjects(ctx)
	if err != nil {
		return Result{}, err
	}
	return countResult(n, "projects disagreeing with their brand's client"), nil
}

func (e *Engine) projectClientPopulated(ctx context.Context) (Result, error) {
	n, err := e.store.ExternalProjectsMissingClient(ctx)
	if err != nil {
		return Result{}, err
	}
	return countResult(n, "client projects without a client"), nil
}

func (e *Engine) internalProjectClientNull(ctx context.Context) (Result, error) {
	n, err := e.store.InternalProjectsWithClient(ctx)
	if err != nil {
		return Result{}, err
	}
	return countResult(n, "internal projects carrying client linkage"), nil
}

func (e *Engine) clientCoverage(ctx context.Context) (Result, error) {
	linked, total, err := e.store.ClientCoverage(ctx)
	if err != nil {
		return Result{}, err
	}
	return ratioResult(linked, total, e.thresholds.ClientCoverage, "client-linkable tasks"), nil
}

func (e *Engine) commitmentReady(ctx context.Context) (Result, error) {
	ready, total, err := e.store.CommitmentReadiness(ctx, e.thresholds.MinBodyLength)
	if err != nil {
		return Result{}, err
	}
	return ratioResult(ready, total, e.thresholds.CommitmentReady, "communications with bodies"), nil
}

func (e *Engine) financeARCoverage(ctx context.Context) (Result, error) {
	covered, total, err := e.store.ARCoverage(ctx)
	if err != nil {
		return Result{}, err
	}
	return ratioResult(covered, total, e.thresholds.FinanceARCoverage, "unpaid invoices"), nil
}

func (e *Engine) financeARClean(ctx context.Context) (Result, error) {
	n, err := e.store.ARDirtyInvoices(ctx)
	if err != nil {
		return Result{}, err
	}
	return countResult(n, "unpaid invoices missing client or due date"), nil
}

func (e *Engine) capacityBaseline(ctx context.Context) (Result, error) {
	lanes, unbudgeted, err := e.store.CapacityBaseline(ctx)
	if err != nil {
		return Result{}, err
	}
	// Zero lanes fails too: a baseline nobody defined is absent, not
	// vacuously present.
	if lanes == 0 {
		zero := 0.0
		return Result{Pass: false, Value: &zero, Message: "no capacity lanes defined"}, nil
	}
	if unbudgeted > 0 {
		v := float64(unbudgeted)
		return Result{Pass: false, Value: &v,
			Message: fmt.Sprintf("%d lanes without weekly hours", unbudgeted)}, nil
	}
	v := float64(lanes)
	return Result{Pass: true, Value: &v, Message: "ok"}, nil
}
