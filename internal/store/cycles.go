package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agencyos/internal/domain"
)

// NextCycleNumber returns the number the next cycle should carry.
func (s *Store) NextCycleNumber(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(cycle_number) FROM cycle_logs").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next cycle number: %w", err)
	}
	return n.Int64 + 1, nil
}

// StartCycle opens a cycle_logs row and returns its ID.
func (s *Store) StartCycle(ctx context.Context, cycleNumber int64, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_logs (cycle_number, started_at) VALUES (?, ?)
	`, cycleNumber, fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("start cycle %d: %w", cycleNumber, err)
	}
	return res.LastInsertId()
}

// FinishCycle closes a cycle_logs row with its outcome. phaseDurations
// is a JSON object of phase name to milliseconds.
func (s *Store) FinishCycle(ctx context.Context, id int64, success bool, failedPhase, errMsg, phaseDurations string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cycle_logs SET finished_at = ?, success = ?, failed_phase = ?, error = ?, phase_durations = ?
		WHERE id = ?
	`, fmtTime(now), boolInt(success), nullStr(failedPhase), nullStr(errMsg),
		nullStr(phaseDurations), id)
	if err != nil {
		return fmt.Errorf("finish cycle %d: %w", id, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanCycleLog(row interface{ Scan(...any) error }) (*domain.CycleLog, error) {
	var c domain.CycleLog
	var success int
	var startedAt, finishedAt, failedPhase, errMsg, durations sql.NullString
	if err := row.Scan(&c.ID, &c.CycleNumber, &startedAt, &finishedAt, &success,
		&failedPhase, &errMsg, &durations); err != nil {
		return nil, err
	}
	c.Success = success == 1
	c.FailedPhase = strOr(failedPhase)
	c.Error = strOr(errMsg)
	c.PhaseDurations = strOr(durations)
	var err error
	if c.StartedAt, err = scanTime(startedAt); err != nil {
		return nil, err
	}
	if c.FinishedAt, err = scanTimePtr(finishedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// LatestCycle returns the most recent cycle log, or nil before the
// first cycle.
func (s *Store) LatestCycle(ctx context.Context) (*domain.CycleLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cycle_number, started_at, finished_at, success, failed_phase, error, phase_durations
		FROM cycle_logs ORDER BY id DESC LIMIT 1
	`)
	c, err := scanCycleLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest cycle: %w", err)
	}
	return c, nil
}

// ListCycles returns the most recent cycle logs, newest first.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]*domain.CycleLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_number, started_at, finished_at, success, failed_phase, error, phase_durations
		FROM cycle_logs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var out []*domain.CycleLog
	for rows.Next() {
		c, err := scanCycleLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle log: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveGateReport persists one cycle's gate report JSON.
func (s *Store) SaveGateReport(ctx context.Context, cycleNumber int64, report string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_reports (cycle_number, generated_at, report) VALUES (?, ?, ?)
		ON CONFLICT(cycle_number) DO UPDATE SET
			generated_at = excluded.generated_at,
			report = excluded.report
	`, cycleNumber, fmtTime(now), report)
	if err != nil {
		return fmt.Errorf("save gate report %d: %w", cycleNumber, err)
	}
	return nil
}

// LatestGateReport returns the newest stored report JSON and its cycle,
// or ("", 0, nil) before the first GATES phase.
func (s *Store) LatestGateReport(ctx context.Context) (string, int64, error) {
	var report string
	var cycle int64
	err := s.db.QueryRowContext(ctx, `
		SELECT report, cycle_number FROM gate_reports ORDER BY cycle_number DESC LIMIT 1
	`).Scan(&report, &cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("latest gate report: %w", err)
	}
	return report, cycle, nil
}
