package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledgerline/cashops/internal/domain"
)

type invariantRepo struct{ s *Store }

func (r *invariantRepo) SaveRun(ctx context.Context, run *domain.InvariantRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&run.ID)
	if run.RanAt.IsZero() {
		run.RanAt = time.Now().UTC()
	}
	findings, err := json.Marshal(run.Findings)
	if err != nil {
		return domain.NewInfraError("DB_INSERT", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO invariant_runs
			(id, snapshot_id, status, ran_at, passed, failed, warned, skipped, findings_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.SnapshotID, run.Status, run.RanAt,
		run.Passed, run.Failed, run.Warned, run.Skipped, string(findings))
	if err != nil {
		return domain.NewInfraError("DB_INSERT", err)
	}
	return nil
}

func (r *invariantRepo) LatestRun(ctx context.Context, snapshotID string) (*domain.InvariantRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	row := r.s.db.QueryRowxContext(ctx, `
		SELECT id, snapshot_id, status, ran_at, passed, failed, warned, skipped, findings_json
		FROM invariant_runs WHERE snapshot_id = $1
		ORDER BY ran_at DESC LIMIT 1`, snapshotID)

	var run domain.InvariantRun
	var findings string
	err := row.Scan(&run.ID, &run.SnapshotID, &run.Status, &run.RanAt,
		&run.Passed, &run.Failed, &run.Warned, &run.Skipped, &findings)
	if err != nil {
		return nil, mapGetErr(err)
	}
	if findings != "" {
		if err := json.Unmarshal([]byte(findings), &run.Findings); err != nil {
			return nil, domain.NewInfraError("DB_QUERY", err)
		}
	}
	return &run, nil
}
