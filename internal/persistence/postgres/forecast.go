package postgres

import (
	"context"
	"encoding/json"

	"github.com/ledgerline/cashops/internal/domain"
)

type forecastRepo struct{ s *Store }

// ReplaceSegments swaps a snapshot's segment rows in one transaction so a
// forecast rerun never leaves a mixed state behind.
func (r *forecastRepo) ReplaceSegments(ctx context.Context, snapshotID string, segs []*domain.Segment) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	tx, err := r.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.NewInfraError("DB_TX", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM forecast_segments WHERE snapshot_id = $1`, snapshotID); err != nil {
		return domain.NewInfraError("DB_DELETE", err)
	}
	for _, seg := range segs {
		ensureID(&seg.ID)
		level, err := json.Marshal(seg.Level)
		if err != nil {
			return domain.NewInfraError("DB_ENCODE", err)
		}
		values, err := json.Marshal(seg.Values)
		if err != nil {
			return domain.NewInfraError("DB_ENCODE", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO forecast_segments (id, snapshot_id, key, level, values_json,
				count, p25, p50, p75, p90, mean, std)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			seg.ID, snapshotID, seg.Key, level, values,
			seg.Count, seg.P25, seg.P50, seg.P75, seg.P90, seg.Mean, seg.Std); err != nil {
			return domain.NewInfraError("DB_INSERT", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.NewInfraError("DB_TX", err)
	}
	return nil
}

func (r *forecastRepo) ListSegments(ctx context.Context, snapshotID string) ([]*domain.Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	rows, err := r.s.db.QueryxContext(ctx, `
		SELECT id, snapshot_id, key, level, values_json, count, p25, p50, p75, p90, mean, std
		FROM forecast_segments WHERE snapshot_id = $1 ORDER BY key`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	defer rows.Close()

	var out []*domain.Segment
	for rows.Next() {
		var (
			seg           domain.Segment
			level, values []byte
		)
		if err := rows.Scan(&seg.ID, &seg.SnapshotID, &seg.Key, &level, &values,
			&seg.Count, &seg.P25, &seg.P50, &seg.P75, &seg.P90, &seg.Mean, &seg.Std); err != nil {
			return nil, domain.NewInfraError("DB_SCAN", err)
		}
		if err := json.Unmarshal(level, &seg.Level); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
		if err := json.Unmarshal(values, &seg.Values); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
		out = append(out, &seg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

func (r *forecastRepo) ReplaceCalibrations(ctx context.Context, snapshotID string, recs []*domain.CalibrationRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	tx, err := r.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.NewInfraError("DB_TX", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM forecast_calibrations WHERE snapshot_id = $1`, snapshotID); err != nil {
		return domain.NewInfraError("DB_DELETE", err)
	}
	for _, rec := range recs {
		ensureID(&rec.ID)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO forecast_calibrations (id, snapshot_id, segment_key,
				coverage_25, coverage_50, coverage_75, coverage_90, calibration_error, sample_size)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rec.ID, snapshotID, rec.SegmentKey,
			rec.Coverage25, rec.Coverage50, rec.Coverage75, rec.Coverage90,
			rec.CalibrationError, rec.SampleSize); err != nil {
			return domain.NewInfraError("DB_INSERT", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.NewInfraError("DB_TX", err)
	}
	return nil
}

func (r *forecastRepo) ListCalibrations(ctx context.Context, snapshotID string) ([]*domain.CalibrationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.CalibrationRecord
	err := r.s.db.SelectContext(ctx, &out, `
		SELECT id, snapshot_id, segment_key, coverage_25, coverage_50, coverage_75,
			coverage_90, calibration_error, sample_size
		FROM forecast_calibrations WHERE snapshot_id = $1 ORDER BY segment_key`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}
