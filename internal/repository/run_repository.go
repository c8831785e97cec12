package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger-auditor/internal/models"

	"github.com/rs/zerolog"
)

type RunRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewRunRepository(db *sql.DB, logger zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *RunRepository) CreateRun(ctx context.Context, jobName string, metadata any) (int64, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to encode run metadata: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"INSERT INTO monitoring_runs (job_name, status, started_at, metadata) VALUES (?, ?, ?, ?)",
		jobName, string(models.RunStatusRunning), r.now().UTC(), raw,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("job", jobName).Msg("Error creating monitoring run")
		return 0, fmt.Errorf("database error: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}
	return id, nil
}

// FinishRun moves a running run to a terminal status. The status guard in the
// WHERE clause keeps completed and failed runs immutable.
func (r *RunRepository) FinishRun(ctx context.Context, runID int64, status models.RunStatus, metadata any) error {
	if !status.IsTerminal() {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode run metadata: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE monitoring_runs SET status = ?, completed_at = ?, metadata = ? WHERE id = ? AND status = ?",
		string(status), r.now().UTC(), raw, runID, string(models.RunStatusRunning),
	)
	if err != nil {
		r.logger.Error().Err(err).Int64("run_id", runID).Msg("Error finishing monitoring run")
		return fmt.Errorf("database error: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetRun(ctx, runID); err != nil {
			return err
		}
		return models.ErrRunFinished
	}
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID int64) (*models.MonitoringRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, job_name, status, started_at, completed_at, metadata FROM monitoring_runs WHERE id = ?",
		runID,
	)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("run_id", runID).Msg("Error fetching monitoring run")
		return nil, fmt.Errorf("database error: %w", err)
	}
	return run, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, jobName string, limit, offset int) ([]*models.MonitoringRun, error) {
	query := `
		SELECT id, job_name, status, started_at, completed_at, metadata
		FROM monitoring_runs
		WHERE (? = '' OR job_name = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, query, jobName, jobName, limit, offset)
	if err != nil {
		r.logger.Error().Err(err).Str("job", jobName).Msg("Error listing monitoring runs")
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var runs []*models.MonitoringRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning monitoring run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monitoring runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.MonitoringRun, error) {
	var run models.MonitoringRun
	var status string
	var completedAt sql.NullTime
	var metadata []byte

	if err := row.Scan(&run.ID, &run.JobName, &status, &run.StartedAt, &completedAt, &metadata); err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if len(metadata) > 0 {
		run.Metadata = json.RawMessage(metadata)
	}
	return &run, nil
}
