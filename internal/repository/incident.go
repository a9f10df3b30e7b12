package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reportdesk/internal/logger"
	"github.com/reportdesk/internal/model"
)

type IncidentRepository struct {
	pool *pgxpool.Pool
}

func NewIncidentRepository(pool *pgxpool.Pool) *IncidentRepository {
	return &IncidentRepository{pool: pool}
}

const incidentCols = `id, title, description, severity, status, COALESCE(image_url,''), reported_by, created_at, updated_at`

func scanIncident(s interface{ Scan(dest ...any) error }, in *model.Incident) error {
	return s.Scan(&in.ID, &in.Title, &in.Description, &in.Severity, &in.Status,
		&in.ImageURL, &in.ReportedBy, &in.CreatedAt, &in.UpdatedAt)
}

func (r *IncidentRepository) Create(ctx context.Context, in *model.Incident) error {
	defer logger.DeferLogDuration("incident.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO incidents (id, title, description, severity, status, image_url, reported_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.ID, in.Title, in.Description, in.Severity, in.Status, in.ImageURL, in.ReportedBy, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("incidentRepo.Create: %w", err)
	}
	return nil
}

func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*model.Incident, error) {
	defer logger.DeferLogDuration("incident.GetByID", time.Now())()
	in := &model.Incident{}
	row := r.pool.QueryRow(ctx, `SELECT `+incidentCols+` FROM incidents WHERE id = $1`, id)
	if err := scanIncident(row, in); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("incidentRepo.GetByID: %w", err)
	}
	return in, nil
}

func (r *IncidentRepository) List(ctx context.Context, status string, limit, offset int) ([]model.Incident, error) {
	defer logger.DeferLogDuration("incident.List", time.Now())()
	query := `SELECT ` + incidentCols + ` FROM incidents`
	args := []any{limit, offset}
	if status != "" {
		query += ` WHERE status = $3`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("incidentRepo.List query: %w", err)
	}
	defer rows.Close()
	var out []model.Incident
	for rows.Next() {
		var in model.Incident
		if err := scanIncident(rows, &in); err != nil {
			return nil, fmt.Errorf("incidentRepo.List scan: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *IncidentRepository) UpdateStatus(ctx context.Context, id string, status model.IncidentStatus, at time.Time) error {
	defer logger.DeferLogDuration("incident.UpdateStatus", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE incidents SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at,
	)
	if err != nil {
		return fmt.Errorf("incidentRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WeeklyReport aggregates incidents into ISO-week buckets for the digest.
func (r *IncidentRepository) WeeklyReport(ctx context.Context, since time.Time) ([]model.WeeklyReportRow, error) {
	defer logger.DeferLogDuration("incident.WeeklyReport", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT date_trunc('week', created_at) AS week_start,
		        count(*),
		        count(*) FILTER (WHERE status = 'resolved')
		 FROM incidents
		 WHERE created_at >= $1
		 GROUP BY week_start
		 ORDER BY week_start DESC`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("incidentRepo.WeeklyReport query: %w", err)
	}
	defer rows.Close()
	var out []model.WeeklyReportRow
	for rows.Next() {
		var row model.WeeklyReportRow
		if err := rows.Scan(&row.WeekStart, &row.Total, &row.Resolved); err != nil {
			return nil, fmt.Errorf("incidentRepo.WeeklyReport scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
