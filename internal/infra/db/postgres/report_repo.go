package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/qtrade-labs/insight-api/internal/domain/reports"
)

type ReportRepository struct{ db *sql.DB }

func NewReportRepository(db *sql.DB) *ReportRepository { return &ReportRepository{db: db} }

// Reserve mirrors the mysql variant but relies on RETURNING for the id.
func (r *ReportRepository) Reserve(ctx context.Context, rep *domain.Report) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO user_reports (user_id, report_name, report_path, status, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id;`
	var id int64
	if err := tx.QueryRowContext(ctx, q, rep.SubjectID, rep.Name, rep.Path, rep.Status, rep.CreatedAt).Scan(&id); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}
	rep.ID = domain.ReportID(id)
	return nil
}

func (r *ReportRepository) UpdateSummary(ctx context.Context, id domain.ReportID, summary string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_reports SET report_summary = $1 WHERE id = $2;`, summary, id)
	return err
}

func (r *ReportRepository) UpdateStatus(ctx context.Context, id domain.ReportID, status domain.Status) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_reports SET status = $1 WHERE id = $2;`, status, id)
	return err
}

const reportColumns = `id, user_id, report_name, report_path, report_summary, status, created_at`

func scanReport(row interface{ Scan(...any) error }) (*domain.Report, error) {
	var rep domain.Report
	var summary sql.NullString
	if err := row.Scan(&rep.ID, &rep.SubjectID, &rep.Name, &rep.Path, &summary, &rep.Status, &rep.CreatedAt); err != nil {
		return nil, err
	}
	rep.Summary = summary.String
	return &rep, nil
}

func (r *ReportRepository) LatestFor(ctx context.Context, subjectID int64) (*domain.Report, error) {
	const q = `
SELECT ` + reportColumns + `
FROM user_reports
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, subjectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rep, err
}

func (r *ReportRepository) ListFor(ctx context.Context, subjectID int64) ([]*domain.Report, error) {
	const q = `
SELECT ` + reportColumns + `
FROM user_reports
WHERE user_id = $1
ORDER BY created_at DESC, id DESC;`
	rows, err := r.db.QueryContext(ctx, q, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *ReportRepository) Get(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	const q = `SELECT ` + reportColumns + ` FROM user_reports WHERE id = $1 LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rep, err
}

func (r *ReportRepository) Delete(ctx context.Context, id domain.ReportID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_reports WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
