package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/qtrade-labs/insight-api/internal/domain/reports"
)

type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Reserve inserts the placeholder row inside a short transaction and fills
// in the generated id. The tx commits before returning; on any error the
// deferred rollback guarantees no partial row remains.
func (r *ReportRepository) Reserve(ctx context.Context, rep *domain.Report) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO user_reports (user_id, report_name, report_path, status, created_at)
VALUES (?,?,?,?,?);`
	res, err := tx.ExecContext(ctx, q, rep.SubjectID, rep.Name, rep.Path, rep.Status, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("report insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}
	rep.ID = domain.ReportID(id)
	return nil
}

func (r *ReportRepository) UpdateSummary(ctx context.Context, id domain.ReportID, summary string) error {
	const q = `UPDATE user_reports SET report_summary = ? WHERE id = ?;`
	_, err := r.db.ExecContext(ctx, q, summary, id)
	return err
}

func (r *ReportRepository) UpdateStatus(ctx context.Context, id domain.ReportID, status domain.Status) error {
	const q = `UPDATE user_reports SET status = ? WHERE id = ?;`
	_, err := r.db.ExecContext(ctx, q, status, id)
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

// LatestFor returns the subject's newest report, nil when none exists.
func (r *ReportRepository) LatestFor(ctx context.Context, subjectID int64) (*domain.Report, error) {
	const q = `
SELECT ` + reportColumns + `
FROM user_reports
WHERE user_id = ?
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
WHERE user_id = ?
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
	const q = `SELECT ` + reportColumns + ` FROM user_reports WHERE id = ? LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rep, err
}

func (r *ReportRepository) Delete(ctx context.Context, id domain.ReportID) error {
	const q = `DELETE FROM user_reports WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
