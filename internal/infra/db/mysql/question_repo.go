package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/qtrade-labs/insight-api/internal/domain/survey"
)

type QuestionRepository struct {
	db *sql.DB
}

func NewQuestionRepository(db *sql.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts the question and its options in one transaction.
func (r *QuestionRepository) Create(ctx context.Context, q *domain.Question) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin question tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO survey_questions (title, type, is_required, sort_order) VALUES (?,?,?,?);`,
		q.Title, q.Type, q.IsRequired, q.SortOrder)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("question insert id: %w", err)
	}
	if err := insertOptions(ctx, tx, id, q.Options); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit question tx: %w", err)
	}
	q.ID = id
	return nil
}

// Update rewrites the question row and replaces all options.
func (r *QuestionRepository) Update(ctx context.Context, q *domain.Question) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin question tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE survey_questions SET title = ?, type = ?, is_required = ?, sort_order = ? WHERE id = ?;`,
		q.Title, q.Type, q.IsRequired, q.SortOrder, q.ID)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Row may exist unchanged; verify before reporting not-found.
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM survey_questions WHERE id = ?;`, q.ID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrQuestionNotFound
			}
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_question_options WHERE question_id = ?;`, q.ID); err != nil {
		return fmt.Errorf("clear options: %w", err)
	}
	if err := insertOptions(ctx, tx, q.ID, q.Options); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit question tx: %w", err)
	}
	return nil
}

func insertOptions(ctx context.Context, tx *sql.Tx, questionID int64, opts []domain.Option) error {
	if len(opts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO survey_question_options (question_id, content, sort_order) VALUES (?,?,?);`)
	if err != nil {
		return fmt.Errorf("prepare option insert: %w", err)
	}
	defer stmt.Close()
	for _, o := range opts {
		if _, err := stmt.ExecContext(ctx, questionID, o.Content, o.SortOrder); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return nil
}

func (r *QuestionRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM survey_questions WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (r *QuestionRepository) Get(ctx context.Context, id int64) (*domain.Question, error) {
	const q = `SELECT id, title, type, is_required, sort_order FROM survey_questions WHERE id = ? LIMIT 1;`
	var out domain.Question
	err := r.db.QueryRowContext(ctx, q, id).Scan(&out.ID, &out.Title, &out.Type, &out.IsRequired, &out.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if out.Options, err = r.optionsFor(ctx, id); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *QuestionRepository) List(ctx context.Context, page, pageSize int) ([]*domain.Question, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM survey_questions;`).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `
SELECT id, title, type, is_required, sort_order
FROM survey_questions
ORDER BY sort_order, created_at
LIMIT ? OFFSET ?;`
	rows, err := r.db.QueryContext(ctx, q, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Question
	for rows.Next() {
		var item domain.Question
		if err := rows.Scan(&item.ID, &item.Title, &item.Type, &item.IsRequired, &item.SortOrder); err != nil {
			return nil, 0, err
		}
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, item := range out {
		if item.Options, err = r.optionsFor(ctx, item.ID); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (r *QuestionRepository) optionsFor(ctx context.Context, questionID int64) ([]domain.Option, error) {
	const q = `
SELECT id, content, sort_order
FROM survey_question_options
WHERE question_id = ?
ORDER BY sort_order, id;`
	rows, err := r.db.QueryContext(ctx, q, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	opts := []domain.Option{}
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.Content, &o.SortOrder); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}
