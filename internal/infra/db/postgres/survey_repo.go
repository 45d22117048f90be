package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/qtrade-labs/insight-api/internal/domain/survey"
)

const unansweredMarker = "未回答"

// QuestionRepository mirrors the mysql variant with $n placeholders.
type QuestionRepository struct{ db *sql.DB }

func NewQuestionRepository(db *sql.DB) *QuestionRepository { return &QuestionRepository{db: db} }

func (r *QuestionRepository) Create(ctx context.Context, q *domain.Question) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin question tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO survey_questions (title, type, is_required, sort_order) VALUES ($1,$2,$3,$4) RETURNING id;`,
		q.Title, q.Type, q.IsRequired, q.SortOrder).Scan(&id); err != nil {
		return fmt.Errorf("insert question: %w", err)
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

func (r *QuestionRepository) Update(ctx context.Context, q *domain.Question) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin question tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE survey_questions SET title = $1, type = $2, is_required = $3, sort_order = $4 WHERE id = $5;`,
		q.Title, q.Type, q.IsRequired, q.SortOrder, q.ID)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrQuestionNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_question_options WHERE question_id = $1;`, q.ID); err != nil {
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
	for _, o := range opts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO survey_question_options (question_id, content, sort_order) VALUES ($1,$2,$3);`,
			questionID, o.Content, o.SortOrder); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return nil
}

func (r *QuestionRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM survey_questions WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (r *QuestionRepository) Get(ctx context.Context, id int64) (*domain.Question, error) {
	var out domain.Question
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, type, is_required, sort_order FROM survey_questions WHERE id = $1 LIMIT 1;`, id).
		Scan(&out.ID, &out.Title, &out.Type, &out.IsRequired, &out.SortOrder)
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

	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, type, is_required, sort_order
FROM survey_questions
ORDER BY sort_order, created_at
LIMIT $1 OFFSET $2;`, pageSize, offset)
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
	rows, err := r.db.QueryContext(ctx, `
SELECT id, content, sort_order
FROM survey_question_options
WHERE question_id = $1
ORDER BY sort_order, id;`, questionID)
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

// ResponseRepository mirrors the mysql variant; the option-id CSV is joined
// via string_to_array instead of FIND_IN_SET.
type ResponseRepository struct{ db *sql.DB }

func NewResponseRepository(db *sql.DB) *ResponseRepository { return &ResponseRepository{db: db} }

func (r *ResponseRepository) SaveBatch(ctx context.Context, subjectID int64, responses []*domain.Response) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin response tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO survey_responses (question_id, user_id, response_text, selected_option_ids, answer_duration)
VALUES ($1,$2,$3,$4,$5);`)
	if err != nil {
		return fmt.Errorf("prepare response insert: %w", err)
	}
	defer stmt.Close()

	for _, resp := range responses {
		var text, selected sql.NullString
		if resp.Text != "" {
			text = sql.NullString{String: resp.Text, Valid: true}
		}
		if csv := joinIDs(resp.SelectedOptionIDs); csv != "" {
			selected = sql.NullString{String: csv, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, resp.QuestionID, subjectID, text, selected, resp.DurationSeconds); err != nil {
			return fmt.Errorf("insert response: %w", err)
		}
	}
	return tx.Commit()
}

const responseQuery = `
SELECT r.id,
       r.question_id,
       q.title,
       q.type,
       r.response_text,
       r.selected_option_ids,
       r.answer_duration,
       (
         SELECT string_agg(o.content, ', ' ORDER BY o.id)
         FROM survey_question_options o
         WHERE o.id::text = ANY(string_to_array(r.selected_option_ids, ','))
       ) AS selected_options_text
FROM survey_responses r
JOIN survey_questions q ON r.question_id = q.id
WHERE r.user_id = $1
ORDER BY r.id;`

func (r *ResponseRepository) ListBySubject(ctx context.Context, subjectID int64) ([]*domain.ResponseDetail, error) {
	rows, err := r.db.QueryContext(ctx, responseQuery, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ResponseDetail
	for rows.Next() {
		d, err := scanResponseDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *ResponseRepository) AnswersFor(ctx context.Context, subjectID int64) ([]domain.QuestionAnswer, error) {
	rows, err := r.db.QueryContext(ctx, responseQuery, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QuestionAnswer
	for rows.Next() {
		d, err := scanResponseDetail(rows)
		if err != nil {
			return nil, err
		}
		answer := d.Text
		if answer == "" {
			answer = d.SelectedOptionsText
		}
		if answer == "" {
			answer = unansweredMarker
		}
		out = append(out, domain.QuestionAnswer{
			Question:        d.QuestionTitle,
			Answer:          answer,
			DurationSeconds: d.DurationSeconds,
		})
	}
	return out, rows.Err()
}

func scanResponseDetail(rows *sql.Rows) (*domain.ResponseDetail, error) {
	var d domain.ResponseDetail
	var text, selectedIDs, selectedText sql.NullString
	if err := rows.Scan(&d.ID, &d.QuestionID, &d.QuestionTitle, &d.QuestionType,
		&text, &selectedIDs, &d.DurationSeconds, &selectedText); err != nil {
		return nil, err
	}
	d.Text = text.String
	d.SelectedOptionIDs = splitIDs(selectedIDs.String)
	d.SelectedOptionsText = selectedText.String
	return &d, nil
}

// SubjectRepository mirrors the mysql variant.
type SubjectRepository struct{ db *sql.DB }

func NewSubjectRepository(db *sql.DB) *SubjectRepository { return &SubjectRepository{db: db} }

func (r *SubjectRepository) Get(ctx context.Context, id int64) (*domain.Subject, error) {
	var s domain.Subject
	var nickname, email sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, nickname, email FROM customer WHERE id = $1 LIMIT 1;`, id).
		Scan(&s.ID, &s.Username, &nickname, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Nickname = nickname.String
	s.Email = email.String
	return &s, nil
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []int64
	for _, p := range strings.Split(s, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
