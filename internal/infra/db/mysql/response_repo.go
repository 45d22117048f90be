package mysql

import (
	"context"
	"database/sql"
	"fmt"

	domain "github.com/qtrade-labs/insight-api/internal/domain/survey"
)

// unansweredMarker is the literal appendix/prompt placeholder for questions
// the subject left blank.
const unansweredMarker = "未回答"

type ResponseRepository struct {
	db *sql.DB
}

func NewResponseRepository(db *sql.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// SaveBatch inserts all answer rows in one transaction.
func (r *ResponseRepository) SaveBatch(ctx context.Context, subjectID int64, responses []*domain.Response) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin response tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO survey_responses (question_id, user_id, response_text, selected_option_ids, answer_duration)
VALUES (?,?,?,?,?);`)
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
         SELECT GROUP_CONCAT(o.content SEPARATOR ', ')
         FROM survey_question_options o
         WHERE FIND_IN_SET(o.id, r.selected_option_ids)
       ) AS selected_options_text
FROM survey_responses r
JOIN survey_questions q ON r.question_id = q.id
WHERE r.user_id = ?
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

// AnswersFor flattens the subject's answers for the analyzer and the PDF
// appendix. Empty answers become the 未回答 marker.
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
