package mysql

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/qtrade-labs/insight-api/internal/domain/survey"
)

type SubjectRepository struct {
	db *sql.DB
}

func NewSubjectRepository(db *sql.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// Get loads the profile slice the report pipeline needs; nil when missing.
func (r *SubjectRepository) Get(ctx context.Context, id int64) (*domain.Subject, error) {
	const q = `SELECT id, username, nickname, email FROM customer WHERE id = ? LIMIT 1;`
	var s domain.Subject
	var nickname, email sql.NullString
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.Username, &nickname, &email)
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
