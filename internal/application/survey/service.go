package survey

import (
	"context"
	"strings"

	domain "github.com/qtrade-labs/insight-api/internal/domain/survey"
)

// Service implements question and response use-cases around the survey store.
type Service struct {
	Questions domain.QuestionRepository
	Responses domain.ResponseRepository
}

// QuestionCommand carries create/update input for a question and its options.
type QuestionCommand struct {
	Title      string
	Type       string
	IsRequired bool
	SortOrder  int
	Options    []OptionInput
}

type OptionInput struct {
	Content   string `json:"content"`
	SortOrder int    `json:"sort_order"`
}

// AnswerSubmission is one answer row in a batch submission.
type AnswerSubmission struct {
	QuestionID        int64   `json:"question_id"`
	Text              string  `json:"response_text"`
	SelectedOptionIDs []int64 `json:"selected_option_ids"`
	DurationSeconds   int     `json:"answer_duration"`
}

// QuestionPage is a classic offset-paginated question listing.
type QuestionPage struct {
	Data  []*domain.Question `json:"data"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
	Total int64              `json:"total"`
}

func (c QuestionCommand) toQuestion(id int64) (*domain.Question, error) {
	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Type) == "" {
		return nil, domain.ErrMissingFields
	}
	q := &domain.Question{
		ID:         id,
		Title:      c.Title,
		Type:       domain.QuestionType(c.Type),
		IsRequired: c.IsRequired,
		SortOrder:  c.SortOrder,
	}
	for i, o := range c.Options {
		sort := o.SortOrder
		if sort == 0 {
			sort = i
		}
		q.Options = append(q.Options, domain.Option{Content: o.Content, SortOrder: sort})
	}
	return q, nil
}

// CreateQuestion inserts a question with its options and returns the new id.
func (s *Service) CreateQuestion(ctx context.Context, cmd QuestionCommand) (int64, error) {
	q, err := cmd.toQuestion(0)
	if err != nil {
		return 0, err
	}
	if err := s.Questions.Create(ctx, q); err != nil {
		return 0, err
	}
	return q.ID, nil
}

// UpdateQuestion replaces the question and all of its options.
func (s *Service) UpdateQuestion(ctx context.Context, id int64, cmd QuestionCommand) error {
	q, err := cmd.toQuestion(id)
	if err != nil {
		return err
	}
	return s.Questions.Update(ctx, q)
}

func (s *Service) DeleteQuestion(ctx context.Context, id int64) error {
	return s.Questions.Delete(ctx, id)
}

func (s *Service) GetQuestion(ctx context.Context, id int64) (*domain.Question, error) {
	q, err := s.Questions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (s *Service) ListQuestions(ctx context.Context, page, limit int) (QuestionPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	list, total, err := s.Questions.List(ctx, page, limit)
	if err != nil {
		return QuestionPage{}, err
	}
	return QuestionPage{Data: list, Page: page, Limit: limit, Total: total}, nil
}

// SubmitResponses stores the caller's answer batch atomically.
func (s *Service) SubmitResponses(ctx context.Context, subjectID int64, answers []AnswerSubmission) error {
	if len(answers) == 0 {
		return domain.ErrEmptySubmission
	}
	rows := make([]*domain.Response, 0, len(answers))
	for _, a := range answers {
		rows = append(rows, &domain.Response{
			QuestionID:        a.QuestionID,
			SubjectID:         subjectID,
			Text:              a.Text,
			SelectedOptionIDs: a.SelectedOptionIDs,
			DurationSeconds:   a.DurationSeconds,
		})
	}
	return s.Responses.SaveBatch(ctx, subjectID, rows)
}

func (s *Service) ListResponses(ctx context.Context, subjectID int64) ([]*domain.ResponseDetail, error) {
	return s.Responses.ListBySubject(ctx, subjectID)
}
