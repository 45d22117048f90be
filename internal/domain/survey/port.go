package survey

import "context"

// QuestionRepository port. Create/Update replace a question together with
// its options in one transaction.
type QuestionRepository interface {
	Create(ctx context.Context, q *Question) error
	Update(ctx context.Context, q *Question) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*Question, error)
	List(ctx context.Context, page, pageSize int) ([]*Question, int64, error)
}

// ResponseRepository port
type ResponseRepository interface {
	// SaveBatch inserts all rows in one transaction; all or nothing.
	SaveBatch(ctx context.Context, subjectID int64, responses []*Response) error
	ListBySubject(ctx context.Context, subjectID int64) ([]*ResponseDetail, error)

	// AnswersFor returns the subject's answers flattened for analysis,
	// with the 未回答 marker filled in for empty answers.
	AnswersFor(ctx context.Context, subjectID int64) ([]QuestionAnswer, error)
}

// SubjectRepository port
type SubjectRepository interface {
	// Get returns nil when the subject does not exist.
	Get(ctx context.Context, id int64) (*Subject, error)
}
