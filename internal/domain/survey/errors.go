package survey

import "errors"

var (
	// ErrMissingFields indicates a question without title or type.
	ErrMissingFields = errors.New("question title and type are required")

	// ErrEmptySubmission indicates a response batch with no answers.
	ErrEmptySubmission = errors.New("response submission is empty")

	// ErrQuestionNotFound indicates the question id does not exist.
	ErrQuestionNotFound = errors.New("question not found")
)
