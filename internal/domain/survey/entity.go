package survey

// QuestionType enum
type QuestionType string

const (
	TypeText           QuestionType = "text"
	TypeSingleChoice   QuestionType = "single_choice"
	TypeMultipleChoice QuestionType = "multiple_choice"
)

// Option is one selectable answer of a choice question.
type Option struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	SortOrder int    `json:"sort_order"`
}

// Question aggregate; options are owned by the question and replaced as a whole.
type Question struct {
	ID         int64        `json:"id"`
	Title      string       `json:"title"`
	Type       QuestionType `json:"type"`
	IsRequired bool         `json:"is_required"`
	SortOrder  int          `json:"sort_order"`
	Options    []Option     `json:"options"`
}

// Response is one submitted answer row for one subject/question pair.
type Response struct {
	ID                int64
	QuestionID        int64
	SubjectID         int64
	Text              string
	SelectedOptionIDs []int64
	DurationSeconds   int
}

// ResponseDetail is a response joined with its question and option text,
// the shape returned to the caller and consumed by the report pipeline.
type ResponseDetail struct {
	ID                  int64        `json:"id"`
	QuestionID          int64        `json:"question_id"`
	QuestionTitle       string       `json:"question_title"`
	QuestionType        QuestionType `json:"question_type"`
	Text                string       `json:"response_text,omitempty"`
	SelectedOptionIDs   []int64      `json:"selected_option_ids,omitempty"`
	SelectedOptionsText string       `json:"selected_options_text,omitempty"`
	DurationSeconds     int          `json:"answer_duration"`
}

// QuestionAnswer is the flattened Q/A pair fed to the analyzer and printed
// in the report appendix. Answer is never empty; unanswered questions carry
// the literal 未回答 marker.
type QuestionAnswer struct {
	Question        string `json:"question"`
	Answer          string `json:"answer"`
	DurationSeconds int    `json:"duration"`
}

// Subject is the report owner's profile slice the pipeline needs.
type Subject struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

// DisplayName prefers the nickname, falling back to the login name.
func (s Subject) DisplayName() string {
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.Username
}
