package reports

import (
	"context"
	"time"

	"github.com/qtrade-labs/insight-api/internal/domain/survey"
)

// Repository port (interface untuk persistence)
type Repository interface {
	// Reserve inserts the placeholder row inside its own transaction and
	// fills in the generated ID. The transaction never outlives the call.
	Reserve(ctx context.Context, r *Report) error
	UpdateSummary(ctx context.Context, id ReportID, summary string) error
	UpdateStatus(ctx context.Context, id ReportID, status Status) error

	// LatestFor returns the subject's newest report, nil when there is none.
	LatestFor(ctx context.Context, subjectID int64) (*Report, error)
	ListFor(ctx context.Context, subjectID int64) ([]*Report, error)
	Get(ctx context.Context, id ReportID) (*Report, error)
	Delete(ctx context.Context, id ReportID) error
}

// AnalysisRequest carries everything the analyzer needs for one report.
type AnalysisRequest struct {
	SubjectID   int64
	DisplayName string
	Answers     []survey.QuestionAnswer
}

// Analyzer port (interface untuk text-generation service)
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// Document is the renderer input: title page, analysis body, Q&A appendix.
type Document struct {
	Title       string
	SubjectName string
	GeneratedAt time.Time
	Analysis    string
	Answers     []survey.QuestionAnswer
	OutputPath  string
}

// Renderer port. Render returns only after the artifact at OutputPath is
// fully flushed, or with an error and no file left behind.
type Renderer interface {
	Render(ctx context.Context, doc Document) error
}

// ArtifactStore port (interface untuk penyimpanan artefak)
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	Remove(ctx context.Context, key string) error
}
