package reports

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/qtrade-labs/insight-api/internal/application"
	domain "github.com/qtrade-labs/insight-api/internal/domain/reports"
	surveydomain "github.com/qtrade-labs/insight-api/internal/domain/survey"
	"github.com/qtrade-labs/insight-api/internal/pkg/retry"
)

const (
	defaultAnalysisTimeout = 120 * time.Second
	defaultSummaryLimit    = 500
	analysisAttempts       = 3
	analysisBackoff        = time.Second
)

// Service implements the report-generation pipeline:
// eligibility → reserve → analyze → summarize → render → archive.
//
// Each stage that talks to the database acquires and releases its connection
// within the stage; nothing transactional is ever held across the analysis
// call or the render.
type Service struct {
	Reports   domain.Repository
	Responses surveydomain.ResponseRepository
	Subjects  surveydomain.SubjectRepository
	Analyzer  domain.Analyzer
	Renderer  domain.Renderer
	Archive   domain.ArtifactStore // optional, best-effort mirror of artifacts
	Clock     application.Clock

	// Cooldown is the minimum gap between two reports for one subject.
	// Zero disables the check.
	Cooldown time.Duration
	// AnalysisTimeout bounds the total analysis wait across retries.
	AnalysisTimeout time.Duration
	// AnalysisBackoff is the wait between analysis attempts.
	AnalysisBackoff time.Duration
	// SummaryLimit is the stored summary budget in runes.
	SummaryLimit int
	// ReportsDir is where rendered artifacts live on disk.
	ReportsDir string
}

// GenerateResult is returned to the caller on success.
type GenerateResult struct {
	ReportID    int64  `json:"report_id"`
	ReportName  string `json:"report_name"`
	DownloadURL string `json:"download_url"`
}

// Generate runs the whole pipeline for one subject.
func (s *Service) Generate(ctx context.Context, subjectID int64) (GenerateResult, error) {
	now := s.Clock.Now()

	// Stage 1: eligibility + data assembly. No side effects.
	if s.Cooldown > 0 {
		last, err := s.Reports.LatestFor(ctx, subjectID)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("loading latest report: %w", err)
		}
		if last != nil {
			if wait := s.Cooldown - now.Sub(last.CreatedAt); wait > 0 {
				return GenerateResult{}, &domain.RateLimitedError{RetryAfter: wait}
			}
		}
	}

	answers, err := s.Responses.AnswersFor(ctx, subjectID)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("loading survey answers: %w", err)
	}
	if len(answers) == 0 {
		return GenerateResult{}, domain.ErrInsufficientData
	}

	subject, err := s.Subjects.Get(ctx, subjectID)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("loading subject: %w", err)
	}
	if subject == nil {
		return GenerateResult{}, domain.ErrNotFound
	}

	// Stage 2: reserve the report row. The repository commits before the
	// slow analysis call so no pool connection spans it.
	name := fmt.Sprintf("%s_性格分析报告_%s", subject.DisplayName(), now.Format("2006-01-02"))
	filename := fmt.Sprintf("%d_%d_%s_report.pdf", now.UnixMilli(), subjectID, uuid.NewString()[:8])
	rep := &domain.Report{
		SubjectID: subjectID,
		Name:      name,
		Path:      "/reports/" + filename,
		Status:    domain.StatusPending,
		CreatedAt: now,
	}
	if err := s.Reports.Reserve(ctx, rep); err != nil {
		return GenerateResult{}, fmt.Errorf("reserving report: %w", err)
	}

	// Stage 3: analysis. The reservation stays behind on failure; the row
	// is marked failed so orphans are observable.
	analysis, err := s.analyze(ctx, domain.AnalysisRequest{
		SubjectID:   subjectID,
		DisplayName: subject.DisplayName(),
		Answers:     answers,
	})
	if err != nil {
		s.markFailed(rep.ID)
		return GenerateResult{}, err
	}

	// Stage 4: summary, best effort. The artifact is the authoritative
	// output; a failed summary update must not kill the pipeline.
	if err := s.Reports.UpdateSummary(ctx, rep.ID, Summarize(analysis, s.summaryLimit())); err != nil {
		log.Printf("report %d: summary update failed: %v", rep.ID, err)
	}

	// Stage 5: render. The renderer returns only once the file sink
	// reported a full flush.
	doc := domain.Document{
		Title:       "交易者心理分析报告",
		SubjectName: subject.DisplayName(),
		GeneratedAt: now,
		Analysis:    analysis,
		Answers:     answers,
		OutputPath:  filepath.Join(s.ReportsDir, filename),
	}
	if err := s.Renderer.Render(ctx, doc); err != nil {
		s.markFailed(rep.ID)
		return GenerateResult{}, &domain.RenderError{Err: err}
	}

	if err := s.Reports.UpdateStatus(ctx, rep.ID, domain.StatusReady); err != nil {
		log.Printf("report %d: status update failed: %v", rep.ID, err)
	}

	// Stage 6: archive mirror, best effort.
	if s.Archive != nil {
		if _, err := s.Archive.Upload(ctx, doc.OutputPath, archiveKey(rep)); err != nil {
			log.Printf("report %d: archive upload failed: %v", rep.ID, err)
		}
	}

	return GenerateResult{
		ReportID:    int64(rep.ID),
		ReportName:  name,
		DownloadURL: fmt.Sprintf("/api/survey/reports/%d/download", rep.ID),
	}, nil
}

// analyze calls the text-generation service under the total timeout with a
// bounded retry budget. Deadline/cancellation aborts immediately.
func (s *Service) analyze(ctx context.Context, req domain.AnalysisRequest) (string, error) {
	timeout := s.AnalysisTimeout
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	backoff := s.AnalysisBackoff
	if backoff <= 0 {
		backoff = analysisBackoff
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	policy := retry.Policy{
		Attempts: analysisAttempts,
		Backoff:  backoff,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
		},
	}

	var text string
	err := policy.Do(actx, func(ctx context.Context) error {
		out, err := s.Analyzer.Analyze(ctx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.ErrAnalysisTimeout
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &domain.AnalysisUnavailableError{Last: err}
	}
	return text, nil
}

// markFailed records a failed generation on a detached context: the request
// context may already be canceled at this point.
func (s *Service) markFailed(id domain.ReportID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Reports.UpdateStatus(ctx, id, domain.StatusFailed); err != nil {
		log.Printf("report %d: marking failed: %v", id, err)
	}
}

func (s *Service) summaryLimit() int {
	if s.SummaryLimit > 0 {
		return s.SummaryLimit
	}
	return defaultSummaryLimit
}

// Summarize truncates the analysis to limit runes, appending the
// continuation marker only when something was cut off.
func Summarize(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}

// List returns the subject's reports, newest first.
func (s *Service) List(ctx context.Context, subjectID int64) ([]*domain.Report, error) {
	return s.Reports.ListFor(ctx, subjectID)
}

// Get loads a report and enforces ownership. Admins may read any report.
func (s *Service) Get(ctx context.Context, callerID int64, admin bool, id domain.ReportID) (*domain.Report, error) {
	rep, err := s.Reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, domain.ErrNotFound
	}
	if rep.SubjectID != callerID && !admin {
		return nil, domain.ErrForbidden
	}
	return rep, nil
}

// Delete removes the record, the local artifact and the archived copy.
// File and archive removal are best effort once the row is gone.
func (s *Service) Delete(ctx context.Context, callerID int64, admin bool, id domain.ReportID) error {
	rep, err := s.Get(ctx, callerID, admin, id)
	if err != nil {
		return err
	}
	if err := s.Reports.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting report %d: %w", id, err)
	}
	if err := os.Remove(s.ArtifactFile(rep)); err != nil && !os.IsNotExist(err) {
		log.Printf("report %d: removing artifact: %v", id, err)
	}
	if s.Archive != nil {
		if err := s.Archive.Remove(ctx, archiveKey(rep)); err != nil {
			log.Printf("report %d: removing archived artifact: %v", id, err)
		}
	}
	return nil
}

// ArtifactFile maps the stored relative path onto the reports directory.
func (s *Service) ArtifactFile(rep *domain.Report) string {
	return filepath.Join(s.ReportsDir, path.Base(rep.Path))
}

func archiveKey(rep *domain.Report) string {
	return fmt.Sprintf("reports/%d/%s", rep.SubjectID, path.Base(rep.Path))
}
