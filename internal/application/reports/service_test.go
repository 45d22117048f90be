package reports

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/qtrade-labs/insight-api/internal/domain/reports"
	surveydomain "github.com/qtrade-labs/insight-api/internal/domain/survey"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeReportRepo struct {
	latest     *domain.Report
	latestErr  error
	reserved   *domain.Report
	reserveErr error
	summaries  map[domain.ReportID]string
	summaryErr error
	statuses   map[domain.ReportID]domain.Status
	stored     map[domain.ReportID]*domain.Report
	deleted    []domain.ReportID
	nextID     domain.ReportID
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{
		summaries: map[domain.ReportID]string{},
		statuses:  map[domain.ReportID]domain.Status{},
		stored:    map[domain.ReportID]*domain.Report{},
		nextID:    41,
	}
}

func (f *fakeReportRepo) Reserve(ctx context.Context, r *domain.Report) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.nextID++
	r.ID = f.nextID
	f.reserved = r
	return nil
}

func (f *fakeReportRepo) UpdateSummary(ctx context.Context, id domain.ReportID, summary string) error {
	if f.summaryErr != nil {
		return f.summaryErr
	}
	f.summaries[id] = summary
	return nil
}

func (f *fakeReportRepo) UpdateStatus(ctx context.Context, id domain.ReportID, status domain.Status) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeReportRepo) LatestFor(ctx context.Context, subjectID int64) (*domain.Report, error) {
	return f.latest, f.latestErr
}

func (f *fakeReportRepo) ListFor(ctx context.Context, subjectID int64) ([]*domain.Report, error) {
	var out []*domain.Report
	for _, r := range f.stored {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportRepo) Get(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	return f.stored[id], nil
}

func (f *fakeReportRepo) Delete(ctx context.Context, id domain.ReportID) error {
	if _, ok := f.stored[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.stored, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeResponseRepo struct {
	answers []surveydomain.QuestionAnswer
	err     error
}

func (f *fakeResponseRepo) SaveBatch(ctx context.Context, subjectID int64, responses []*surveydomain.Response) error {
	return nil
}

func (f *fakeResponseRepo) ListBySubject(ctx context.Context, subjectID int64) ([]*surveydomain.ResponseDetail, error) {
	return nil, nil
}

func (f *fakeResponseRepo) AnswersFor(ctx context.Context, subjectID int64) ([]surveydomain.QuestionAnswer, error) {
	return f.answers, f.err
}

type fakeSubjectRepo struct {
	subject *surveydomain.Subject
	err     error
}

func (f *fakeSubjectRepo) Get(ctx context.Context, id int64) (*surveydomain.Subject, error) {
	return f.subject, f.err
}

type fakeAnalyzer struct {
	calls   int
	results []func() (string, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (string, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]()
}

func analyzerOK(text string) *fakeAnalyzer {
	return &fakeAnalyzer{results: []func() (string, error){
		func() (string, error) { return text, nil },
	}}
}

func analyzerErr(err error) *fakeAnalyzer {
	return &fakeAnalyzer{results: []func() (string, error){
		func() (string, error) { return "", err },
	}}
}

type fakeRenderer struct {
	calls int
	err   error
	doc   domain.Document
}

func (f *fakeRenderer) Render(ctx context.Context, doc domain.Document) error {
	f.calls++
	f.doc = doc
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(doc.OutputPath, []byte("%PDF-1.4 stub"), 0o644)
}

type fakeArchive struct {
	uploads []string
	removes []string
	err     error
}

func (f *fakeArchive) Upload(ctx context.Context, localPath, key string) (string, error) {
	f.uploads = append(f.uploads, key)
	return "http://archive/" + key, f.err
}

func (f *fakeArchive) Remove(ctx context.Context, key string) error {
	f.removes = append(f.removes, key)
	return f.err
}

func sampleAnswers() []surveydomain.QuestionAnswer {
	return []surveydomain.QuestionAnswer{
		{Question: "你如何面对亏损?", Answer: "冷静复盘", DurationSeconds: 12},
		{Question: "你每天看盘多久?", Answer: "未回答", DurationSeconds: 0},
	}
}

func newService(t *testing.T, repo *fakeReportRepo, analyzer domain.Analyzer, renderer domain.Renderer) *Service {
	t.Helper()
	return &Service{
		Reports:   repo,
		Responses: &fakeResponseRepo{answers: sampleAnswers()},
		Subjects:  &fakeSubjectRepo{subject: &surveydomain.Subject{ID: 7, Username: "trader7", Nickname: "老王"}},
		Analyzer:  analyzer,
		Renderer:  renderer,
		Clock:           fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
		Cooldown:        time.Hour,
		AnalysisTimeout: 30 * time.Second,
		AnalysisBackoff: time.Millisecond,
		ReportsDir:      t.TempDir(),
	}
}

func TestGenerateHappyPath(t *testing.T) {
	repo := newFakeReportRepo()
	renderer := &fakeRenderer{}
	svc := newService(t, repo, analyzerOK("分析结果正文"), renderer)

	res, err := svc.Generate(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(repo.reserved.ID), res.ReportID)
	assert.Equal(t, "老王_性格分析报告_2026-03-14", res.ReportName)
	assert.Equal(t, "/api/survey/reports/42/download", res.DownloadURL)

	assert.Equal(t, domain.StatusPending, repo.reserved.Status)
	assert.True(t, strings.HasPrefix(repo.reserved.Path, "/reports/"))
	assert.True(t, strings.HasSuffix(repo.reserved.Path, "_report.pdf"))

	assert.Equal(t, "分析结果正文", repo.summaries[repo.reserved.ID])
	assert.Equal(t, domain.StatusReady, repo.statuses[repo.reserved.ID])

	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, "交易者心理分析报告", renderer.doc.Title)
	assert.Equal(t, "老王", renderer.doc.SubjectName)
	_, statErr := os.Stat(renderer.doc.OutputPath)
	require.NoError(t, statErr)
}

func TestGenerateRateLimited(t *testing.T) {
	repo := newFakeReportRepo()
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})
	repo.latest = &domain.Report{
		ID:        9,
		SubjectID: 7,
		CreatedAt: svc.Clock.Now().Add(-20 * time.Minute),
	}

	_, err := svc.Generate(context.Background(), 7)

	var rl *domain.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 40*time.Minute, rl.RetryAfter)
	assert.Nil(t, repo.reserved)
}

func TestGenerateCooldownElapsed(t *testing.T) {
	repo := newFakeReportRepo()
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})
	repo.latest = &domain.Report{
		ID:        9,
		SubjectID: 7,
		CreatedAt: svc.Clock.Now().Add(-2 * time.Hour),
	}

	_, err := svc.Generate(context.Background(), 7)
	require.NoError(t, err)
}

func TestGenerateCooldownDisabled(t *testing.T) {
	repo := newFakeReportRepo()
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})
	svc.Cooldown = 0
	repo.latest = &domain.Report{
		ID:        9,
		SubjectID: 7,
		CreatedAt: svc.Clock.Now().Add(-time.Minute),
	}
	repo.latestErr = errors.New("must not be called")

	_, err := svc.Generate(context.Background(), 7)
	require.NoError(t, err)
}

func TestGenerateNoAnswers(t *testing.T) {
	repo := newFakeReportRepo()
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})
	svc.Responses = &fakeResponseRepo{answers: nil}

	_, err := svc.Generate(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Nil(t, repo.reserved)
}

func TestGenerateUnknownSubject(t *testing.T) {
	repo := newFakeReportRepo()
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})
	svc.Subjects = &fakeSubjectRepo{subject: nil}

	_, err := svc.Generate(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGenerateReserveFailure(t *testing.T) {
	repo := newFakeReportRepo()
	repo.reserveErr = errors.New("db down")
	analyzer := analyzerOK("x")
	svc := newService(t, repo, analyzer, &fakeRenderer{})

	_, err := svc.Generate(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, 0, analyzer.calls)
}

func TestGenerateAnalysisRetriedThenFails(t *testing.T) {
	repo := newFakeReportRepo()
	analyzer := analyzerErr(errors.New("upstream 500"))
	svc := newService(t, repo, analyzer, &fakeRenderer{})

	_, err := svc.Generate(context.Background(), 7)

	var unavailable *domain.AnalysisUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, analyzer.calls)
	assert.Equal(t, domain.StatusFailed, repo.statuses[repo.reserved.ID])
}

func TestGenerateAnalysisRecoversOnRetry(t *testing.T) {
	repo := newFakeReportRepo()
	analyzer := &fakeAnalyzer{results: []func() (string, error){
		func() (string, error) { return "", errors.New("flaky") },
		func() (string, error) { return "第二次成功", nil },
	}}
	svc := newService(t, repo, analyzer, &fakeRenderer{})

	_, err := svc.Generate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, analyzer.calls)
	assert.Equal(t, "第二次成功", repo.summaries[repo.reserved.ID])
}

func TestGenerateTimeoutNotRetried(t *testing.T) {
	repo := newFakeReportRepo()
	analyzer := analyzerErr(context.DeadlineExceeded)
	svc := newService(t, repo, analyzer, &fakeRenderer{})

	_, err := svc.Generate(context.Background(), 7)

	assert.ErrorIs(t, err, domain.ErrAnalysisTimeout)
	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, domain.StatusFailed, repo.statuses[repo.reserved.ID])
}

func TestGenerateSummaryFailureDoesNotAbort(t *testing.T) {
	repo := newFakeReportRepo()
	repo.summaryErr = errors.New("column too small")
	renderer := &fakeRenderer{}
	svc := newService(t, repo, analyzerOK("正文"), renderer)

	_, err := svc.Generate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, domain.StatusReady, repo.statuses[repo.reserved.ID])
}

func TestGenerateRenderFailure(t *testing.T) {
	repo := newFakeReportRepo()
	renderer := &fakeRenderer{err: errors.New("disk full")}
	svc := newService(t, repo, analyzerOK("正文"), renderer)

	_, err := svc.Generate(context.Background(), 7)

	var re *domain.RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.StatusFailed, repo.statuses[repo.reserved.ID])
}

func TestGenerateArchiveFailureBestEffort(t *testing.T) {
	repo := newFakeReportRepo()
	archive := &fakeArchive{err: errors.New("bucket gone")}
	svc := newService(t, repo, analyzerOK("正文"), &fakeRenderer{})
	svc.Archive = archive

	_, err := svc.Generate(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, archive.uploads, 1)
	assert.True(t, strings.HasPrefix(archive.uploads[0], "reports/7/"))
}

func TestGenerateDisplayNameFallsBackToUsername(t *testing.T) {
	repo := newFakeReportRepo()
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})
	svc.Subjects = &fakeSubjectRepo{subject: &surveydomain.Subject{ID: 7, Username: "trader7"}}

	res, err := svc.Generate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "trader7_性格分析报告_2026-03-14", res.ReportName)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", Summarize("short", 500))

	exact := strings.Repeat("甲", 500)
	assert.Equal(t, exact, Summarize(exact, 500))

	over := strings.Repeat("甲", 501)
	got := Summarize(over, 500)
	assert.Equal(t, strings.Repeat("甲", 500)+"...", got)
	assert.Equal(t, 503, len([]rune(got)))
}

func TestGetEnforcesOwnership(t *testing.T) {
	repo := newFakeReportRepo()
	repo.stored[5] = &domain.Report{ID: 5, SubjectID: 7}
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})

	rep, err := svc.Get(context.Background(), 7, false, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportID(5), rep.ID)

	_, err = svc.Get(context.Background(), 8, false, 5)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	rep, err = svc.Get(context.Background(), 8, true, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportID(5), rep.ID)

	_, err = svc.Get(context.Background(), 7, false, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRemovesRowAndArtifact(t *testing.T) {
	repo := newFakeReportRepo()
	archive := &fakeArchive{}
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})
	svc.Archive = archive

	rep := &domain.Report{ID: 5, SubjectID: 7, Path: "/reports/5_report.pdf"}
	repo.stored[5] = rep
	artifact := filepath.Join(svc.ReportsDir, "5_report.pdf")
	require.NoError(t, os.WriteFile(artifact, []byte("%PDF"), 0o644))

	require.NoError(t, svc.Delete(context.Background(), 7, false, 5))

	assert.Contains(t, repo.deleted, domain.ReportID(5))
	_, statErr := os.Stat(artifact)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []string{"reports/7/5_report.pdf"}, archive.removes)
}

func TestDeleteForbiddenForOtherSubject(t *testing.T) {
	repo := newFakeReportRepo()
	repo.stored[5] = &domain.Report{ID: 5, SubjectID: 7, Path: "/reports/x.pdf"}
	svc := newService(t, repo, analyzerOK("x"), &fakeRenderer{})

	err := svc.Delete(context.Background(), 8, false, 5)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, repo.deleted)
}
