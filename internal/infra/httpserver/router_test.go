package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appreports "github.com/qtrade-labs/insight-api/internal/application/reports"
	appsurvey "github.com/qtrade-labs/insight-api/internal/application/survey"
	domreports "github.com/qtrade-labs/insight-api/internal/domain/reports"
	domsurvey "github.com/qtrade-labs/insight-api/internal/domain/survey"
	"github.com/qtrade-labs/insight-api/internal/middleware"
)

var testSecret = []byte("test-secret")

func bearerToken(t *testing.T, subjectID int64, admin bool) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subjectID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		IsAdmin: admin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + token
}

type stubReportRepo struct {
	reports map[domreports.ReportID]*domreports.Report
	nextID  domreports.ReportID
}

func newStubReportRepo() *stubReportRepo {
	return &stubReportRepo{reports: map[domreports.ReportID]*domreports.Report{}}
}

func (s *stubReportRepo) Reserve(ctx context.Context, r *domreports.Report) error {
	s.nextID++
	r.ID = s.nextID
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *stubReportRepo) UpdateSummary(ctx context.Context, id domreports.ReportID, summary string) error {
	if r, ok := s.reports[id]; ok {
		r.Summary = summary
	}
	return nil
}

func (s *stubReportRepo) UpdateStatus(ctx context.Context, id domreports.ReportID, status domreports.Status) error {
	if r, ok := s.reports[id]; ok {
		r.Status = status
	}
	return nil
}

func (s *stubReportRepo) LatestFor(ctx context.Context, subjectID int64) (*domreports.Report, error) {
	var latest *domreports.Report
	for _, r := range s.reports {
		if r.SubjectID != subjectID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, nil
}

func (s *stubReportRepo) ListFor(ctx context.Context, subjectID int64) ([]*domreports.Report, error) {
	var out []*domreports.Report
	for _, r := range s.reports {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubReportRepo) Get(ctx context.Context, id domreports.ReportID) (*domreports.Report, error) {
	return s.reports[id], nil
}

func (s *stubReportRepo) Delete(ctx context.Context, id domreports.ReportID) error {
	if _, ok := s.reports[id]; !ok {
		return domreports.ErrNotFound
	}
	delete(s.reports, id)
	return nil
}

type stubResponseRepo struct {
	answers map[int64][]domsurvey.QuestionAnswer
	saved   []*domsurvey.Response
}

func (s *stubResponseRepo) SaveBatch(ctx context.Context, subjectID int64, rows []*domsurvey.Response) error {
	s.saved = append(s.saved, rows...)
	return nil
}

func (s *stubResponseRepo) ListBySubject(ctx context.Context, subjectID int64) ([]*domsurvey.ResponseDetail, error) {
	return nil, nil
}

func (s *stubResponseRepo) AnswersFor(ctx context.Context, subjectID int64) ([]domsurvey.QuestionAnswer, error) {
	return s.answers[subjectID], nil
}

type stubSubjectRepo struct{ subjects map[int64]*domsurvey.Subject }

func (s *stubSubjectRepo) Get(ctx context.Context, id int64) (*domsurvey.Subject, error) {
	return s.subjects[id], nil
}

type stubQuestionRepo struct {
	questions map[int64]*domsurvey.Question
	nextID    int64
}

func (s *stubQuestionRepo) Create(ctx context.Context, q *domsurvey.Question) error {
	s.nextID++
	q.ID = s.nextID
	s.questions[q.ID] = q
	return nil
}

func (s *stubQuestionRepo) Update(ctx context.Context, q *domsurvey.Question) error {
	if _, ok := s.questions[q.ID]; !ok {
		return domsurvey.ErrQuestionNotFound
	}
	s.questions[q.ID] = q
	return nil
}

func (s *stubQuestionRepo) Delete(ctx context.Context, id int64) error {
	delete(s.questions, id)
	return nil
}

func (s *stubQuestionRepo) Get(ctx context.Context, id int64) (*domsurvey.Question, error) {
	return s.questions[id], nil
}

func (s *stubQuestionRepo) List(ctx context.Context, page, pageSize int) ([]*domsurvey.Question, int64, error) {
	var out []*domsurvey.Question
	for _, q := range s.questions {
		out = append(out, q)
	}
	return out, int64(len(out)), nil
}

type stubAnalyzer struct{ text string }

func (s *stubAnalyzer) Analyze(ctx context.Context, req domreports.AnalysisRequest) (string, error) {
	return s.text, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, doc domreports.Document) error {
	return os.WriteFile(doc.OutputPath, []byte("%PDF-1.4 stub"), 0o644)
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type testEnv struct {
	handler http.Handler
	reports *stubReportRepo
	clock   *testClock
	dir     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reports := newStubReportRepo()
	clock := &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
	dir := t.TempDir()

	reportsSvc := &appreports.Service{
		Reports: reports,
		Responses: &stubResponseRepo{answers: map[int64][]domsurvey.QuestionAnswer{
			7: {{Question: "你如何面对亏损?", Answer: "冷静复盘", DurationSeconds: 12}},
		}},
		Subjects: &stubSubjectRepo{subjects: map[int64]*domsurvey.Subject{
			7: {ID: 7, Username: "trader7", Nickname: "老王"},
			8: {ID: 8, Username: "trader8"},
		}},
		Analyzer:   &stubAnalyzer{text: "分析正文"},
		Renderer:   stubRenderer{},
		Clock:      clock,
		Cooldown:   time.Hour,
		ReportsDir: dir,
	}
	surveySvc := &appsurvey.Service{
		Questions: &stubQuestionRepo{questions: map[int64]*domsurvey.Question{}},
		Responses: reportsSvc.Responses.(*stubResponseRepo),
	}
	auth := &middleware.Auth{Secret: testSecret}

	return &testEnv{
		handler: NewRouter(reportsSvc, surveySvc, auth, Options{}),
		reports: reports,
		clock:   clock,
		dir:     dir,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGenerateReportEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "报告生成成功", body["message"])
	assert.Equal(t, float64(1), body["report_id"])
	assert.Equal(t, "老王_性格分析报告_2026-03-14", body["report_name"])
	assert.Equal(t, "/api/survey/reports/1/download", body["download_url"])
}

func TestGenerateReportRateLimited(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "您已经在一小时内请求过报告，请稍后再试", decodeBody(t, rec)["message"])
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
}

func TestGenerateReportNoAnswers(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 8, false)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "没有足够的问卷回答来生成报告", decodeBody(t, rec)["message"])
}

func TestGenerateReportUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "未提供认证令牌", decodeBody(t, rec)["message"])
}

func TestGenerateReportBadToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", "Bearer not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetReportOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := bearerToken(t, 7, false)
	other := bearerToken(t, 8, false)
	admin := bearerToken(t, 9, true)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/survey/reports/1", owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/survey/reports/1", other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "您无权访问该报告", decodeBody(t, rec)["message"])

	rec = env.do(t, http.MethodGet, "/api/survey/reports/1", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/survey/reports/99", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "报告不存在", decodeBody(t, rec)["message"])
}

func TestListReportsOmitsArtifactPath(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "report_name")
	assert.NotContains(t, rec.Body.String(), "report_path")

	rec = env.do(t, http.MethodGet, "/api/survey/reports/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "report_path")
}

func TestDownloadReport(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/survey/reports/1/download", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment;")
	assert.Equal(t, "%PDF-1.4 stub", rec.Body.String())
}

func TestDownloadReportMissingArtifact(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rep := env.reports.reports[1]
	require.NoError(t, os.Remove(filepath.Join(env.dir, filepath.Base(rep.Path))))

	rec = env.do(t, http.MethodGet, "/api/survey/reports/1/download", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteReportEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/reports", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/survey/reports/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "报告删除成功", decodeBody(t, rec)["message"])

	rec = env.do(t, http.MethodGet, "/api/survey/reports/1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitResponsesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/responses", token, map[string]any{
		"responses": []map[string]any{
			{"question_id": 1, "response_text": "每天两小时", "answer_duration": 30},
			{"question_id": 2, "selected_option_ids": []int64{3, 5}, "answer_duration": 8},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "问卷提交成功", decodeBody(t, rec)["message"])
}

func TestSubmitResponsesEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	token := bearerToken(t, 7, false)

	rec := env.do(t, http.MethodPost, "/api/survey/responses", token, map[string]any{
		"responses": []map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "无效的回答数据", decodeBody(t, rec)["message"])
}

func TestQuestionAdminGuard(t *testing.T) {
	env := newTestEnv(t)
	user := bearerToken(t, 7, false)
	admin := bearerToken(t, 9, true)

	payload := map[string]any{
		"title": "你最大的单笔回撤是多少?",
		"type":  "text",
	}

	rec := env.do(t, http.MethodPost, "/api/survey/questions", user, payload)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "需要管理员权限", decodeBody(t, rec)["message"])

	rec = env.do(t, http.MethodPost, "/api/survey/questions", admin, payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["id"])
}

func TestCreateQuestionValidation(t *testing.T) {
	env := newTestEnv(t)
	admin := bearerToken(t, 9, true)

	rec := env.do(t, http.MethodPost, "/api/survey/questions", admin, map[string]any{
		"title": " ",
		"type":  "text",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "标题和类型不能为空", decodeBody(t, rec)["message"])
}

func TestListQuestionsPublic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/survey/questions?page=1&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.NotNil(t, body["data"])
	pagination, ok := body["pagination"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), pagination["page"])
}

func TestGetQuestionNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/survey/questions/42", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "问题不存在", decodeBody(t, rec)["message"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "reports_started")
	assert.Contains(t, body, "requests_total")
}
