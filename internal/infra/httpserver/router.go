package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appreports "github.com/qtrade-labs/insight-api/internal/application/reports"
	appsurvey "github.com/qtrade-labs/insight-api/internal/application/survey"
	domreports "github.com/qtrade-labs/insight-api/internal/domain/reports"
	domsurvey "github.com/qtrade-labs/insight-api/internal/domain/survey"
	"github.com/qtrade-labs/insight-api/internal/middleware"
)

// Options tunes the router-level middleware.
type Options struct {
	AllowedOrigins []string
	// Debug echoes internal error detail in responses.
	Debug bool
	// Health is mounted at /health when set.
	Health http.HandlerFunc
}

type Router struct {
	reports *appreports.Service
	survey  *appsurvey.Service
	debug   bool
}

func NewRouter(reportsSvc *appreports.Service, surveySvc *appsurvey.Service, auth *middleware.Auth, opts Options) http.Handler {
	r := &Router{reports: reportsSvc, survey: surveySvc, debug: opts.Debug}
	mux := chi.NewRouter()

	mux.Use(middleware.Logging)
	mux.Use(middleware.MetricsMiddleware)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if opts.Health != nil {
		mux.Get("/health", opts.Health)
	} else {
		mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("ok"))
		})
	}
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/api/survey", func(rt chi.Router) {
		// Question catalogue is public.
		rt.Get("/questions", r.wrap(r.handleListQuestions))
		rt.Get("/questions/{id}", r.wrap(r.handleGetQuestion))

		rt.Group(func(g chi.Router) {
			g.Use(auth.Verify)

			g.Post("/responses", r.wrap(r.handleSubmitResponses))
			g.Get("/responses", r.wrap(r.handleListResponses))

			g.Post("/reports", r.wrap(r.handleGenerateReport))
			g.Get("/reports", r.wrap(r.handleListReports))
			g.Get("/reports/{id}", r.wrap(r.handleGetReport))
			g.Get("/reports/{id}/download", r.wrap(r.handleDownloadReport))
			g.Delete("/reports/{id}", r.wrap(r.handleDeleteReport))

			g.Group(func(a chi.Router) {
				a.Use(middleware.RequireAdmin)
				a.Post("/questions", r.wrap(r.handleCreateQuestion))
				a.Put("/questions/{id}", r.wrap(r.handleUpdateQuestion))
				a.Delete("/questions/{id}", r.wrap(r.handleDeleteQuestion))
			})
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequestError carries a caller-facing validation message.
type badRequestError struct {
	message string
}

func (e *badRequestError) Error() string { return e.message }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			r.writeError(w, err)
		}
	}
}

// writeError maps domain errors onto the HTTP surface. Messages are the
// stable user-facing strings; the underlying error is only echoed in debug.
func (r *Router) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "服务器错误"

	var rateLimited *domreports.RateLimitedError
	var unavailable *domreports.AnalysisUnavailableError
	var renderErr *domreports.RenderError
	var badRequest *badRequestError

	switch {
	case errors.As(err, &rateLimited):
		status = http.StatusTooManyRequests
		message = "您已经在一小时内请求过报告，请稍后再试"
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateLimited.RetryAfter.Seconds()))))
	case errors.Is(err, domreports.ErrInsufficientData):
		status = http.StatusBadRequest
		message = "没有足够的问卷回答来生成报告"
	case errors.Is(err, domreports.ErrNotFound):
		status = http.StatusNotFound
		message = "报告不存在"
	case errors.Is(err, domreports.ErrForbidden):
		status = http.StatusForbidden
		message = "您无权访问该报告"
	case errors.Is(err, domreports.ErrAnalysisTimeout):
		message = "AI分析超时"
	case errors.As(err, &unavailable):
		message = "AI分析服务暂时不可用"
	case errors.As(err, &renderErr):
		message = "报告生成失败"
	case errors.Is(err, domsurvey.ErrQuestionNotFound):
		status = http.StatusNotFound
		message = "问题不存在"
	case errors.Is(err, domsurvey.ErrMissingFields):
		status = http.StatusBadRequest
		message = "标题和类型不能为空"
	case errors.Is(err, domsurvey.ErrEmptySubmission):
		status = http.StatusBadRequest
		message = "无效的回答数据"
	case errors.As(err, &badRequest):
		status = http.StatusBadRequest
		message = badRequest.message
	}

	body := map[string]any{"message": message}
	if r.debug {
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func pathID(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &badRequestError{message: "无效的ID"}
	}
	return id, nil
}

// POST /api/survey/reports
func (r *Router) handleGenerateReport(w http.ResponseWriter, req *http.Request) error {
	subjectID := middleware.SubjectID(req.Context())

	middleware.IncrementReportsStarted()
	res, err := r.reports.Generate(req.Context(), subjectID)
	if err != nil {
		middleware.IncrementReportsFailed()
		return err
	}
	middleware.IncrementReportsSucceeded()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "报告生成成功",
		"report_id":    res.ReportID,
		"report_name":  res.ReportName,
		"download_url": res.DownloadURL,
	})
	return nil
}

// GET /api/survey/reports
func (r *Router) handleListReports(w http.ResponseWriter, req *http.Request) error {
	list, err := r.reports.List(req.Context(), middleware.SubjectID(req.Context()))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domreports.Report{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/survey/reports/{id}
func (r *Router) handleGetReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	rep, err := r.reports.Get(req.Context(),
		middleware.SubjectID(req.Context()), middleware.IsAdmin(req.Context()),
		domreports.ReportID(id))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rep)
	return nil
}

// GET /api/survey/reports/{id}/download
func (r *Router) handleDownloadReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	rep, err := r.reports.Get(req.Context(),
		middleware.SubjectID(req.Context()), middleware.IsAdmin(req.Context()),
		domreports.ReportID(id))
	if err != nil {
		return err
	}

	f, err := openArtifact(r.reports.ArtifactFile(rep))
	if err != nil {
		return err
	}
	defer f.Close()

	filename := url.PathEscape(rep.Name + ".pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Type", "application/pdf")
	return streamFile(w, f)
}

// DELETE /api/survey/reports/{id}
func (r *Router) handleDeleteReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.reports.Delete(req.Context(),
		middleware.SubjectID(req.Context()), middleware.IsAdmin(req.Context()),
		domreports.ReportID(id)); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "报告删除成功"})
	return nil
}

// POST /api/survey/questions
func (r *Router) handleCreateQuestion(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Title      string                  `json:"title"`
		Type       string                  `json:"type"`
		IsRequired bool                    `json:"is_required"`
		SortOrder  int                     `json:"sort_order"`
		Options    []appsurvey.OptionInput `json:"options"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &badRequestError{message: "无效的请求数据"}
	}

	id, err := r.survey.CreateQuestion(req.Context(), appsurvey.QuestionCommand{
		Title:      body.Title,
		Type:       body.Type,
		IsRequired: body.IsRequired,
		SortOrder:  body.SortOrder,
		Options:    body.Options,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "message": "问题创建成功"})
	return nil
}

// PUT /api/survey/questions/{id}
func (r *Router) handleUpdateQuestion(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	var body struct {
		Title      string                  `json:"title"`
		Type       string                  `json:"type"`
		IsRequired bool                    `json:"is_required"`
		SortOrder  int                     `json:"sort_order"`
		Options    []appsurvey.OptionInput `json:"options"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &badRequestError{message: "无效的请求数据"}
	}

	if err := r.survey.UpdateQuestion(req.Context(), id, appsurvey.QuestionCommand{
		Title:      body.Title,
		Type:       body.Type,
		IsRequired: body.IsRequired,
		SortOrder:  body.SortOrder,
		Options:    body.Options,
	}); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "问题更新成功"})
	return nil
}

// DELETE /api/survey/questions/{id}
func (r *Router) handleDeleteQuestion(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.survey.DeleteQuestion(req.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "问题删除成功"})
	return nil
}

// GET /api/survey/questions?page=&limit=
func (r *Router) handleListQuestions(w http.ResponseWriter, req *http.Request) error {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	result, err := r.survey.ListQuestions(req.Context(), page, limit)
	if err != nil {
		return err
	}
	if result.Data == nil {
		result.Data = []*domsurvey.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": result.Data,
		"pagination": map[string]any{
			"page":  result.Page,
			"limit": result.Limit,
			"total": result.Total,
		},
	})
	return nil
}

// GET /api/survey/questions/{id}
func (r *Router) handleGetQuestion(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	q, err := r.survey.GetQuestion(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, q)
	return nil
}

// POST /api/survey/responses
func (r *Router) handleSubmitResponses(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Responses []appsurvey.AnswerSubmission `json:"responses"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &badRequestError{message: "无效的回答数据"}
	}

	if err := r.survey.SubmitResponses(req.Context(), middleware.SubjectID(req.Context()), body.Responses); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "问卷提交成功"})
	return nil
}

// GET /api/survey/responses
func (r *Router) handleListResponses(w http.ResponseWriter, req *http.Request) error {
	list, err := r.survey.ListResponses(req.Context(), middleware.SubjectID(req.Context()))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domsurvey.ResponseDetail{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}
