package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qtrade-labs/insight-api/internal/application"
	appreports "github.com/qtrade-labs/insight-api/internal/application/reports"
	appsurvey "github.com/qtrade-labs/insight-api/internal/application/survey"
	"github.com/qtrade-labs/insight-api/internal/config"
	domreports "github.com/qtrade-labs/insight-api/internal/domain/reports"
	domsurvey "github.com/qtrade-labs/insight-api/internal/domain/survey"
	aiclient "github.com/qtrade-labs/insight-api/internal/infra/ai/openai"
	mysqlp "github.com/qtrade-labs/insight-api/internal/infra/db/mysql"
	postgresp "github.com/qtrade-labs/insight-api/internal/infra/db/postgres"
	"github.com/qtrade-labs/insight-api/internal/infra/httpserver"
	"github.com/qtrade-labs/insight-api/internal/infra/pdf"
	minioStore "github.com/qtrade-labs/insight-api/internal/infra/storage"
	"github.com/qtrade-labs/insight-api/internal/middleware"
)

// repoSet bundles the per-driver repository implementations.
type repoSet struct {
	reports   domreports.Repository
	questions domsurvey.QuestionRepository
	responses domsurvey.ResponseRepository
	subjects  domsurvey.SubjectRepository
}

func main() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	db, repos, err := connect(ctx, cfg)
	if err != nil {
		log.Fatalf("database connect error: %v", err)
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.Reports.Dir, 0o755); err != nil {
		log.Fatalf("reports dir error: %v", err)
	}

	// The AI client is constructed once here and injected; its lifecycle is
	// the process lifecycle.
	analyzer := aiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	analyzer.MaxTokens = cfg.OpenAI.MaxTokens
	analyzer.Temperature = cfg.OpenAI.Temperature

	renderer := &pdf.Renderer{
		Fonts: &pdf.FontCache{Path: cfg.Fonts.Path, URL: cfg.Fonts.URL},
	}

	var archive domreports.ArtifactStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		archive = store
	}

	reportsSvc := &appreports.Service{
		Reports:         repos.reports,
		Responses:       repos.responses,
		Subjects:        repos.subjects,
		Analyzer:        analyzer,
		Renderer:        renderer,
		Archive:         archive,
		Clock:           application.SystemClock{},
		Cooldown:        cfg.Cooldown(),
		AnalysisTimeout: cfg.AnalysisTimeout(),
		SummaryLimit:    cfg.Reports.SummaryLimit,
		ReportsDir:      cfg.Reports.Dir,
	}

	surveySvc := &appsurvey.Service{
		Questions: repos.questions,
		Responses: repos.responses,
	}

	auth := &middleware.Auth{Secret: []byte(cfg.Auth.JWTSecret)}

	handler := httpserver.NewRouter(reportsSvc, surveySvc, auth, httpserver.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Debug:          cfg.Server.Debug,
		Health: middleware.HealthHandler(map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: db},
		}),
	})
	handler = middleware.RateLimit(100, 50)(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second, // report generation waits on the analysis call
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// connect opens the pool for the configured driver and builds the matching
// repository set.
func connect(ctx context.Context, cfg *config.Config) (*sql.DB, repoSet, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, repoSet{}, err
		}
		return db, repoSet{
			reports:   postgresp.NewReportRepository(db),
			questions: postgresp.NewQuestionRepository(db),
			responses: postgresp.NewResponseRepository(db),
			subjects:  postgresp.NewSubjectRepository(db),
		}, nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, repoSet{}, err
		}
		return db, repoSet{
			reports:   mysqlp.NewReportRepository(db),
			questions: mysqlp.NewQuestionRepository(db),
			responses: mysqlp.NewResponseRepository(db),
			subjects:  mysqlp.NewSubjectRepository(db),
		}, nil
	default:
		return nil, repoSet{}, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
