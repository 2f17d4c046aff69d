// Command server runs the tutoring API.
//
//	@title			Go Tutor Backend API
//	@version		1.0
//	@description	AI tutoring sessions: content registration, learning maps, guided explain-back sessions and progress reviews.
//	@BasePath		/api/v1
//	@schemes		http https
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	_ "github.com/tbourn/go-tutor-backend/docs"
	"github.com/tbourn/go-tutor-backend/internal/ai/assembler"
	"github.com/tbourn/go-tutor-backend/internal/ai/orchestrator"
	"github.com/tbourn/go-tutor-backend/internal/ai/prompt"
	"github.com/tbourn/go-tutor-backend/internal/config"
	httpapi "github.com/tbourn/go-tutor-backend/internal/http"
	"github.com/tbourn/go-tutor-backend/internal/http/handlers"
	"github.com/tbourn/go-tutor-backend/internal/jobs"
	"github.com/tbourn/go-tutor-backend/internal/observability"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/services"
	"github.com/tbourn/go-tutor-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	jobBuffer       = 64
	shutdownTimeout = 15 * time.Second
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	cfg := config.MustLoad()

	out, logFile := sysutil.NewLogWriter(os.Stdout, cfg.LogPretty, sysutil.LogFile{
		Path:       cfg.LogFile.Path,
		MaxSizeMB:  cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAgeDays: cfg.LogFile.MaxAgeDays,
		Compress:   cfg.LogFile.Compress,
	})
	defer logFile.Close()
	sysutil.InitLogger(out, cfg.LogLevel, lo.CoalesceOrEmpty(cfg.OTEL.ServiceName, observability.DefaultServiceName))
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Storage
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	locks, lockCloser, err := newLocker(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	defer lockCloser.Close()

	// Search and background indexing
	idx, err := newSectionIndex(cfg)
	if err != nil {
		return err
	}
	queue := jobs.NewQueue(log.Logger.With().Str("component", "jobs").Logger(), jobBuffer)
	defer queue.Close()
	contents := &services.ContentService{DB: db, Indexer: idx, Jobs: queue}
	if err := queue.Start(ctx, contents.IndexContent); err != nil {
		return err
	}
	if cfg.Search.Backend != "pinecone" {
		// The keyword index lives in memory and starts empty.
		n, err := contents.ReindexAll(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("contents", n).Msg("section reindex submitted")
	}

	// AI pipeline
	router, err := newAIRouter(cfg.AI)
	if err != nil {
		return err
	}
	for name, ok := range router.Availability() {
		log.Info().Str("provider", string(name)).Bool("available", ok).Msg("ai provider")
	}
	prompts := prompt.NewStore(cfg.Prompts.Dir, cfg.Prompts.CacheTTL)
	asm := assembler.New(db, idx)
	asm.Budget = cfg.Context.Budget
	asm.MaxSections = cfg.Context.MaxSections
	asm.HistorySize = cfg.Context.HistorySize
	temperature := cfg.AI.Temperature
	orch := &orchestrator.Orchestrator{
		DB:          db,
		Context:     asm,
		Prompts:     prompts,
		Dispatch:    router,
		Locks:       locks,
		Temperature: &temperature,
		MaxTokens:   cfg.AI.MaxTokens,
	}

	// Role and session services
	tutor := &services.TutorService{AI: orch}
	examiner := &services.ExaminerService{AI: orch}
	coach := &services.CoachService{AI: orch}
	h := handlers.New(handlers.Services{
		Contents: contents,
		Planner:  &services.PlannerService{DB: db, AI: orch},
		Sessions: &services.SessionService{
			DB:              db,
			Locks:           locks,
			Tutor:           tutor,
			Examiner:        examiner,
			Coach:           coach,
			MaxMessageRunes: cfg.MaxMessageRunes,
		},
		Tutor:          tutor,
		Examiner:       examiner,
		Coach:          coach,
		Reviewer:       &services.ReviewerService{DB: db, AI: orch},
		Notes:          &services.NotesService{DB: db},
		Progress:       &services.ProgressService{DB: db},
		AI:             orch,
		PromptVersions: prompts.Versions,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// HTTP
	r := gin.New()
	httpapi.RegisterRoutes(r, db, h, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
