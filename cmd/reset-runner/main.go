package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	"github.com/noah-isme/boostly-api/internal/repository"
	"github.com/noah-isme/boostly-api/internal/service"
	"github.com/noah-isme/boostly-api/pkg/cache"
	"github.com/noah-isme/boostly-api/pkg/config"
	"github.com/noah-isme/boostly-api/pkg/database"
	"github.com/noah-isme/boostly-api/pkg/jobs"
	"github.com/noah-isme/boostly-api/pkg/logger"
	"github.com/noah-isme/boostly-api/pkg/storage"
)

func main() {
	once := flag.Bool("once", false, "run one reset for the current month and exit")
	metricsAddr := flag.String("metrics-addr", ":9090", "address for the Prometheus scrape endpoint, empty disables it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The reset works without a cache; derived views just stay warm
		// until their TTL.
		logr.Warn("redis unavailable, running without cache", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	runner := database.NewSerializableRunner(db, cfg.Reset.StudentTimeout, cfg.Reset.MaxRetries, cfg.Reset.RetryBackoff, logr)
	runner.OnRetry = metrics.ObserveTxRetry

	students := repository.NewStudentRepository(db)
	quotas := repository.NewQuotaRepository(db)
	ledger := repository.NewLedgerRepository(db)
	audits := repository.NewResetAuditRepository(db)

	resets := service.NewMonthlyResetService(
		runner, students, quotas, ledger, audits, cacheRepo, metrics, logr,
		cfg.Rewards.BaselineSendLimit, cfg.Rewards.CarryForwardCap, cfg.Reset.StudentTimeout,
	)

	var statements *service.StatementService
	var statementStore *storage.LocalStorage
	if cfg.Statements.Enabled {
		statementStore, err = storage.NewLocalStorage(cfg.Statements.OutputDir)
		if err != nil {
			logr.Fatal("failed to prepare statement storage", zap.Error(err))
		}
		statements = service.NewStatementService(ledger, students, statementStore, logr)
	}

	run := func() {
		now := time.Now().UTC()
		bucket := models.MonthBucket(now)

		summary, err := resets.RunAll(context.Background(), bucket, now)
		if err != nil {
			logr.Error("reset run failed", zap.Error(err))
			return
		}
		if summary.StudentsFailed > 0 {
			logr.Warn("reset run finished with failures", zap.Int("failed", summary.StudentsFailed))
		}

		if statements != nil {
			exportStatements(context.Background(), logr, students, statements, cfg.Statements, models.PreviousMonthBucket(bucket))
			if deleted, err := statementStore.CleanupOlderThan(cfg.Statements.Retention); err != nil {
				logr.Warn("statement cleanup failed", zap.Error(err))
			} else if len(deleted) > 0 {
				logr.Info("expired statements removed", zap.Int("count", len(deleted)))
			}
		}
	}

	if *once {
		run()
		return
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logr.Info("metrics endpoint listening", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logr.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(cfg.Reset.CronSpec, run); err != nil {
		logr.Fatal("invalid reset cron spec", zap.String("spec", cfg.Reset.CronSpec), zap.Error(err))
	}
	c.Start()
	logr.Info("reset runner started", zap.String("cron_spec", cfg.Reset.CronSpec))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("reset runner stopping")
	<-c.Stop().Done()
}

// exportStatements writes the prior month's statement for every active
// student, fanned out across a worker pool. Failures are retried by the
// queue and logged; they never stop the pass.
func exportStatements(
	ctx context.Context,
	logr *zap.Logger,
	students *repository.StudentRepository,
	statements *service.StatementService,
	cfg config.StatementsConfig,
	bucket time.Time,
) {
	ids, err := students.ListActiveIDs(ctx, nil)
	if err != nil {
		logr.Error("failed to list students for statements", zap.Error(err))
		return
	}

	var exported int64
	queue := jobs.NewQueue("statement-exports", func(ctx context.Context, job jobs.Job) error {
		studentID, _ := job.Payload.(string)
		if _, err := statements.Export(ctx, studentID, bucket, cfg.DefaultFmt); err != nil {
			return err
		}
		atomic.AddInt64(&exported, 1)
		return nil
	}, jobs.QueueConfig{Workers: cfg.Workers, BufferSize: len(ids), Logger: logr})

	queue.Start(ctx)
	for _, id := range ids {
		if err := queue.Enqueue(jobs.Job{ID: id, Type: "statement", Payload: id}); err != nil {
			logr.Error("failed to enqueue statement export", zap.String("student_id", id), zap.Error(err))
		}
	}
	queue.Drain()

	logr.Info("statement exports complete",
		zap.Time("month_bucket", bucket),
		zap.Int64("exported", atomic.LoadInt64(&exported)),
		zap.Int("students", len(ids)),
	)
}
