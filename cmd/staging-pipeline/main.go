package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/fibreflow/staging/internal/archive"
	"github.com/fibreflow/staging/internal/audit"
	"github.com/fibreflow/staging/internal/auth"
	"github.com/fibreflow/staging/internal/config"
	"github.com/fibreflow/staging/internal/gateway"
	"github.com/fibreflow/staging/internal/httpserver"
	"github.com/fibreflow/staging/internal/notify"
	"github.com/fibreflow/staging/internal/pipeline"
	"github.com/fibreflow/staging/internal/production"
	"github.com/fibreflow/staging/internal/registry"
	"github.com/fibreflow/staging/internal/scheduler"
	"github.com/fibreflow/staging/internal/store"
	"github.com/fibreflow/staging/internal/validators"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[startup] config load: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[startup] db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("[startup] db ping: %v", err)
	}

	st := store.NewPGStore(db)
	recorder := audit.NewPGRecorder(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("[startup] ensure staging schema: %v", err)
	}
	if err := recorder.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("[startup] ensure audit schema: %v", err)
	}

	var notifier notify.Notifier = &notify.LogNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		kn, err := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.NotifyTopic,
		})
		if err != nil {
			log.Fatalf("[startup] kafka notifier init: %v", err)
		}
		defer kn.Close()
		notifier = kn
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archiver archive.Archiver
	if cfg.ArchiveBucket != "" {
		s3a, err := archive.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("[startup] s3 archiver init: %v", err)
		}
		archiver = s3a
	}

	reg := registry.New()
	reg.Register("pole",
		&validators.PoleValidator{Duplicates: &validators.SQLDuplicateChecker{DB: db}},
		&production.PolePromoter{DB: db},
	)
	reg.Register("sow",
		&validators.SOWValidator{},
		&production.SOWPromoter{DB: db},
	)
	log.Printf("[startup] registered submission types: %v", reg.Types())

	verifier, err := auth.NewVerifier(cfg.AdminJWTSecret)
	if err != nil {
		log.Fatalf("[startup] auth init: %v", err)
	}
	gw := gateway.New(st, recorder, nil)
	server := httpserver.New(gw, st, verifier)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("[startup] staging pipeline listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	go scheduler.Run(ctx, nil,
		scheduler.Schedule{
			Job: pipeline.NewValidationStage(st, reg, notifier, recorder, pipeline.ValidationConfig{
				BatchSize:  cfg.ValidationBatch,
				StaleAfter: cfg.StaleValidatingAfter,
			}),
			Interval: cfg.ValidationInterval,
		},
		scheduler.Schedule{
			Job: pipeline.NewPromotionStage(st, reg, notifier, recorder, pipeline.PromotionConfig{
				BatchSize: cfg.PromotionBatch,
			}),
			Interval: cfg.PromotionInterval,
		},
		scheduler.Schedule{
			Job: pipeline.NewRetentionSweeper(st, archiver, pipeline.RetentionConfig{
				Retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
				PageSize:  cfg.RetentionBatch,
			}),
			Interval:     24 * time.Hour,
			InitialDelay: scheduler.UntilNextHour(time.Now(), cfg.RetentionHour),
		},
	)

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
