package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/touchbase/followup/internal/config"
	"github.com/touchbase/followup/internal/draft"
	"github.com/touchbase/followup/internal/engine"
	"github.com/touchbase/followup/internal/gmail"
	"github.com/touchbase/followup/internal/mailer"
	"github.com/touchbase/followup/internal/pkg/distlock"
	"github.com/touchbase/followup/internal/pkg/logger"
	"github.com/touchbase/followup/internal/reply"
	"github.com/touchbase/followup/internal/store"
)

// The worker runs the engine on an interval instead of waiting for cron
// triggers, and polls the inbound mailbox for replies. Deploy either
// this or an external scheduler hitting cmd/server, not both.
func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}
	mainLog := logger.With("worker")

	if cfg.Database.URL == "" {
		log.Fatal("database url is required (DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	mainLog.Info("connected to database")

	st := store.New(db)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	lock := distlock.New(redisClient, db, "followup:engine-run", 10*time.Minute)

	creds := gmail.NewCredentialStore(db, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret)

	var inboxOwner uuid.UUID
	if cfg.Gmail.InboxOwnerID != "" {
		inboxOwner, err = uuid.Parse(cfg.Gmail.InboxOwnerID)
		if err != nil {
			log.Fatalf("parse gmail inbox owner id: %v", err)
		}
	}
	gmailClient := gmail.NewClient(creds, cfg.Gmail.BaseURL, inboxOwner, nil)

	var sendClient mailer.Client = gmailClient
	if cfg.SES.Enabled() {
		sesClient, err := mailer.NewSESClient(context.Background(), cfg.SES)
		if err != nil {
			log.Fatalf("init ses client: %v", err)
		}
		sendClient = sesClient
	}

	var drafter draft.Drafter
	if cfg.Drafting.APIKey != "" {
		drafter = draft.NewOpenAIDrafter(cfg.Drafting.APIKey, cfg.Drafting.BaseURL, cfg.Drafting.Model, nil)
	} else {
		drafter = draft.NewTemplateDrafter("")
		mainLog.Warn("no drafting api key, using the template drafter")
	}

	workerID := hostnameWorkerID()
	generator := engine.NewGenerator(st, drafter, workerID)
	promoter := engine.NewPromoter(st, workerID)
	sender, err := engine.NewSender(st, creds, sendClient, workerID, cfg.Engine.WindDownTemplate)
	if err != nil {
		log.Fatalf("init sender: %v", err)
	}

	reclaimAfter := time.Duration(0)
	if cfg.Engine.ReclaimStuckEnabled {
		reclaimAfter = cfg.Engine.ReclaimStuckAfter
	}
	orchestrator := engine.NewOrchestrator(generator, promoter, sender, st, lock, reclaimAfter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var source reply.InboundSource = gmailClient
	if cfg.IMAP.Enabled() {
		source = reply.NewIMAPSource(reply.IMAPConfig{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Mailbox:  cfg.IMAP.Mailbox,
		})
	}
	correlator := reply.NewCorrelator(st, source, nil)
	poller := reply.NewPoller(source, correlator, cfg.Engine.ReplyPollInterval)
	go poller.Run(ctx)

	mainLog.Info("worker started",
		"tick_interval", cfg.Engine.TickInterval.String(),
		"batch_limit", cfg.Engine.BatchLimit)

	ticker := time.NewTicker(cfg.Engine.TickInterval)
	defer ticker.Stop()

	runOnce := func() {
		summary, err := orchestrator.Run(ctx, cfg.Engine.BatchLimit)
		if err != nil {
			mainLog.Error("engine run failed", "error", err)
			return
		}
		if summary.Skipped {
			return
		}
		for _, s := range summary.Stages {
			if s.Processed > 0 {
				mainLog.Info("stage complete", "stage", s.Stage,
					"processed", s.Processed, "succeeded", s.Succeeded, "failed", s.Failed)
			}
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			mainLog.Info("worker stopping")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func hostnameWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-" + uuid.NewString()[:8]
	}
	return host
}
