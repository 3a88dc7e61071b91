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

	"github.com/touchbase/followup/internal/api"
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
	mainLog := logger.With("server")

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
		mainLog.Info("sending via ses", "region", cfg.SES.Region)
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

	handlers := api.NewHandlers(generator, promoter, sender, orchestrator, correlator, st, cfg.Engine.BatchLimit)
	srv := api.NewServer(cfg.Server, handlers)

	go func() {
		mainLog.Info("http server listening", "addr", cfg.Server.Addr())
		if err := srv.Start(); err != nil {
			mainLog.Error("http server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error("shutdown failed", "error", err)
	}
}

func hostnameWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "server-" + uuid.NewString()[:8]
	}
	return host
}
