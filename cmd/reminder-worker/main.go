package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/clinova/clinic-scheduling/internal/config"
	"github.com/clinova/clinic-scheduling/internal/db"
	"github.com/clinova/clinic-scheduling/internal/notify"
	redisclient "github.com/clinova/clinic-scheduling/internal/redis"
	"github.com/clinova/clinic-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.WithFields(logrus.Fields{"env": cfg.Env, "cron": cfg.ReminderCron}).Info("reminder worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer rdb.Close()

	var notifier scheduling.Notifier
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, log); sg != nil {
		notifier = sg
	} else {
		notifier = notify.NewStubSender(log)
	}

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := scheduling.NewService(repo, locker, notifier, nil, nil, cfg, log)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.ReminderCron, func() {
		runCtx, cancel := context.WithTimeout(rootCtx, 5*time.Minute)
		defer cancel()

		// Remind patients about tomorrow's appointments.
		tomorrow := time.Now().AddDate(0, 0, 1)
		sent, failed, err := svc.SendReminders(runCtx, tomorrow)
		if err != nil {
			log.WithError(err).Error("reminder run failed")
			return
		}
		log.WithFields(logrus.Fields{"sent": sent, "failed": failed}).Info("reminder run complete")
	})
	if err != nil {
		log.Fatalf("failed to schedule reminder job: %v", err)
	}
	scheduler.Start()

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping reminder worker")
	<-scheduler.Stop().Done()
}
