package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/models"
	"github.com/gempos/jewels_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	dispatcher := workflow.NewOutboxDispatcher(db, logger)
	dispatcher.BatchSize = intFromEnv("OUTBOX_BATCH_SIZE", dispatcher.BatchSize)
	dispatcher.MaxAttempts = intFromEnv("OUTBOX_MAX_ATTEMPTS", dispatcher.MaxAttempts)
	if ms := intFromEnv("OUTBOX_POLL_INTERVAL_MS", 0); ms > 0 {
		dispatcher.PollInterval = time.Duration(ms) * time.Millisecond
	}

	logger.WithFields(logrus.Fields{
		"dispatcher_id": dispatcher.DispatcherID,
		"batch_size":    dispatcher.BatchSize,
		"poll_interval": dispatcher.PollInterval.String(),
		"max_attempts":  dispatcher.MaxAttempts,
	}).Info("outbox dispatcher started")

	dispatcher.Run(sigCtx)

	logger.Info("outbox dispatcher stopped")
}

func intFromEnv(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
