package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/workflow"
)

func main() {
	batchSize := flag.Int("batch-size", 50, "Deliveries claimed per polling pass")
	workers := flag.Int("workers", 8, "Concurrent delivery senders")
	interval := flag.Duration("interval", 2*time.Second, "Polling interval")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	dispatcher := workflow.NewWebhookDispatcher(config.GetLogger())
	dispatcher.BatchSize = *batchSize
	dispatcher.WorkerCount = *workers
	dispatcher.Interval = *interval
	dispatcher.Run(ctx)
}
