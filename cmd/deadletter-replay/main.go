package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/app/deadletter"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/contracts"
	"github.com/the-marketplace/project/internal/messaging"
	"github.com/the-marketplace/project/internal/platform/logging"
	"github.com/the-marketplace/project/internal/platform/natsutil"
)

func main() {
	var (
		subscription = flag.String("subscription", "", "subscription whose dead-letter destination to replay")
		topic        = flag.String("topic", "", "dead-letter topic to replay (overrides -subscription)")
		limit        = flag.Int("limit", 0, "maximum messages to handle, 0 for all")
		dryRun       = flag.Bool("dry-run", false, "list parked messages without replaying them")
		wait         = flag.Duration("wait", 2*time.Second, "how long to wait for each batch")
	)
	flag.Parse()

	cfg, err := config.Load[config.DeadletterReplay]()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger := logging.Setup(cfg.Logging, "deadletter-replay")

	target := *topic
	if target == "" && *subscription != "" {
		target = contracts.DeadLetterFor(*subscription)
	}
	if target == "" {
		logger.Fatal("one of -topic or -subscription is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "deadletter-replay", cfg.NATS.ConnectTimeout)
	if err != nil {
		logger.WithError(err).Fatal("connect nats")
	}
	defer client.Close()

	replayer := deadletter.NewReplayer(
		deadletter.JetStreamOpener(client.JS, *wait),
		messaging.NewJetStreamBroker(client.JS, logger),
		logger,
	)
	replayer.DryRun = *dryRun

	report, err := replayer.Replay(ctx, target, *limit)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		logger.WithError(encErr).Error("write report")
	}
	if err != nil {
		logger.WithError(err).WithField("topic", target).Fatal("replay failed")
	}
	logger.WithFields(log.Fields{
		"topic":    target,
		"listed":   len(report.Entries),
		"replayed": report.Replayed,
		"skipped":  report.Skipped,
		"dry_run":  *dryRun,
	}).Info("replay finished")
}
