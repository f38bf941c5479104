// Command sync-lambda runs one full sync per scheduled EventBridge event.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/medspa-roster-sync/cmd/mainconfig"
	"github.com/wolfman30/medspa-roster-sync/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-roster-sync/internal/config"
	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type fullSyncRunner interface {
	RunFullSync(ctx context.Context) (pipeline.Summary, error)
}

type outboxDrainer interface {
	Drain(ctx context.Context) int
}

// response is what the invocation returns to the scheduler.
type response struct {
	RunID     string `json:"run_id,omitempty"`
	State     string `json:"state"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Failed    int    `json:"failed"`
	Skipped   bool   `json:"skipped,omitempty"`
	Delivered int    `json:"events_delivered"`
}

type handler struct {
	runner fullSyncRunner
	outbox outboxDrainer
	logger *logging.Logger
}

// handle runs the sync and drains queued events in the same invocation,
// since no long-lived deliverer exists in Lambda.
func (h handler) handle(ctx context.Context, evt events.CloudWatchEvent) (response, error) {
	h.logger.Info("scheduled sync triggered", "event_id", evt.ID, "source", evt.Source)

	sum, err := h.runner.RunFullSync(ctx)
	if pipeline.IsRunInProgress(err) {
		h.logger.Info("sync skipped, run in progress")
		return response{State: "skipped", Skipped: true}, nil
	}

	resp := response{
		RunID:     sum.RunID,
		State:     string(sum.State),
		Processed: sum.Processed,
		Updated:   sum.Updated,
		Failed:    sum.Failed,
	}
	if h.outbox != nil {
		resp.Delivered = h.outbox.Drain(ctx)
	}
	if err != nil {
		return resp, fmt.Errorf("sync run failed: %w", err)
	}
	return resp, nil
}

func main() {
	ctx := context.Background()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	app, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{AWS: &awsCfg, VerifyRedis: true})
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	h := handler{runner: app.Orchestrator, outbox: app.Deliverer, logger: logger}
	lambda.Start(h.handle)
}
