package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/medspa-roster-sync/internal/config"
	"github.com/wolfman30/medspa-roster-sync/internal/events"
	"github.com/wolfman30/medspa-roster-sync/internal/notify"
	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logging.New("error"), true))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, logging.New("error"), true))
}

func TestBuildRedisClientVerifiesPing(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.New("error"), true))
}

func TestBuildLockerPrefersRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}
	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), false)
	defer client.Close()

	assert.IsType(t, &pipeline.RedisLocker{}, buildLocker(client, nil, cfg))
	assert.IsType(t, &pipeline.AdvisoryLocker{}, buildLocker(nil, nil, cfg))
}

func TestBuildEmailSenderFallsBackToLog(t *testing.T) {
	logger := logging.New("error")

	sender := buildEmailSender(&appconfig.Config{EmailProvider: "sendgrid"}, nil, logger)
	assert.IsType(t, &notify.LogSender{}, sender)

	sender = buildEmailSender(&appconfig.Config{EmailProvider: "ses", SESFromEmail: "ops@example.com"}, nil, logger)
	assert.IsType(t, &notify.LogSender{}, sender)

	sender = buildEmailSender(&appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "SG.key", SendGridFromEmail: "ops@example.com"}, nil, logger)
	assert.IsType(t, &notify.SendGridSender{}, sender)
}

func TestBuildObserversSkipsUnconfigured(t *testing.T) {
	observers := buildObservers(&appconfig.Config{}, nil, logging.New("error"))
	assert.Empty(t, observers)

	observers = buildObservers(&appconfig.Config{AlertEmailTo: "ops@example.com", RunReportBucket: "reports"}, nil, logging.New("error"))
	require.Len(t, observers, 1)
	assert.IsType(t, &notify.RunAlerter{}, observers[0])
}

func TestBuildDeliveryHandlerWithoutQueueLogs(t *testing.T) {
	h := buildDeliveryHandler(&appconfig.Config{StatusEventsQueueURL: "https://sqs.example/queue"}, nil, logging.New("error"))
	assert.IsType(t, events.LogHandler{}, h)
}

func TestBuildRequiresConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, nil, Options{})
	assert.Error(t, err)
}

func TestConnectPostgresRequiresURL(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), " ")
	assert.Error(t, err)
}
