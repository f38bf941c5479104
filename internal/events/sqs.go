package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher delivers outbox entries to an SQS queue.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	fifo     bool
}

// NewSQSPublisher creates a publisher for queueURL.
func NewSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

// Handle implements DeliveryHandler. On FIFO queues the aggregate id is the
// message group, keeping one patient's events ordered, and the entry id is
// the deduplication id.
func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"event_id":   {DataType: aws.String("String"), StringValue: aws.String(entry.ID.String())},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(entry.AggregateID)
		input.MessageDeduplicationId = aws.String(entry.ID.String())
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// LogHandler logs entries instead of sending them. Used when no queue is
// configured so the outbox still drains.
type LogHandler struct {
	Logger *logging.Logger
}

// Handle implements DeliveryHandler.
func (h LogHandler) Handle(_ context.Context, entry OutboxEntry) error {
	logger := h.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Info("outbox event", "event_id", entry.ID, "type", entry.Type, "aggregate_id", entry.AggregateID)
	return nil
}
