package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
)

// SQSAPI is the subset of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Message is the queue payload pointing at a document to process.
type Message struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Consumer polls an SQS queue and feeds documents to the processor. A
// message is deleted only after the processor finished with it, so failed
// documents come back after the visibility timeout.
type Consumer struct {
	client    SQSAPI
	queueURL  string
	processor *Processor
	logger    zerolog.Logger

	// PollWait is the long-poll duration in seconds.
	PollWait int32
	// BatchSize is the max messages fetched per poll.
	BatchSize int32
}

func NewConsumer(client SQSAPI, queueURL string, processor *Processor, logger zerolog.Logger) *Consumer {
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		processor: processor,
		logger:    logger.With().Str("component", "pipeline-consumer").Logger(),
		PollWait:  20,
		BatchSize: 10,
	}
}

// Run polls until ctx is cancelled. It returns nil on a clean shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Str("queue", c.queueURL).Msg("pipeline consumer started")
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info().Msg("pipeline consumer stopped")
			return nil
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: c.BatchSize,
			WaitTimeSeconds:     c.PollWait,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info().Msg("pipeline consumer stopped")
				return nil
			}
			c.logger.Error().Err(err).Msg("receiving messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, m := range out.Messages {
			c.handle(ctx, aws.ToString(m.Body), aws.ToString(m.ReceiptHandle))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body, receiptHandle string) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil || msg.Bucket == "" || msg.Key == "" {
		// Malformed payloads never become processable; drop them.
		c.logger.Warn().Err(err).Str("body", body).Msg("dropping malformed pipeline message")
		c.delete(ctx, receiptHandle)
		return
	}

	if _, err := c.processor.Process(ctx, msg.Bucket, msg.Key); err != nil {
		// Leave the message in the queue for redelivery.
		c.logger.Error().Err(err).Str("bucket", msg.Bucket).Str("key", msg.Key).Msg("processing document")
		return
	}

	c.delete(ctx, receiptHandle)
}

func (c *Consumer) delete(ctx context.Context, receiptHandle string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("deleting message")
	}
}
