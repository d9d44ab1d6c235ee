// Package queue provides the durable dispatch queue over the job repository
// and the SQS producer that ships dead letters to operators.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"herald/internal/types"
)

// CompressionThreshold is the encoded body size above which dead-letter
// messages are zstd-compressed. SQS caps a message at 256KB.
const CompressionThreshold = 64 * 1024

const (
	attrContentEncoding = "content-encoding"
	attrReason          = "reason"
	attrApplicationID   = "application_id"
	encodingZstd        = "zstd"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadLetterPublisher serializes dead letters as types.DeadLetterMessage
// and sends them to the operator dead-letter queue.
type DeadLetterPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error
}

// NewDeadLetterPublisher creates a publisher for queueURL.
func NewDeadLetterPublisher(client SQSSender, queueURL string, logger *slog.Logger) *DeadLetterPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish sends dl to the queue.
func (p *DeadLetterPublisher) Publish(ctx context.Context, dl *types.DeadLetter) error {
	msg := types.DeadLetterMessage{
		DeadLetterID:  dl.ID,
		JobID:         dl.JobID,
		RequestID:     dl.RequestID,
		ApplicationID: dl.ApplicationID,
		Channel:       dl.Channel,
		Reason:        dl.Reason,
		Attempts:      dl.Attempts,
		LastError:     dl.LastError,
		Payload:       dl.Payload,
		FailedAt:      dl.CreatedAt,
		TraceID:       types.GetRequestID(ctx),
	}
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal dead letter: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		attrReason: {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(dl.Reason)),
		},
		attrApplicationID: {
			DataType:    aws.String("String"),
			StringValue: aws.String(dl.ApplicationID),
		},
	}

	encoded := string(body)
	if len(body) > CompressionThreshold {
		compressed, err := p.compress(body)
		if err != nil {
			return fmt.Errorf("queue: failed to compress dead letter: %w", err)
		}
		encoded = base64.StdEncoding.EncodeToString(compressed)
		attrs[attrContentEncoding] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(encodingZstd),
		}
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(encoded),
		MessageAttributes: attrs,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to publish dead letter", err)
	}

	p.logger.InfoContext(ctx, "dead letter published",
		"dead_letter_id", dl.ID,
		"job_id", dl.JobID,
		"application_id", dl.ApplicationID,
		"reason", string(dl.Reason),
		"trace_id", msg.TraceID,
		"compressed", len(body) > CompressionThreshold,
	)
	return nil
}

func (p *DeadLetterPublisher) compress(body []byte) ([]byte, error) {
	p.encoderOnce.Do(func() {
		p.encoder, p.encoderErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	if p.encoderErr != nil {
		return nil, p.encoderErr
	}
	return p.encoder.EncodeAll(body, nil), nil
}

// DecodeDeadLetter reverses Publish for consumers of the queue.
func DecodeDeadLetter(body string, contentEncoding string) (*types.DeadLetterMessage, error) {
	raw := []byte(body)
	if contentEncoding == encodingZstd {
		compressed, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("queue: invalid base64 body: %w", err)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("queue: zstd decode: %w", err)
		}
	}

	var msg types.DeadLetterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("queue: invalid dead letter body: %w", err)
	}
	return &msg, nil
}
