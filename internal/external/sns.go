package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"herald/internal/types"
)

const providerSNS = "sns"

// SNSAPI defines the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	DeleteTopic(ctx context.Context, params *sns.DeleteTopicInput, optFns ...func(*sns.Options)) (*sns.DeleteTopicOutput, error)
}

// SNSConfig configures SMS attributes.
type SNSConfig struct {
	SMSSenderID string
	Logger      *slog.Logger
}

// SNSProvider delivers SMS to phone numbers and PUSH to platform endpoint
// ARNs through Amazon SNS.
type SNSProvider struct {
	api      SNSAPI
	senderID string
	logger   *slog.Logger
}

var _ Provider = (*SNSProvider)(nil)

func NewSNSProvider(api SNSAPI, cfg SNSConfig) *SNSProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SNSProvider{api: api, senderID: cfg.SMSSenderID, logger: logger}
}

func stringAttr(v string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

// Send publishes msg to its single destination.
func (p *SNSProvider) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.Recipients) != 1 {
		return "", Permanent(providerSNS, fmt.Errorf("expected exactly one destination, got %d", len(msg.Recipients)))
	}
	dest := msg.Recipients[0]

	var input *sns.PublishInput
	switch msg.Channel {
	case types.ChannelSMS:
		attrs := map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": stringAttr("Transactional"),
		}
		if p.senderID != "" {
			attrs["AWS.SNS.SMS.SenderID"] = stringAttr(p.senderID)
		}
		if msg.DedupeToken != "" {
			attrs["herald.dedupe_token"] = stringAttr(msg.DedupeToken)
		}
		input = &sns.PublishInput{
			PhoneNumber:       aws.String(dest),
			Message:           aws.String(msg.Body),
			MessageAttributes: attrs,
		}
	case types.ChannelPush:
		body, err := pushMessage(msg)
		if err != nil {
			return "", Permanent(providerSNS, err)
		}
		input = &sns.PublishInput{
			TargetArn:        aws.String(dest),
			Message:          aws.String(body),
			MessageStructure: aws.String("json"),
		}
	default:
		return "", Permanent(providerSNS, fmt.Errorf("channel %s is not supported", msg.Channel))
	}

	out, err := p.api.Publish(ctx, input)
	if err != nil {
		return "", mapSNSError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// pushMessage builds the per-platform JSON envelope SNS expects with
// MessageStructure=json.
func pushMessage(msg Message) (string, error) {
	apns, err := json.Marshal(map[string]any{
		"aps":          map[string]any{"alert": map[string]string{"title": msg.Subject, "body": msg.Body}},
		"dedupe_token": msg.DedupeToken,
	})
	if err != nil {
		return "", err
	}
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{"title": msg.Subject, "body": msg.Body},
		"data":         map[string]string{"dedupe_token": msg.DedupeToken},
	})
	if err != nil {
		return "", err
	}
	envelope, err := json.Marshal(map[string]string{
		"default":      msg.Body,
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
		"GCM":          string(gcm),
	})
	if err != nil {
		return "", err
	}
	return string(envelope), nil
}

// mapSNSError: bad parameters, disabled or unknown endpoints and opted-out
// numbers are permanent; throttling, internal errors and the rest transient.
func mapSNSError(err error) error {
	var (
		invalidParam  *snstypes.InvalidParameterException
		invalidValue  *snstypes.InvalidParameterValueException
		disabled      *snstypes.EndpointDisabledException
		notFound      *snstypes.NotFoundException
		platformError *snstypes.PlatformApplicationDisabledException
	)
	switch {
	case errors.As(err, &invalidParam), errors.As(err, &invalidValue),
		errors.As(err, &disabled), errors.As(err, &notFound), errors.As(err, &platformError):
		return Permanent(providerSNS, err)
	}
	if strings.Contains(err.Error(), "opted out") {
		return Permanent(providerSNS, err)
	}
	return Transient(providerSNS, err)
}
