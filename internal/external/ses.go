package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const providerSES = "ses"

// SESAPI defines the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	CreateEmailIdentity(ctx context.Context, params *sesv2.CreateEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailIdentityOutput, error)
	DeleteEmailIdentity(ctx context.Context, params *sesv2.DeleteEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.DeleteEmailIdentityOutput, error)
}

// SESConfig holds the sender identity and optional configuration set.
type SESConfig struct {
	FromAddress   string
	FromName      string
	ConfigSetName string
	Logger        *slog.Logger
}

// SESProvider delivers EMAIL through AWS SES v2. The SDK retries throttled
// calls itself; whatever still fails is classified here.
type SESProvider struct {
	api     SESAPI
	from    string
	confSet string
	logger  *slog.Logger
}

var _ Provider = (*SESProvider)(nil)

// NewSESProvider creates an SESProvider backed by api.
func NewSESProvider(api SESAPI, cfg SESConfig) *SESProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	return &SESProvider{
		api:     api,
		from:    from,
		confSet: cfg.ConfigSetName,
		logger:  logger,
	}
}

// Send transmits one email to every recipient with simple content.
func (s *SESProvider) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.Recipients) == 0 {
		return "", Permanent(providerSES, errors.New("no recipients"))
	}

	body := &sestypes.Body{}
	if msg.HTMLBody != "" {
		body.Html = &sestypes.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.Body != "" {
		body.Text = &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &sestypes.Destination{ToAddresses: msg.Recipients},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if s.confSet != "" {
		input.ConfigurationSetName = aws.String(s.confSet)
	}
	if msg.DedupeToken != "" {
		input.EmailTags = []sestypes.MessageTag{{
			Name:  aws.String("dedupe_token"),
			Value: aws.String(sesTagValue(msg.DedupeToken)),
		}}
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// sesTagValue keeps only the characters SES accepts in tag values.
func sesTagValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, v)
}

// mapSESError classifies SES failures. Rejections and configuration errors
// are permanent; throttling, paused sending and anything else is transient.
func mapSESError(err error) error {
	var (
		rejected    *sestypes.MessageRejected
		notVerified *sestypes.MailFromDomainNotVerifiedException
		badRequest  *sestypes.BadRequestException
	)
	switch {
	case errors.As(err, &rejected), errors.As(err, &notVerified), errors.As(err, &badRequest):
		return Permanent(providerSES, err)
	default:
		return Transient(providerSES, err)
	}
}
