package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"herald/internal/types"
)

// ProvisionerConfig names the per-tenant resources.
type ProvisionerConfig struct {
	Region      string
	AccountID   string
	TopicPrefix string
	Logger      *slog.Logger
}

// ResourceProvisioner creates a tenant's SES email identity for its
// delivery domain and an SNS topic for its SMS and PUSH traffic.
type ResourceProvisioner struct {
	ses    SESAPI
	sns    SNSAPI
	cfg    ProvisionerConfig
	logger *slog.Logger
}

func NewResourceProvisioner(sesAPI SESAPI, snsAPI SNSAPI, cfg ProvisionerConfig) *ResourceProvisioner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceProvisioner{ses: sesAPI, sns: snsAPI, cfg: cfg, logger: logger}
}

func (p *ResourceProvisioner) identityARN(domain string) string {
	if p.cfg.AccountID == "" || p.cfg.Region == "" {
		return domain
	}
	return fmt.Sprintf("arn:aws:ses:%s:%s:identity/%s", p.cfg.Region, p.cfg.AccountID, domain)
}

// Provision creates both resources. When the topic fails after the identity
// was created, the identity is returned with the error so the caller can
// release it.
func (p *ResourceProvisioner) Provision(ctx context.Context, app *types.Application) (*types.ChannelResources, error) {
	res := &types.ChannelResources{}

	_, err := p.ses.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(app.Domain),
		Tags: []sestypes.Tag{
			{Key: aws.String("application_id"), Value: aws.String(app.ID)},
		},
	})
	var exists *sestypes.AlreadyExistsException
	switch {
	case err == nil:
		res.EmailIdentity = app.Domain
		res.SESIdentityARN = p.identityARN(app.Domain)
	case errors.As(err, &exists):
		// Another tenant shares the domain; it owns the identity.
		p.logger.WarnContext(ctx, "email identity already exists, not claiming it",
			"application_id", app.ID,
			"domain", app.Domain,
		)
	default:
		return res, types.NewAppError(types.ErrCodeUpstreamEmailProvider, "failed to create email identity", err)
	}

	res.TopicName = p.cfg.TopicPrefix + app.ID
	out, err := p.sns.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(res.TopicName),
		Tags: []snstypes.Tag{
			{Key: aws.String("application_id"), Value: aws.String(app.ID)},
		},
	})
	if err != nil {
		res.TopicName = ""
		return res, types.NewAppError(types.ErrCodeUpstreamSNS, "failed to create topic", err)
	}
	res.SNSTopicARN = aws.ToString(out.TopicArn)

	p.logger.InfoContext(ctx, "tenant channel resources provisioned",
		"application_id", app.ID,
		"email_identity", res.EmailIdentity,
		"sns_topic_arn", res.SNSTopicARN,
	)
	return res, nil
}

// Release deletes whatever res names. Missing resources count as released.
func (p *ResourceProvisioner) Release(ctx context.Context, res *types.ChannelResources) error {
	if res.IsEmpty() {
		return nil
	}
	var errs []error

	if res.SNSTopicARN != "" {
		_, err := p.sns.DeleteTopic(ctx, &sns.DeleteTopicInput{TopicArn: aws.String(res.SNSTopicARN)})
		var nf *snstypes.NotFoundException
		if err != nil && !errors.As(err, &nf) {
			errs = append(errs, fmt.Errorf("delete topic %s: %w", res.SNSTopicARN, err))
		}
	}
	if res.EmailIdentity != "" {
		_, err := p.ses.DeleteEmailIdentity(ctx, &sesv2.DeleteEmailIdentityInput{EmailIdentity: aws.String(res.EmailIdentity)})
		var nf *sestypes.NotFoundException
		if err != nil && !errors.As(err, &nf) {
			errs = append(errs, fmt.Errorf("delete email identity %s: %w", res.EmailIdentity, err))
		}
	}
	return errors.Join(errs...)
}
