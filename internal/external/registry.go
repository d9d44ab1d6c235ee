package external

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"herald/internal/config"
	"herald/internal/types"
)

// ClientRegistry holds the channel provider and the tenant resource
// provisioner built from configuration.
type ClientRegistry struct {
	// Provider routes by channel; each channel is rate limited and breaker
	// protected independently.
	Provider Provider
	// Provisioner is nil when tenant resource provisioning is disabled.
	Provisioner *ResourceProvisioner
	// Breakers exposes per-channel wrappers for health reporting.
	Breakers map[types.Channel]*Resilient
}

// RegistryOption injects pre-built vendor clients, mainly for tests.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	ses  SESAPI
	sns  SNSAPI
	smtp SMTPSender
}

func WithSESAPI(api SESAPI) RegistryOption       { return func(rc *registryConfig) { rc.ses = api } }
func WithSNSAPI(api SNSAPI) RegistryOption       { return func(rc *registryConfig) { rc.sns = api } }
func WithSMTPSender(s SMTPSender) RegistryOption { return func(rc *registryConfig) { rc.smtp = s } }

// NewClientRegistry builds providers per cfg.Email.Provider and
// cfg.Messaging.Provider. AWS clients are created lazily from awsCfg only
// when a configured provider needs them.
func NewClientRegistry(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger, opts ...RegistryOption) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}
	sesAPI := func() SESAPI {
		if rc.ses == nil {
			rc.ses = sesv2.NewFromConfig(awsCfg)
		}
		return rc.ses
	}
	snsAPI := func() SNSAPI {
		if rc.sns == nil {
			rc.sns = sns.NewFromConfig(awsCfg)
		}
		return rc.sns
	}

	var email Provider
	switch cfg.Email.Provider {
	case "ses":
		email = NewSESProvider(sesAPI(), SESConfig{
			FromAddress:   cfg.Email.FromAddress,
			FromName:      cfg.Email.FromName,
			ConfigSetName: cfg.AWS.SESConfigurationSet,
			Logger:        logger.With("provider", providerSES),
		})
	case "smtp":
		smtpCfg := SMTPConfig{
			Host:        cfg.Email.SMTPHost,
			Port:        cfg.Email.SMTPPort,
			Username:    cfg.Email.SMTPUsername,
			Password:    cfg.Email.SMTPPassword.Unmask(),
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			Logger:      logger.With("provider", providerSMTP),
		}
		if rc.smtp != nil {
			email = NewSMTPProviderWithSender(rc.smtp, smtpCfg)
		} else {
			email = NewSMTPProvider(smtpCfg)
		}
	case "log":
		email = NewLogProvider(logger.With("provider", "log", "channel", "EMAIL"))
	default:
		return nil, fmt.Errorf("external: unknown email provider %q", cfg.Email.Provider)
	}

	var messaging Provider
	switch cfg.Messaging.Provider {
	case "sns":
		messaging = NewSNSProvider(snsAPI(), SNSConfig{
			SMSSenderID: cfg.Messaging.SMSSenderID,
			Logger:      logger.With("provider", providerSNS),
		})
	case "log":
		messaging = NewLogProvider(logger.With("provider", "log"))
	default:
		return nil, fmt.Errorf("external: unknown messaging provider %q", cfg.Messaging.Provider)
	}

	rates := map[types.Channel]float64{
		types.ChannelEmail: cfg.Worker.EmailRate,
		types.ChannelSMS:   cfg.Worker.SMSRate,
		types.ChannelPush:  cfg.Worker.PushRate,
	}
	base := map[types.Channel]Provider{
		types.ChannelEmail: email,
		types.ChannelSMS:   messaging,
		types.ChannelPush:  messaging,
	}
	reg := &ClientRegistry{Breakers: make(map[types.Channel]*Resilient, len(base))}
	routed := make(map[types.Channel]Provider, len(base))
	for ch, p := range base {
		w := NewResilient(p, ResilienceConfig{
			Name:            string(ch),
			RatePerSecond:   rates[ch],
			Burst:           int(rates[ch]) + 1,
			BreakerFailures: cfg.Worker.BreakerFailures,
			BreakerTimeout:  cfg.Worker.BreakerTimeout,
			Logger:          logger,
		})
		reg.Breakers[ch] = w
		routed[ch] = w
	}
	reg.Provider = NewRouter(routed)

	if cfg.Tenant.ProvisionResources {
		reg.Provisioner = NewResourceProvisioner(sesAPI(), snsAPI(), ProvisionerConfig{
			Region:      cfg.AWS.Region,
			AccountID:   cfg.AWS.AccountID,
			TopicPrefix: cfg.Tenant.TopicPrefix,
			Logger:      logger.With("component", "provisioner"),
		})
	}

	logger.Info("channel providers initialized",
		"email_provider", cfg.Email.Provider,
		"messaging_provider", cfg.Messaging.Provider,
		"provision_resources", cfg.Tenant.ProvisionResources,
	)
	return reg, nil
}
