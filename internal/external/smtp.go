package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"
)

const providerSMTP = "smtp"

// SMTPSender is satisfied by *gomail.Dialer.
type SMTPSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig configures the SMTP provider used for local and dev delivery.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Logger      *slog.Logger
}

// SMTPProvider delivers EMAIL over SMTP with gomail.
type SMTPProvider struct {
	sender   SMTPSender
	from     string
	fromName string
	logger   *slog.Logger
	now      func() time.Time
}

var _ Provider = (*SMTPProvider)(nil)

// NewSMTPProvider dials cfg.Host for every message.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return NewSMTPProviderWithSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg)
}

// NewSMTPProviderWithSender uses a caller-provided sender.
func NewSMTPProviderWithSender(sender SMTPSender, cfg SMTPConfig) *SMTPProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPProvider{
		sender:   sender,
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
		logger:   logger,
		now:      time.Now,
	}
}

// Send builds a multipart message and hands it to the SMTP server. The
// dedupe token becomes the Message-ID so receivers can collapse repeats.
func (p *SMTPProvider) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.Recipients) == 0 {
		return "", Permanent(providerSMTP, errors.New("no recipients"))
	}
	if err := ctx.Err(); err != nil {
		return "", Transient(providerSMTP, err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", p.from, p.fromName)
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetDateHeader("Date", p.now())

	messageID := ""
	if msg.DedupeToken != "" {
		messageID = fmt.Sprintf("<%s@herald>", msg.DedupeToken)
		m.SetHeader("Message-ID", messageID)
	}

	m.SetBody("text/plain", msg.Body)
	if msg.HTMLBody != "" {
		m.AddAlternative("text/html", msg.HTMLBody)
	}

	if err := p.sender.DialAndSend(m); err != nil {
		return "", mapSMTPError(err)
	}
	return messageID, nil
}

var smtpReplyCode = regexp.MustCompile(`(?:^|: )([2-5][0-9]{2})[ -]`)

// mapSMTPError classifies by reply code: 5xx is permanent, anything else
// (4xx, network errors) is transient. gomail flattens server errors into
// strings, so the code is recovered from the text when the type is lost.
func mapSMTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return Permanent(providerSMTP, err)
		}
		return Transient(providerSMTP, err)
	}
	if m := smtpReplyCode.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil && code >= 500 {
			return Permanent(providerSMTP, err)
		}
	}
	return Transient(providerSMTP, err)
}
