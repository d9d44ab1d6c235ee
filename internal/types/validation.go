package types

import (
	"net/mail"
	"regexp"
	"strings"
)

// Validation constraint constants.
const (
	MaxNameLength       = 200
	MaxDomainLength     = 253
	MaxEmailRecipients  = 50
	MaxSubjectLength    = 998
	MaxMessageLength    = 64 << 10
	MaxSMSMessageLength = 1600
	MaxPushTokenLength  = 2048
	MaxKeyLabelLength   = 100
)

var (
	identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,62}$`)
	domainLabel       = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	e164Pattern       = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
)

// ValidateIdentifier checks a tenant identifier: lowercase alphanumerics,
// '-' and '_', 3 to 63 characters, starting with a letter or digit.
func ValidateIdentifier(id string) *AppError {
	if id == "" {
		return NewFieldError(ErrCodeValidationMissingField, "identifier", "is required")
	}
	if !identifierPattern.MatchString(id) {
		return NewFieldError(ErrCodeValidationInvalidID, "identifier",
			"must be 3-63 lowercase letters, digits, '-' or '_'")
	}
	return nil
}

// ValidateEmailAddress checks a single bare address (no display name).
func ValidateEmailAddress(field, addr string) *AppError {
	if addr == "" {
		return NewFieldError(ErrCodeValidationMissingField, field, "is required")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr || !strings.Contains(addr[strings.LastIndex(addr, "@")+1:], ".") {
		return NewFieldError(ErrCodeValidationInvalidEmail, field, "is not a valid email address")
	}
	return nil
}

// ValidateDomain checks a DNS delivery domain such as "mail.example.com".
func ValidateDomain(domain string) *AppError {
	if domain == "" {
		return NewFieldError(ErrCodeValidationMissingField, "domain", "is required")
	}
	if len(domain) > MaxDomainLength {
		return NewFieldError(ErrCodeValidationInvalidDomain, "domain", "exceeds 253 characters")
	}
	labels := strings.Split(strings.ToLower(domain), ".")
	if len(labels) < 2 {
		return NewFieldError(ErrCodeValidationInvalidDomain, "domain", "must contain at least two labels")
	}
	for _, label := range labels {
		if !domainLabel.MatchString(label) {
			return NewFieldError(ErrCodeValidationInvalidDomain, "domain", "contains an invalid label")
		}
	}
	return nil
}

// ValidatePhoneNumber checks an E.164 number such as "+14155550123".
func ValidatePhoneNumber(field, phone string) *AppError {
	if phone == "" {
		return NewFieldError(ErrCodeValidationMissingField, field, "is required for SMS")
	}
	if !e164Pattern.MatchString(phone) {
		return NewFieldError(ErrCodeValidationInvalidPhone, field, "must be an E.164 number")
	}
	return nil
}
