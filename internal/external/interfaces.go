// Package external is the boundary between the dispatch path and the
// channel vendors: SES and SMTP for EMAIL, SNS for SMS and PUSH, plus the
// per-tenant resource provisioner.
package external

import (
	"context"
	"errors"
	"fmt"

	"herald/internal/types"
)

// Message is one rendered notification handed to a provider.
type Message struct {
	Channel    types.Channel
	Recipients []string
	Subject    string
	Body       string
	HTMLBody   string
	// DedupeToken is stable across redeliveries of the same attempt
	// (job id + ":" + attempt) and is passed to the vendor where supported.
	DedupeToken string
}

// MessageFromPayload builds the provider message for a stored payload.
func MessageFromPayload(p types.Payload, dedupeToken string) Message {
	return Message{
		Channel:     p.Channel,
		Recipients:  append([]string(nil), p.Destinations...),
		Subject:     p.Subject,
		Body:        p.Body,
		HTMLBody:    p.HTMLBody,
		DedupeToken: dedupeToken,
	}
}

// Provider sends messages on one or more channels. It returns the vendor
// message id on success. Failures are *types.AppError values coded
// delivery_transient_failure or delivery_permanent_failure that wrap a
// *DeliveryError.
type Provider interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// FailureKind classifies a delivery failure.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// DeliveryError is the vendor failure behind a delivery AppError.
type DeliveryError struct {
	Kind     FailureKind
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s %s failure: %v", e.Provider, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// deliveryFailure wraps err as a classified delivery AppError.
func deliveryFailure(kind FailureKind, provider string, err error) error {
	code := types.ErrCodeDeliveryTransient
	if kind == FailurePermanent {
		code = types.ErrCodeDeliveryPermanent
	}
	de := &DeliveryError{Kind: kind, Provider: provider, Err: err}
	return types.NewAppError(code, de.Error(), de)
}

// Transient wraps err as a retryable delivery failure.
func Transient(provider string, err error) error {
	return deliveryFailure(FailureTransient, provider, err)
}

// Permanent wraps err as a non-retryable delivery failure.
func Permanent(provider string, err error) error {
	return deliveryFailure(FailurePermanent, provider, err)
}

// KindOf returns the failure kind of err. Unclassified errors are transient.
func KindOf(err error) FailureKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	if types.HasCode(err, types.ErrCodeDeliveryPermanent) {
		return FailurePermanent
	}
	return FailureTransient
}
