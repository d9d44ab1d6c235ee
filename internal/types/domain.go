package types

import (
	"time"
)

// Application is a registered tenant. ID is chosen at registration, is
// globally unique, and never changes; every credential and job joins on it.
type Application struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Domain         string    `json:"domain"`
	SESIdentityARN string    `json:"ses_identity_arn,omitempty"`
	SNSTopicARN    string    `json:"sns_topic_arn,omitempty"`
	Seq            int64     `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ApplicationPatch carries a partial update. Nil fields are left untouched.
type ApplicationPatch struct {
	Name   *string
	Email  *string
	Domain *string
}

// IsEmpty reports whether the patch changes nothing.
func (p ApplicationPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Domain == nil
}

// ChannelResources are the per-tenant provider resources created at
// registration: an SES identity for the delivery domain and an SNS topic.
type ChannelResources struct {
	EmailIdentity  string `json:"email_identity,omitempty"`
	SESIdentityARN string `json:"ses_identity_arn,omitempty"`
	TopicName      string `json:"topic_name,omitempty"`
	SNSTopicARN    string `json:"sns_topic_arn,omitempty"`
}

// IsEmpty reports whether nothing was provisioned.
func (r *ChannelResources) IsEmpty() bool {
	return r == nil || (r.EmailIdentity == "" && r.SNSTopicARN == "")
}

// APIKey is a tenant-scoped credential. KeyHash is the bcrypt hash of the
// secret; the secret itself is never persisted.
type APIKey struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	KeyHash       string     `json:"-"`
	KeyPrefix     string     `json:"key_prefix"`
	Name          string     `json:"name,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key has an expiry at or before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// IsUsable reports whether the key may authenticate at the given instant.
func (k *APIKey) IsUsable(now time.Time) bool {
	return !k.IsRevoked() && !k.IsExpired(now)
}

// Recipient is the channel-dependent destination of a notification.
// EMAIL uses EmailAddresses, SMS uses PhoneNumber, PUSH uses DeviceToken.
type Recipient struct {
	EmailAddresses []string `json:"email_addresses,omitempty"`
	PhoneNumber    string   `json:"phone_number,omitempty"`
	DeviceToken    string   `json:"device_token,omitempty"`
}

// Interval is the wire form of a recurrence specification. Exactly one kind
// must be set. A non-nil Days slice counts as set even when empty, so that
// an explicit empty set is rejected rather than ignored.
type Interval struct {
	Once    bool  `json:"once,omitempty"`
	Daily   bool  `json:"daily,omitempty"`
	Weekly  bool  `json:"weekly,omitempty"`
	Monthly bool  `json:"monthly,omitempty"`
	Days    []int `json:"days,omitempty"`
}

// ActiveKinds returns every recurrence kind switched on in the interval.
func (i Interval) ActiveKinds() []RecurrenceKind {
	var kinds []RecurrenceKind
	if i.Once {
		kinds = append(kinds, RecurrenceOnce)
	}
	if i.Daily {
		kinds = append(kinds, RecurrenceDaily)
	}
	if i.Weekly {
		kinds = append(kinds, RecurrenceWeekly)
	}
	if i.Monthly {
		kinds = append(kinds, RecurrenceMonthly)
	}
	if i.Days != nil {
		kinds = append(kinds, RecurrenceDaysOfMonth)
	}
	return kinds
}

// Kind returns the single active kind, or "" when zero or several are set.
func (i Interval) Kind() RecurrenceKind {
	kinds := i.ActiveKinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// NotificationRequest is an inbound submission. It is immutable once
// accepted and never stored on its own: its fields are copied onto every
// ScheduledJob it produces.
type NotificationRequest struct {
	ApplicationID string    `json:"application_id"`
	Channel       Channel   `json:"channel"`
	Recipient     Recipient `json:"recipient"`
	Subject       string    `json:"subject"`
	Message       string    `json:"message"`
	Interval      Interval  `json:"interval"`
	Timezone      string    `json:"timezone,omitempty"`
}

// Payload is the channel-specific rendering of a request, stored on the job
// so that every attempt sends identical content.
type Payload struct {
	Channel      Channel  `json:"channel"`
	Destinations []string `json:"destinations"`
	Subject      string   `json:"subject,omitempty"`
	Body         string   `json:"body"`
	HTMLBody     string   `json:"html_body,omitempty"`
}

// ScheduledJob is one concrete occurrence of a notification request.
// Each occurrence is its own record; recurring requests produce a fresh job
// per occurrence rather than mutating a live entity.
type ScheduledJob struct {
	ID            string     `json:"id"`
	RequestID     string     `json:"request_id"`
	ApplicationID string     `json:"application_id"`
	Channel       Channel    `json:"channel"`
	Recipient     Recipient  `json:"recipient"`
	Subject       string     `json:"subject"`
	Message       string     `json:"message"`
	Interval      Interval   `json:"interval"`
	Timezone      string     `json:"timezone"`
	Payload       Payload    `json:"payload"`
	FireAt        time.Time  `json:"fire_at"`
	AnchorAt      time.Time  `json:"anchor_at"`
	Occurrence    int        `json:"occurrence"`
	Attempt       int        `json:"attempt"`
	Status        JobStatus  `json:"status"`
	LeaseOwner    string     `json:"-"`
	LeaseUntil    *time.Time `json:"-"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
}

// IsRecurring reports whether a successful delivery should produce a successor.
func (j *ScheduledJob) IsRecurring() bool {
	kind := j.Interval.Kind()
	return kind != "" && kind != RecurrenceOnce
}

// DeadLetter is the durable operator-visible record of a job that will not
// be delivered. There is at most one per job.
type DeadLetter struct {
	ID            string           `json:"id"`
	JobID         string           `json:"job_id"`
	RequestID     string           `json:"request_id"`
	ApplicationID string           `json:"application_id"`
	Channel       Channel          `json:"channel"`
	Attempts      int              `json:"attempts"`
	Reason        DeadLetterReason `json:"reason"`
	LastError     string           `json:"last_error"`
	Payload       Payload          `json:"payload"`
	CreatedAt     time.Time        `json:"created_at"`
	PublishedAt   *time.Time       `json:"published_at,omitempty"`
}

// DeliveryAttempt is one row of the attempt log.
type DeliveryAttempt struct {
	ID                int64         `json:"id"`
	JobID             string        `json:"job_id"`
	ApplicationID     string        `json:"application_id"`
	Attempt           int           `json:"attempt"`
	Status            AttemptStatus `json:"status"`
	Error             string        `json:"error,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	DurationMS        int64         `json:"duration_ms"`
	AttemptedAt       time.Time     `json:"attempted_at"`
}

// JobHistory records one run of a maintenance task.
type JobHistory struct {
	ID             int64      `json:"id"`
	JobType        string     `json:"job_type"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         string     `json:"status"`
	ItemsProcessed int        `json:"items_processed"`
	Error          string     `json:"error,omitempty"`
}
