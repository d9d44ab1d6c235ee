package types

// Channel identifies the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// RecurrenceKind names one of the five supported recurrence rules.
type RecurrenceKind string

const (
	RecurrenceOnce        RecurrenceKind = "once"
	RecurrenceDaily       RecurrenceKind = "daily"
	RecurrenceWeekly      RecurrenceKind = "weekly"
	RecurrenceMonthly     RecurrenceKind = "monthly"
	RecurrenceDaysOfMonth RecurrenceKind = "days_of_month"
)

// JobStatus is the lifecycle state of a ScheduledJob.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusInFlight    JobStatus = "in_flight"
	JobStatusDelivered   JobStatus = "delivered"
	JobStatusFailed      JobStatus = "failed"
	JobStatusRescheduled JobStatus = "rescheduled"
)

// jobTransitions enumerates every legal edge of the job state machine.
// in_flight -> in_flight is a re-claim after lease expiry.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusInFlight},
	JobStatusInFlight:  {JobStatusDelivered, JobStatusPending, JobStatusFailed, JobStatusInFlight},
	JobStatusDelivered: {JobStatusRescheduled},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return len(jobTransitions[s]) == 0
}

// DeadLetterReason explains why a job was dead-lettered.
type DeadLetterReason string

const (
	DeadLetterPermanent DeadLetterReason = "permanent"
	DeadLetterExhausted DeadLetterReason = "exhausted"
)

// AttemptStatus is the outcome recorded in the delivery attempt log.
type AttemptStatus string

const (
	AttemptSuccess          AttemptStatus = "success"
	AttemptTransientFailure AttemptStatus = "transient_failure"
	AttemptPermanentFailure AttemptStatus = "permanent_failure"
)

// Maintenance job run statuses.
const (
	JobRunSuccess = "success"
	JobRunFailed  = "failed"
)
