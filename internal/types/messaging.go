package types

import "time"

// DeadLetterMessage is the SQS body published for each dead-lettered job.
// When the JSON encoding exceeds the compression threshold the body is
// zstd-compressed and base64 encoded, and the "content-encoding" message
// attribute is set to "zstd".
type DeadLetterMessage struct {
	DeadLetterID  string           `json:"dead_letter_id"`
	JobID         string           `json:"job_id"`
	RequestID     string           `json:"request_id"`
	ApplicationID string           `json:"application_id"`
	Channel       Channel          `json:"channel"`
	Reason        DeadLetterReason `json:"reason"`
	Attempts      int              `json:"attempts"`
	LastError     string           `json:"last_error"`
	Payload       Payload          `json:"payload"`
	FailedAt      time.Time        `json:"failed_at"`
	TraceID       string           `json:"trace_id,omitempty"`
}
