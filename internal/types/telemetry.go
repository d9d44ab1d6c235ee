package types

// Telemetry metric names. CloudWatch and Prometheus backends both derive
// their series from these constants.
const (
	// Metric Names
	MetricDeliveryAttempt   = "DeliveryAttempt"
	MetricDeliveryLatency   = "DeliveryLatency"
	MetricQueueLag          = "QueueLag"
	MetricDeadLetters       = "DeadLetters"
	MetricDeadLetterBacklog = "DeadLetterBacklog"
	MetricStaleLeases       = "StaleLeases"
	MetricOrphansDeleted    = "OrphansDeleted"

	// Dimension Keys
	DimChannel = "Channel"
	DimResult  = "Result"
	DimReason  = "Reason"

	// Metric Namespace
	MetricNamespace = "Herald"
)
