package domain

// Remote job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// ContentTypeJSON is the content type of dispatch messages
const ContentTypeJSON = "application/json"
