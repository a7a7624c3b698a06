package session

// Outbound message types
const (
	TypeReportServerInfo          = "reportServerInfo"
	TypeReportInitialLoadComplete = "reportInitialLoadComplete"
	TypeJobCreated                = "hitherJobCreated"
	TypeJobFinished               = "hitherJobFinished"
	TypeJobError                  = "hitherJobError"
	TypeSubfeedMessageResponse    = "subfeedMessageRequestResponse"
)

// Message is an outbound message delivered to subscribers
type Message interface {
	MessageType() string
}

// JobHandlerInfo is one job handler entry of LabboxConfig
type JobHandlerInfo struct {
	Type     string `json:"type"`
	Capacity int    `json:"capacity,omitempty"`
}

// LabboxConfig is the session configuration reported to clients
type LabboxConfig struct {
	ComputeResourceURI string                    `json:"compute_resource_uri,omitempty"`
	JobHandlers        map[string]JobHandlerInfo `json:"job_handlers"`
}

// ServerInfo is reported once when the session is initialized
type ServerInfo struct {
	NodeID        string       `json:"nodeId"`
	DefaultFeedID string       `json:"defaultFeedId"`
	LabboxConfig  LabboxConfig `json:"labboxConfig"`
}

// RuntimeInfo describes how a job ran
type RuntimeInfo struct {
	FunctionName string  `json:"function_name,omitempty"`
	ElapsedSec   float64 `json:"elapsed_sec,omitempty"`
}

type ReportServerInfo struct {
	Type       string     `json:"type"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

func (m *ReportServerInfo) MessageType() string { return m.Type }

// ReportInitialLoadComplete tells the client that the server info has been
// delivered and the connection is ready for requests. It is sent by the host
// right after Initialize.
type ReportInitialLoadComplete struct {
	Type string `json:"type"`
}

func NewReportInitialLoadComplete() *ReportInitialLoadComplete {
	return &ReportInitialLoadComplete{Type: TypeReportInitialLoadComplete}
}

func (m *ReportInitialLoadComplete) MessageType() string { return m.Type }

type JobCreated struct {
	Type        string `json:"type"`
	JobID       string `json:"job_id"`
	ClientJobID string `json:"client_job_id"`
}

func (m *JobCreated) MessageType() string { return m.Type }

type JobFinished struct {
	Type        string       `json:"type"`
	ClientJobID string       `json:"client_job_id"`
	JobID       string       `json:"job_id"`
	ResultSHA1  string       `json:"result_sha1"`
	RuntimeInfo *RuntimeInfo `json:"runtime_info"`
}

func (m *JobFinished) MessageType() string { return m.Type }

// JobError reports a job that failed. RuntimeInfo is nil when the job was
// never created.
type JobError struct {
	Type         string       `json:"type"`
	JobID        string       `json:"job_id"`
	ClientJobID  string       `json:"client_job_id"`
	ErrorMessage string       `json:"error_message"`
	RuntimeInfo  *RuntimeInfo `json:"runtime_info"`
}

func (m *JobError) MessageType() string { return m.Type }

type SubfeedMessageResponse struct {
	Type           string `json:"type"`
	RequestID      string `json:"requestId"`
	NumNewMessages int    `json:"numNewMessages"`
}

func (m *SubfeedMessageResponse) MessageType() string { return m.Type }

func newJobCreated(jobID, clientJobID string) *JobCreated {
	return &JobCreated{Type: TypeJobCreated, JobID: jobID, ClientJobID: clientJobID}
}

func newJobFinished(jobID, clientJobID, resultSHA1 string, info *RuntimeInfo) *JobFinished {
	return &JobFinished{
		Type:        TypeJobFinished,
		ClientJobID: clientJobID,
		JobID:       jobID,
		ResultSHA1:  resultSHA1,
		RuntimeInfo: info,
	}
}

func newJobError(jobID, clientJobID, errorMessage string, info *RuntimeInfo) *JobError {
	return &JobError{
		Type:         TypeJobError,
		JobID:        jobID,
		ClientJobID:  clientJobID,
		ErrorMessage: errorMessage,
		RuntimeInfo:  info,
	}
}

func newSubfeedMessageResponse(requestID string, n int) *SubfeedMessageResponse {
	return &SubfeedMessageResponse{Type: TypeSubfeedMessageResponse, RequestID: requestID, NumNewMessages: n}
}
