package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound message types
const (
	TypeCreateJob             = "hitherCreateJob"
	TypeCancelJob             = "hitherCancelJob"
	TypeSubfeedMessageRequest = "subfeedMessageRequest"
	TypeKeepAlive             = "keepAlive"
)

// Request is a decoded inbound message
type Request interface {
	RequestType() string
}

type CreateJobRequest struct {
	FunctionName string         `json:"functionName"`
	Kwargs       map[string]any `json:"kwargs"`
	ClientJobID  string         `json:"clientJobId"`
}

func (r *CreateJobRequest) RequestType() string { return TypeCreateJob }

type CancelJobRequest struct {
	JobID string `json:"job_id"`
}

func (r *CancelJobRequest) RequestType() string { return TypeCancelJob }

// SubfeedMessageRequest asks to be told when a subfeed grows past Position.
// An empty FeedURI means the session default feed.
type SubfeedMessageRequest struct {
	RequestID   string `json:"requestId"`
	FeedURI     string `json:"feedUri"`
	SubfeedName any    `json:"subfeedName"`
	Position    *int   `json:"position"`
	WaitMsec    *int   `json:"waitMsec"`
}

func (r *SubfeedMessageRequest) RequestType() string { return TypeSubfeedMessageRequest }

type KeepAliveRequest struct{}

func (r *KeepAliveRequest) RequestType() string { return TypeKeepAlive }

// DecodeRequest maps a raw inbound message onto its request type. Errors wrap
// ErrProtocolFault. When a hitherCreateJob message decodes but misses a
// required field, the partial request is returned with the error so the
// caller can still correlate a response to its clientJobId.
func DecodeRequest(raw []byte) (Request, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: invalid message: %v", ErrProtocolFault, err)
	}

	switch envelope.Type {
	case TypeCreateJob:
		var r CreateJobRequest
		if err := decodeBody(raw, &r); err != nil {
			return nil, err
		}
		switch {
		case r.FunctionName == "":
			return &r, missingField(TypeCreateJob, "functionName")
		case r.ClientJobID == "":
			return &r, missingField(TypeCreateJob, "clientJobId")
		case r.Kwargs == nil:
			return &r, missingField(TypeCreateJob, "kwargs")
		}
		return &r, nil

	case TypeCancelJob:
		var r CancelJobRequest
		if err := decodeBody(raw, &r); err != nil {
			return nil, err
		}
		if r.JobID == "" {
			return nil, missingField(TypeCancelJob, "job_id")
		}
		return &r, nil

	case TypeSubfeedMessageRequest:
		var r SubfeedMessageRequest
		if err := decodeBody(raw, &r); err != nil {
			return nil, err
		}
		switch {
		case r.RequestID == "":
			return nil, missingField(TypeSubfeedMessageRequest, "requestId")
		case r.SubfeedName == nil:
			return nil, missingField(TypeSubfeedMessageRequest, "subfeedName")
		case r.Position == nil:
			return nil, missingField(TypeSubfeedMessageRequest, "position")
		case r.WaitMsec == nil:
			return nil, missingField(TypeSubfeedMessageRequest, "waitMsec")
		}
		return &r, nil

	case TypeKeepAlive:
		return &KeepAliveRequest{}, nil

	case "":
		return nil, fmt.Errorf("%w: message has no type", ErrProtocolFault)

	default:
		return nil, fmt.Errorf("%w: unrecognized message type %q", ErrProtocolFault, envelope.Type)
	}
}

// decodeBody decodes numbers inside kwargs as json.Number so integers survive
func decodeBody(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolFault, err)
	}
	return nil
}

func missingField(msgType, field string) error {
	return fmt.Errorf("%w: %s is missing %s", ErrProtocolFault, msgType, field)
}
