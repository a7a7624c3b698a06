package dto

import "encoding/json"

type ListJobsRequest struct {
	Lane     string `form:"lane"`
	TaskName string `form:"task_name"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is a remote lane job as stored by the worker service
type JobDTO struct {
	JobID           string          `json:"job_id"`
	Lane            string          `json:"lane"`
	TaskName        string          `json:"task_name"`
	Kwargs          json.RawMessage `json:"kwargs"`
	Status          string          `json:"status"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	WorkerID        string          `json:"worker_id,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}
