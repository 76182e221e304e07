// Package wire implements the JSON shapes crossing the edged/pipelined
// process boundary (spec C9): job submission, the multipart upload
// protocol's request/response bodies, and job-state encoding. Grounded on
// original copperd/bin/edged/src/api/storage/{start_upload.rs,finish_upload.rs}
// for the upload shapes and copperd/lib/jobqueue/src/postgres for the
// submission envelope.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/copperd/copper/internal/jobqueue"
	"github.com/copperd/copper/internal/pipedata"
)

// SubmitJobRequest is the body of a job submission: a pipeline document
// plus the concrete values bound to its Job input nodes.
type SubmitJobRequest struct {
	Pipeline json.RawMessage              `json:"pipeline"`
	Input    map[string]pipedata.PipeData `json:"input"`
}

// SubmitJobResponse acknowledges a successful enqueue.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

// StartUploadRequest asks for a fresh multipart upload session.
type StartUploadRequest struct {
	Mime string `json:"mime"`
}

// StartUploadResponse hands back the session id and the per-part size the
// caller must not exceed.
type StartUploadResponse struct {
	JobID            string `json:"job_id"`
	RequestBodyLimit int    `json:"request_body_limit"`
}

// UploadPartResponse acknowledges one uploaded part.
type UploadPartResponse struct {
	ETag string `json:"etag"`
}

// JobStateResponse is the wire encoding of a queued job's current state
// (spec §6: "Queued | Running | Success | Failed | { BuildError: { message } }").
type JobStateResponse struct {
	JobID      string             `json:"job_id"`
	State      jobqueue.State     `json:"state"`
	BuildError *BuildErrorPayload `json:"build_error,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// BuildErrorPayload is the user-visible detail attached to a BuildError
// terminal state.
type BuildErrorPayload struct {
	Message string `json:"message"`
}

// JobState translates a queued job into its wire response, splitting the
// BuildError state's message into its own nested object per spec.md §6
// rather than leaving callers to parse Message by convention.
func JobState(job *jobqueue.QueuedJob) JobStateResponse {
	resp := JobStateResponse{JobID: job.ID, State: job.State}
	if job.State == jobqueue.BuildError {
		resp.BuildError = &BuildErrorPayload{Message: job.Message}
		return resp
	}
	resp.Message = job.Message
	return resp
}

// ErrorResponse is the body returned alongside every mapped non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errResp(code, format string, args ...any) ErrorResponse {
	return ErrorResponse{Code: code, Message: fmt.Sprintf(format, args...)}
}
