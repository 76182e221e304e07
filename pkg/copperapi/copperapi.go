// Package copperapi holds the small set of types an edged client and a
// pipelined client both need: the job submission envelope and state
// responses, re-exported from internal/wire so external callers of the
// daemons' thin HTTP shim don't need to import an internal package.
package copperapi

import (
	"github.com/copperd/copper/internal/wire"
)

// SubmitJobRequest is the body a caller POSTs to enqueue a job.
type SubmitJobRequest = wire.SubmitJobRequest

// SubmitJobResponse acknowledges a successful enqueue.
type SubmitJobResponse = wire.SubmitJobResponse

// StartUploadRequest asks edged for a fresh multipart upload session.
type StartUploadRequest = wire.StartUploadRequest

// StartUploadResponse hands back the new session's id and part size limit.
type StartUploadResponse = wire.StartUploadResponse

// UploadPartResponse acknowledges one uploaded part.
type UploadPartResponse = wire.UploadPartResponse

// JobStateResponse reports a job's current lifecycle state.
type JobStateResponse = wire.JobStateResponse

// ErrorResponse is the body returned alongside a mapped non-2xx status.
type ErrorResponse = wire.ErrorResponse
