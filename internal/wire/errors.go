package wire

import (
	"errors"
	"net/http"

	"github.com/copperd/copper/internal/blobstore"
	"github.com/copperd/copper/internal/itemdb"
	"github.com/copperd/copper/internal/jobqueue"
	"github.com/copperd/copper/internal/pipeline"
	"github.com/copperd/copper/internal/runtime"
)

// MapError translates a boundary error into the HTTP status and response
// body a thin transport shim should send, per spec.md §7: "the core exposes
// typed errors; the transport shim maps them to HTTP codes (400 validation,
// 401 auth — external, 404 missing, 409 conflict, 500 internal)."
//
// Auth (401) is never produced here: it is an external concern of whatever
// sits in front of edged/pipelined, not a boundary error this package's
// callers can construct.
func MapError(err error) (status int, body ErrorResponse) {
	if err == nil {
		return http.StatusOK, ErrorResponse{}
	}

	var buildErr *pipeline.BuildError
	if errors.As(err, &buildErr) {
		return http.StatusBadRequest, errResp("build_error", "%s", buildErr.Error())
	}

	var runNodeErr *runtime.RunNodeError
	if errors.As(err, &runNodeErr) {
		return http.StatusInternalServerError, errResp("run_node_error", "%s", runNodeErr.Error())
	}

	var stuckErr *runtime.StuckTaskError
	if errors.As(err, &stuckErr) {
		return http.StatusInternalServerError, errResp("stuck_task", "%s", stuckErr.Error())
	}

	var commitErr *runtime.TransactionCommitError
	if errors.As(err, &commitErr) {
		return http.StatusInternalServerError, errResp("transaction_commit_error", "%s", commitErr.Error())
	}

	var constraintErr *itemdb.ErrConstraintViolation
	if errors.As(err, &constraintErr) {
		return http.StatusConflict, errResp("constraint_violation", "%s", constraintErr.Error())
	}

	switch {
	case errors.Is(err, blobstore.ErrBadUpload):
		return http.StatusBadRequest, errResp("bad_upload", "%s", err.Error())
	case errors.Is(err, blobstore.ErrNotMyUpload):
		return http.StatusConflict, errResp("not_my_upload", "%s", err.Error())
	case errors.Is(err, jobqueue.ErrNotRunning):
		return http.StatusConflict, errResp("not_running", "%s", err.Error())
	case errors.Is(err, jobqueue.ErrNotFound):
		return http.StatusNotFound, errResp("not_found", "%s", err.Error())
	}

	return http.StatusInternalServerError, errResp("internal", "%s", err.Error())
}
