package wire

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copperd/copper/internal/blobstore"
	"github.com/copperd/copper/internal/jobqueue"
	"github.com/copperd/copper/internal/pipeline"
)

func TestJobStateSplitsBuildErrorMessage(t *testing.T) {
	job := &jobqueue.QueuedJob{ID: "j1", State: jobqueue.BuildError, Message: "unknown node type"}
	resp := JobState(job)
	require.Equal(t, jobqueue.BuildError, resp.State)
	require.NotNil(t, resp.BuildError)
	require.Equal(t, "unknown node type", resp.BuildError.Message)
	require.Empty(t, resp.Message)
}

func TestMapErrorBuildErrorIsBadRequest(t *testing.T) {
	err := &pipeline.BuildError{Kind: pipeline.UnknownNode, Node: "n1", Message: "Foo"}
	status, body := MapError(err)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "build_error", body.Code)
}

func TestMapErrorNotMyUploadIsConflict(t *testing.T) {
	status, body := MapError(blobstore.ErrNotMyUpload)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "not_my_upload", body.Code)
}

func TestMapErrorNotFoundIs404(t *testing.T) {
	status, _ := MapError(jobqueue.ErrNotFound)
	require.Equal(t, http.StatusNotFound, status)
}
