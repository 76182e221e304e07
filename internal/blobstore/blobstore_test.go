package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/copperd/copper/internal/breaker"
)

// fakeS3 is a hand-written stand-in for the handful of *s3.S3 methods
// blobstore drives. No localstack/S3-testcontainers pattern exists anywhere
// in the reference pack to ground a real-backend integration test on, so
// this narrow interface seam is exercised directly instead.
type fakeS3 struct {
	uploadID      string
	parts         []*s3.UploadPartInput
	completed     bool
	aborted       bool
	deletedKey    string
	headErr       error
	completeErr   error
	uploadPartErr error
}

func (f *fakeS3) CreateMultipartUploadWithContext(ctx aws.Context, in *s3.CreateMultipartUploadInput, _ ...request.Option) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(f.uploadID)}, nil
}

func (f *fakeS3) UploadPartWithContext(ctx aws.Context, in *s3.UploadPartInput, _ ...request.Option) (*s3.UploadPartOutput, error) {
	if f.uploadPartErr != nil {
		return nil, f.uploadPartErr
	}
	f.parts = append(f.parts, in)
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CompleteMultipartUploadWithContext(ctx aws.Context, in *s3.CompleteMultipartUploadInput, _ ...request.Option) (*s3.CompleteMultipartUploadOutput, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	f.completed = true
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUploadWithContext(ctx aws.Context, in *s3.AbortMultipartUploadInput, _ ...request.Option) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted = true
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.deletedKey = aws.StringValue(in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucketWithContext(ctx aws.Context, in *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func newTestStore(f *fakeS3) *Store {
	return &Store{
		jobs:   make(map[string]*job),
		client: f,
		cfg: Config{
			Bucket: "test-bucket", PartSizeLimit: 5 * 1024 * 1024,
			PendingExpiry: time.Hour, CompletedExpiry: time.Hour,
		},
		breaker: breaker.New(time.Minute, 30*time.Second, 0.5, 20),
	}
}

func TestNewJobAllocatesPendingSession(t *testing.T) {
	s := newTestStore(&fakeS3{uploadID: "upload-1"})

	jobID, limit, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	require.Equal(t, 5*1024*1024, limit)
	require.Equal(t, StatePending, s.jobs[jobID].state)
}

func TestUploadPartRejectsWrongOwner(t *testing.T) {
	s := newTestStore(&fakeS3{uploadID: "upload-1"})
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)

	_, err = s.UploadPart(context.Background(), 99, jobID, 1, []byte("data"))
	require.ErrorIs(t, err, ErrNotMyUpload)
}

func TestUploadPartRejectsUnknownJob(t *testing.T) {
	s := newTestStore(&fakeS3{uploadID: "upload-1"})
	_, err := s.UploadPart(context.Background(), 7, "does-not-exist", 1, []byte("data"))
	require.ErrorIs(t, err, ErrBadUpload)
}

func TestFinishJobCompletesAndIsIdempotent(t *testing.T) {
	f := &fakeS3{uploadID: "upload-1"}
	s := newTestStore(f)
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)

	_, err = s.UploadPart(context.Background(), 7, jobID, 1, []byte("part-one"))
	require.NoError(t, err)

	require.NoError(t, s.FinishJob(context.Background(), 7, jobID))
	require.True(t, f.completed)
	require.Equal(t, StateCompleted, s.jobs[jobID].state)

	f.completed = false
	require.NoError(t, s.FinishJob(context.Background(), 7, jobID))
	require.False(t, f.completed, "second FinishJob call must be a no-op, not re-complete the upload")
}

func TestFinishJobRejectsWrongOwner(t *testing.T) {
	s := newTestStore(&fakeS3{uploadID: "upload-1"})
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)

	err = s.FinishJob(context.Background(), 99, jobID)
	require.ErrorIs(t, err, ErrNotMyUpload)
}

func TestBindRequiresCompletedState(t *testing.T) {
	s := newTestStore(&fakeS3{uploadID: "upload-1"})
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)

	_, err = s.Bind(context.Background(), 7, jobID)
	require.ErrorIs(t, err, ErrBadUpload, "Bind before FinishJob must fail")
}

func TestBindMovesCompletedToBoundAndIsNotRepeatable(t *testing.T) {
	s := newTestStore(&fakeS3{uploadID: "upload-1"})
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)
	require.NoError(t, s.FinishJob(context.Background(), 7, jobID))

	src, err := s.Bind(context.Background(), 7, jobID)
	require.NoError(t, err)
	require.Equal(t, "test-bucket", src.Bucket)
	require.Equal(t, StateBound, s.jobs[jobID].state)

	_, err = s.Bind(context.Background(), 7, jobID)
	require.ErrorIs(t, err, ErrBadUpload, "a second Bind on an already-Bound session must fail")
}

func TestSweepExpiredAbortsOverduePendingUploads(t *testing.T) {
	f := &fakeS3{uploadID: "upload-1"}
	s := newTestStore(f)
	s.cfg.PendingExpiry = 0
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)
	s.jobs[jobID].createdAt = time.Now().Add(-time.Hour)

	require.NoError(t, s.SweepExpired(context.Background()))
	require.True(t, f.aborted)
	require.Equal(t, StateExpired, s.jobs[jobID].state)
}

func TestUploadPartOpensBreakerAfterRepeatedFailures(t *testing.T) {
	f := &fakeS3{uploadID: "upload-1", uploadPartErr: context.DeadlineExceeded}
	s := newTestStore(f)
	s.breaker = breaker.New(time.Minute, time.Hour, 0.5, 2)
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)

	_, err = s.UploadPart(context.Background(), 7, jobID, 1, []byte("a"))
	require.Error(t, err)
	_, err = s.UploadPart(context.Background(), 7, jobID, 2, []byte("b"))
	require.Error(t, err)

	_, err = s.UploadPart(context.Background(), 7, jobID, 3, []byte("c"))
	require.ErrorIs(t, err, ErrBreakerOpen, "the breaker should trip open after enough failures and stop calling S3 at all")
}

func TestSweepExpiredDeletesOverdueCompletedObjects(t *testing.T) {
	f := &fakeS3{uploadID: "upload-1"}
	s := newTestStore(f)
	s.cfg.CompletedExpiry = 0
	jobID, _, err := s.NewJob(context.Background(), 7, "audio/flac")
	require.NoError(t, err)
	require.NoError(t, s.FinishJob(context.Background(), 7, jobID))
	s.jobs[jobID].completedAt = time.Now().Add(-time.Hour)

	require.NoError(t, s.SweepExpired(context.Background()))
	require.Equal(t, s.jobs[jobID].key, f.deletedKey)
	require.Equal(t, StateExpired, s.jobs[jobID].state)
}
