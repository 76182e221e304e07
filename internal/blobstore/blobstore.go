// Package blobstore implements the multipart upload session state machine
// (spec C7) that lands Bytes inputs in object storage ahead of a job run:
// Pending -> Completed -> Bound | Expired. Grounded on the teacher's
// internal/long-term-archives/s3_exporter.go for AWS session/S3 client setup
// (including custom-endpoint support for MinIO/LocalStack) and original
// copperd/bin/edged/src/uploader's NewUploadError/UploadFragmentError/
// UploadFinishError/UploadAssignError taxonomy, collapsed here into BadUpload
// and NotMyUpload per spec.md §4.5. S3 calls are guarded by the teacher's
// internal/breaker.CircuitBreaker, and UploadPart additionally passes
// through a redisclient.RateLimiter per session, so one runaway job cannot
// monopolize the object store.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/copperd/copper/internal/breaker"
	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
	"github.com/copperd/copper/internal/redisclient"
)

// ErrThrottled is returned by UploadPart when the rate limiter rejects the
// part.
var ErrThrottled = fmt.Errorf("blobstore: upload part rate limited")

// ErrBreakerOpen is returned when the S3 circuit breaker is open and the
// call was not attempted.
var ErrBreakerOpen = fmt.Errorf("blobstore: circuit breaker open")

// State is one of an upload session's four lifecycle states.
type State string

const (
	StatePending   State = "Pending"
	StateCompleted State = "Completed"
	StateBound     State = "Bound"
	StateExpired   State = "Expired"
)

// ErrBadUpload reports that job_id does not name a session, or not one in
// the state the requested operation needs.
var ErrBadUpload = fmt.Errorf("blobstore: bad upload")

// ErrNotMyUpload reports that the session exists but is owned by a
// different user.
var ErrNotMyUpload = fmt.Errorf("blobstore: upload belongs to a different owner")

// Config is the AWS and lifecycle configuration blobstore needs.
type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // non-empty to target MinIO/LocalStack instead of AWS
	KeyPrefix       string

	// PartSizeLimit is the maximum size in bytes of one uploaded part,
	// returned to the caller of NewJob as request_body_limit.
	PartSizeLimit int

	// PendingExpiry is how long a session may sit in Pending before the
	// sweep aborts its multipart upload and marks it Expired.
	PendingExpiry time.Duration
	// CompletedExpiry is how long a session may sit in Completed,
	// unbound, before the sweep deletes its object and marks it Expired.
	CompletedExpiry time.Duration
}

// s3API is the subset of the S3 client blobstore drives. Narrowed to an
// interface so tests can substitute a fake without standing up real AWS
// infrastructure.
type s3API interface {
	CreateMultipartUploadWithContext(ctx aws.Context, in *s3.CreateMultipartUploadInput, opts ...request.Option) (*s3.CreateMultipartUploadOutput, error)
	UploadPartWithContext(ctx aws.Context, in *s3.UploadPartInput, opts ...request.Option) (*s3.UploadPartOutput, error)
	CompleteMultipartUploadWithContext(ctx aws.Context, in *s3.CompleteMultipartUploadInput, opts ...request.Option) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUploadWithContext(ctx aws.Context, in *s3.AbortMultipartUploadInput, opts ...request.Option) (*s3.AbortMultipartUploadOutput, error)
	DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error)
	HeadBucketWithContext(ctx aws.Context, in *s3.HeadBucketInput, opts ...request.Option) (*s3.HeadBucketOutput, error)
	GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

type job struct {
	id          string
	ownerID     int64
	mime        string
	state       State
	bucket      string
	key         string
	uploadID    string
	parts       []*s3.CompletedPart
	createdAt   time.Time
	completedAt time.Time
}

// Store holds all in-flight upload sessions and drives their S3-backed
// multipart uploads. Per-session transitions are serialized by mu; distinct
// sessions' UploadPart calls proceed independently (spec.md §4.5
// concurrency note).
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*job
	client  s3API
	cfg     Config
	logger  *zap.Logger
	breaker *breaker.CircuitBreaker
	limiter *redisclient.RateLimiter
}

// New constructs a Store and verifies bucket access, the same startup check
// the teacher's S3Exporter performs. cb guards every S3 call against a
// failing object store; limiter, if non-nil, additionally throttles
// UploadPart per session.
func New(cfg Config, logger *zap.Logger, cb *breaker.CircuitBreaker, limiter *redisclient.RateLimiter) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cb == nil {
		cb = breaker.New(time.Minute, 30*time.Second, 0.5, 20)
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("blobstore: creating AWS session: %w", err)
	}
	client := s3.New(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("blobstore: accessing bucket %s: %w", cfg.Bucket, err)
	}

	return &Store{jobs: make(map[string]*job), client: client, cfg: cfg, logger: logger, breaker: cb, limiter: limiter}, nil
}

// callS3 runs fn if the breaker allows it, recording the outcome back into
// the breaker so a string of failures opens the circuit and starts
// rejecting calls outright instead of letting every uploader hammer a
// failing object store.
func (s *Store) callS3(fn func() error) error {
	if !s.breaker.Allow() {
		return ErrBreakerOpen
	}
	err := fn()
	s.breaker.Record(err == nil)
	return err
}

func (s *Store) objectKey(jobID string) string {
	if s.cfg.KeyPrefix == "" {
		return jobID
	}
	return s.cfg.KeyPrefix + "/" + jobID
}

// NewJob allocates a fresh S3 multipart upload owned by ownerID and returns
// its session id and the per-part size limit.
func (s *Store) NewJob(ctx context.Context, ownerID int64, mime string) (jobID string, partSizeLimit int, err error) {
	jobID = uuid.NewString()
	key := s.objectKey(jobID)

	var out *s3.CreateMultipartUploadOutput
	err = s.callS3(func() error {
		var innerErr error
		out, innerErr = s.client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			ContentType: aws.String(mime),
		})
		return innerErr
	})
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: creating multipart upload: %w", err)
	}

	s.mu.Lock()
	s.jobs[jobID] = &job{
		id: jobID, ownerID: ownerID, mime: mime, state: StatePending,
		bucket: s.cfg.Bucket, key: key, uploadID: aws.StringValue(out.UploadId),
		createdAt: time.Now(),
	}
	s.mu.Unlock()

	return jobID, s.cfg.PartSizeLimit, nil
}

func (s *Store) lookup(ownerID int64, jobID string) (*job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrBadUpload
	}
	if j.ownerID != ownerID {
		return nil, ErrNotMyUpload
	}
	return j, nil
}

// UploadPart uploads one part of a Pending session and returns its ETag.
func (s *Store) UploadPart(ctx context.Context, ownerID int64, jobID string, partNumber int64, data []byte) (etag string, err error) {
	s.mu.Lock()
	j, err := s.lookup(ownerID, jobID)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	if j.state != StatePending {
		s.mu.Unlock()
		return "", ErrBadUpload
	}
	bucket, key, uploadID := j.bucket, j.key, j.uploadID
	s.mu.Unlock()

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("blobstore: checking rate limit: %w", err)
		}
		if !allowed {
			return "", ErrThrottled
		}
	}

	var out *s3.UploadPartOutput
	err = s.callS3(func() error {
		var innerErr error
		out, innerErr = s.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int64(partNumber),
			Body:       bytes.NewReader(data),
		})
		return innerErr
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: uploading part %d: %w", partNumber, err)
	}
	etag = aws.StringValue(out.ETag)

	s.mu.Lock()
	j.parts = append(j.parts, &s3.CompletedPart{ETag: out.ETag, PartNumber: aws.Int64(partNumber)})
	s.mu.Unlock()

	return etag, nil
}

// FinishJob completes a Pending session's multipart upload, moving it to
// Completed. It is idempotent: calling it again on an already-Completed
// session is a no-op.
func (s *Store) FinishJob(ctx context.Context, ownerID int64, jobID string) error {
	s.mu.Lock()
	j, err := s.lookup(ownerID, jobID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if j.state == StateCompleted {
		s.mu.Unlock()
		return nil
	}
	if j.state != StatePending {
		s.mu.Unlock()
		return ErrBadUpload
	}
	parts := append([]*s3.CompletedPart(nil), j.parts...)
	bucket, key, uploadID := j.bucket, j.key, j.uploadID
	s.mu.Unlock()

	sort.Slice(parts, func(a, b int) bool { return *parts[a].PartNumber < *parts[b].PartNumber })

	err = s.callS3(func() error {
		_, innerErr := s.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{Parts: parts},
		})
		return innerErr
	})
	if err != nil {
		return fmt.Errorf("blobstore: completing upload: %w", err)
	}

	s.mu.Lock()
	j.state = StateCompleted
	j.completedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Bind moves a Completed session to Bound and returns the BytesSource handle
// the target pipeline job reads from. Only the first caller succeeds in the
// sense that matters to spec.md: once Bound, a session is no longer
// Completed, so a second Bind call returns ErrBadUpload.
func (s *Store) Bind(ctx context.Context, ownerID int64, jobID string) (pipedata.BytesSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.lookup(ownerID, jobID)
	if err != nil {
		return pipedata.BytesSource{}, err
	}
	if j.state != StateCompleted {
		return pipedata.BytesSource{}, ErrBadUpload
	}
	j.state = StateBound
	return pipedata.NewS3Source(j.bucket, j.key), nil
}

// OpenObject implements dispatch.ObjectReader so a node's Bytes input can
// stream a Blob-sourced object straight out of S3 without blobstore's
// upload-session bookkeeping getting involved.
func (s *Store) OpenObject(ctx context.Context, bucket, key string) (dispatch.ReadCloser, error) {
	var out *s3.GetObjectOutput
	err := s.callS3(func() error {
		var innerErr error
		out, innerErr = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: opening object %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// SweepExpired moves overdue Pending and Completed sessions to Expired,
// aborting or deleting their S3-side state accordingly. StartExpirySweep runs
// it on a cron schedule.
func (s *Store) SweepExpired(ctx context.Context) error {
	now := time.Now()

	s.mu.Lock()
	var toAbort, toDelete []*job
	for _, j := range s.jobs {
		switch j.state {
		case StatePending:
			if now.Sub(j.createdAt) > s.cfg.PendingExpiry {
				toAbort = append(toAbort, j)
			}
		case StateCompleted:
			if now.Sub(j.completedAt) > s.cfg.CompletedExpiry {
				toDelete = append(toDelete, j)
			}
		}
	}
	s.mu.Unlock()

	var firstErr error
	for _, j := range toAbort {
		err := s.callS3(func() error {
			_, innerErr := s.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
				Bucket: aws.String(j.bucket), Key: aws.String(j.key), UploadId: aws.String(j.uploadID),
			})
			return innerErr
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("blobstore: aborting expired upload %s: %w", j.id, err)
		}
		s.markExpired(j.id)
	}
	for _, j := range toDelete {
		err := s.callS3(func() error {
			_, innerErr := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(j.bucket), Key: aws.String(j.key),
			})
			return innerErr
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("blobstore: deleting expired object %s: %w", j.id, err)
		}
		s.markExpired(j.id)
	}
	if firstErr != nil {
		s.logger.Warn("blobstore: sweep encountered errors", zap.Error(firstErr))
	}
	return firstErr
}

func (s *Store) markExpired(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.state = StateExpired
	}
}

// StartExpirySweep runs SweepExpired on the given cron schedule (e.g.
// "@every 1m") until ctx is cancelled, the same cron.New/AddFunc/Start
// wiring the pack's scheduler services use for recurring background work.
func (s *Store) StartExpirySweep(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := s.SweepExpired(ctx); err != nil {
			s.logger.Warn("blobstore: expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("blobstore: scheduling expiry sweep: %w", err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}
