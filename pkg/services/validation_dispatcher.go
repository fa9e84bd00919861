package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hca-atlas-tracker/tracker/pkg/adapters/awsbatch"
	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/config"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

const defaultSubmitTimeout = 30 * time.Second

// Container environment variables read by the dataset validator image.
const (
	jobEnvFileID      = "FILE_ID"
	jobEnvS3Bucket    = "S3_BUCKET"
	jobEnvS3Key       = "S3_KEY"
	jobEnvSNSTopicARN = "SNS_TOPIC_ARN"
	jobEnvLogLevel    = "LOG_LEVEL"
)

// JobSubmitter submits a batch job. Implemented by *awsbatch.Submitter.
type JobSubmitter interface {
	Submit(ctx context.Context, req awsbatch.JobRequest) (*models.SubmittedJob, error)
}

var _ JobSubmitter = (*awsbatch.Submitter)(nil)

// ValidationDispatcher submits dataset validation jobs. It performs no
// retries; callers classify failures with retry.IsRetryable.
type ValidationDispatcher interface {
	// SubmitDatasetValidationJob validates the object at bucket/s3Key, which
	// must be an allowlisted bucket.
	SubmitDatasetValidationJob(ctx context.Context, fileID uuid.UUID, bucket, s3Key string) (*models.SubmittedJob, error)
}

type validationDispatcher struct {
	cfg       *config.ValidatorConfig
	submitter JobSubmitter
	logger    *zap.Logger
}

func NewValidationDispatcher(cfg *config.ValidatorConfig, submitter JobSubmitter, logger *zap.Logger) ValidationDispatcher {
	return &validationDispatcher{
		cfg:       cfg,
		submitter: submitter,
		logger:    logger.Named("validation-dispatcher"),
	}
}

var _ ValidationDispatcher = (*validationDispatcher)(nil)

func (d *validationDispatcher) SubmitDatasetValidationJob(ctx context.Context, fileID uuid.UUID, bucket, s3Key string) (*models.SubmittedJob, error) {
	// Configuration is checked on every call so an operator fix takes effect
	// without a restart and nothing reaches AWS while it is broken.
	allowlist, err := d.cfg.Validate()
	if err != nil {
		d.logger.Error("Validator is misconfigured", zap.Error(err))
		return nil, err
	}
	if strings.TrimSpace(s3Key) == "" {
		return nil, &apperrors.MalformedKeyError{Key: s3Key, Reason: "empty key"}
	}
	if !allowlist.AllowsBucket(bucket) {
		d.logger.Warn("Refusing to validate object outside allowlisted buckets",
			zap.String("file_id", fileID.String()),
			zap.String("bucket", bucket))
		return nil, &apperrors.ConfigurationError{
			Variable: config.EnvResourceConfig,
			Reason:   fmt.Sprintf("bucket %q is not allowlisted", bucket),
		}
	}

	logLevel := d.cfg.LogLevel
	if logLevel == "" {
		logLevel = "INFO"
	}

	req := awsbatch.JobRequest{
		Name:       fmt.Sprintf("dataset-validation-%s", fileID),
		Queue:      d.cfg.JobQueue,
		Definition: d.cfg.JobDefinition,
		Environment: map[string]string{
			jobEnvFileID:      fileID.String(),
			jobEnvS3Bucket:    bucket,
			jobEnvS3Key:       s3Key,
			jobEnvSNSTopicARN: d.cfg.ResultTopicARN,
			jobEnvLogLevel:    logLevel,
		},
	}

	timeout := d.cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	submitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	job, err := d.submitter.Submit(submitCtx, req)
	if err != nil {
		d.logger.Error("Failed to submit validation job",
			zap.String("file_id", fileID.String()),
			zap.String("queue", req.Queue),
			zap.Error(err))
		return nil, err
	}

	d.logger.Info("Submitted validation job",
		zap.String("file_id", fileID.String()),
		zap.String("job_id", job.JobID),
		zap.String("job_name", job.JobName))
	return job, nil
}
