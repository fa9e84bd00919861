package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
)

// Environment variable names for dataset validator dispatch. They double as
// the Variable of any ConfigurationError so operators see the name to set.
const (
	EnvValidatorJobQueue      = "AWS_BATCH_VALIDATOR_JOB_QUEUE"
	EnvValidatorJobDefinition = "AWS_BATCH_VALIDATOR_JOB_DEFINITION"
	EnvValidatorResultTopic   = "AWS_DATASET_VALIDATOR_SNS_TOPIC"
	EnvDataBucket             = "AWS_DATA_BUCKET"
	EnvResourceConfig         = "AWS_RESOURCE_CONFIG"
)

// ValidatorConfig holds dataset validator dispatch settings. None of the
// required fields have defaults: a partially configured dispatcher must refuse
// to submit rather than guess.
type ValidatorConfig struct {
	JobQueue       string `yaml:"job_queue" env:"AWS_BATCH_VALIDATOR_JOB_QUEUE"`
	JobDefinition  string `yaml:"job_definition" env:"AWS_BATCH_VALIDATOR_JOB_DEFINITION"`
	ResultTopicARN string `yaml:"result_topic_arn" env:"AWS_DATASET_VALIDATOR_SNS_TOPIC"`
	DataBucket     string `yaml:"data_bucket" env:"AWS_DATA_BUCKET"`

	// ResourceConfig is a YAML (or JSON) document listing the buckets and
	// topics the service may direct jobs to.
	ResourceConfig string `yaml:"resource_config" env:"AWS_RESOURCE_CONFIG"`

	LogLevel      string        `yaml:"log_level" env:"VALIDATOR_LOG_LEVEL" env-default:"INFO"`
	SubmitTimeout time.Duration `yaml:"submit_timeout" env:"VALIDATOR_SUBMIT_TIMEOUT" env-default:"30s"`
}

// ResourceAllowlist is the parsed AWS_RESOURCE_CONFIG document.
type ResourceAllowlist struct {
	S3Buckets []string `yaml:"s3_buckets"`
	SNSTopics []string `yaml:"sns_topics"`
}

// AllowsBucket reports whether the bucket is allowlisted.
func (a *ResourceAllowlist) AllowsBucket(bucket string) bool {
	return a != nil && slices.Contains(a.S3Buckets, bucket)
}

// AllowsTopic reports whether the SNS topic ARN is allowlisted.
func (a *ResourceAllowlist) AllowsTopic(arn string) bool {
	return a != nil && slices.Contains(a.SNSTopics, arn)
}

// ParseResourceAllowlist parses an allowlist document. JSON is accepted since
// it is a subset of YAML.
func ParseResourceAllowlist(doc string) (*ResourceAllowlist, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, &apperrors.ConfigurationError{Variable: EnvResourceConfig}
	}

	var allowlist ResourceAllowlist
	if err := yaml.Unmarshal([]byte(doc), &allowlist); err != nil {
		return nil, &apperrors.ConfigurationError{
			Variable: EnvResourceConfig,
			Reason:   fmt.Sprintf("invalid document: %v", err),
		}
	}
	return &allowlist, nil
}

// CheckBucket returns nil when bucket is allowlisted in AWS_RESOURCE_CONFIG.
// A missing or unreadable allowlist is a ConfigurationError; a bucket that is
// not listed is invalid input.
func (c *ValidatorConfig) CheckBucket(bucket string) error {
	allowlist, err := ParseResourceAllowlist(c.ResourceConfig)
	if err != nil {
		return err
	}
	if !allowlist.AllowsBucket(bucket) {
		return fmt.Errorf("%w: bucket %q is not allowlisted in %s", apperrors.ErrInvalidInput, bucket, EnvResourceConfig)
	}
	return nil
}

// Validate checks that every required dispatch setting is present and that
// the data bucket and result topic are allowlisted. Settings are checked in a
// fixed order and the first problem is returned.
func (c *ValidatorConfig) Validate() (*ResourceAllowlist, error) {
	required := []struct {
		name  string
		value string
	}{
		{EnvValidatorJobQueue, c.JobQueue},
		{EnvValidatorJobDefinition, c.JobDefinition},
		{EnvValidatorResultTopic, c.ResultTopicARN},
		{EnvDataBucket, c.DataBucket},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &apperrors.ConfigurationError{Variable: r.name}
		}
	}

	allowlist, err := ParseResourceAllowlist(c.ResourceConfig)
	if err != nil {
		return nil, err
	}

	if !allowlist.AllowsBucket(c.DataBucket) {
		return nil, &apperrors.ConfigurationError{
			Variable: EnvDataBucket,
			Reason:   fmt.Sprintf("bucket %q is not allowlisted in %s", c.DataBucket, EnvResourceConfig),
		}
	}
	if !allowlist.AllowsTopic(c.ResultTopicARN) {
		return nil, &apperrors.ConfigurationError{
			Variable: EnvValidatorResultTopic,
			Reason:   fmt.Sprintf("topic %q is not allowlisted in %s", c.ResultTopicARN, EnvResourceConfig),
		}
	}

	return allowlist, nil
}
