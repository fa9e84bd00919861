// Package awsbatch submits dataset validation jobs to AWS Batch.
package awsbatch

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"github.com/hca-atlas-tracker/tracker/pkg/adapters/awserr"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

// maxJobNameLength is the AWS Batch limit on job names.
const maxJobNameLength = 128

// API is the subset of the Batch client the submitter uses.
type API interface {
	SubmitJob(ctx context.Context, params *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
}

var _ API = (*batch.Client)(nil)

// JobRequest describes one job submission.
type JobRequest struct {
	Name        string
	Queue       string
	Definition  string
	Environment map[string]string
}

// Submitter submits jobs through the Batch API.
type Submitter struct {
	api API
}

// NewSubmitter creates a Submitter.
func NewSubmitter(api API) *Submitter {
	return &Submitter{api: api}
}

// Submit submits req. Environment variables are passed to the job container
// as overrides, in name order. Failures are returned as *awserr.Error.
func (s *Submitter) Submit(ctx context.Context, req JobRequest) (*models.SubmittedJob, error) {
	names := make([]string, 0, len(req.Environment))
	for name := range req.Environment {
		names = append(names, name)
	}
	slices.Sort(names)

	env := make([]types.KeyValuePair, 0, len(names))
	for _, name := range names {
		env = append(env, types.KeyValuePair{
			Name:  aws.String(name),
			Value: aws.String(req.Environment[name]),
		})
	}

	out, err := s.api.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(SanitizeJobName(req.Name)),
		JobQueue:      aws.String(req.Queue),
		JobDefinition: aws.String(req.Definition),
		ContainerOverrides: &types.ContainerOverrides{
			Environment: env,
		},
	})
	if err != nil {
		return nil, awserr.Wrap("batch:SubmitJob", err)
	}
	if out.JobId == nil {
		return nil, fmt.Errorf("batch:SubmitJob returned no job id")
	}

	return &models.SubmittedJob{
		JobID:   aws.ToString(out.JobId),
		JobName: aws.ToString(out.JobName),
	}, nil
}

// SanitizeJobName maps name onto the characters Batch accepts in job names
// (letters, digits, hyphens and underscores) and truncates it to the limit.
func SanitizeJobName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
		if b.Len() == maxJobNameLength {
			break
		}
	}
	return b.String()
}
