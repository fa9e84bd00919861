// Package s3store lists objects in the data bucket.
package s3store

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/hca-atlas-tracker/tracker/pkg/adapters/awserr"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

const (
	defaultPageTimeout = 30 * time.Second
	headConcurrency    = 8
)

// API is the subset of the S3 client the lister uses.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

// Lister enumerates objects under a prefix.
type Lister struct {
	api         API
	pageTimeout time.Duration
}

// NewLister creates a Lister. A zero pageTimeout uses 30s.
func NewLister(api API, pageTimeout time.Duration) *Lister {
	if pageTimeout <= 0 {
		pageTimeout = defaultPageTimeout
	}
	return &Lister{api: api, pageTimeout: pageTimeout}
}

// ListObjects returns every object under prefix. All pages are drained
// before returning; each page request is bounded by the page timeout.
// Version ids are resolved with HeadObject and left empty for unversioned
// buckets. Objects deleted between the listing and the head request are dropped.
func (l *Lister) ListObjects(ctx context.Context, bucket, prefix string) ([]models.StorageObject, error) {
	paginator := s3.NewListObjectsV2Paginator(l.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var objects []models.StorageObject
	for paginator.HasMorePages() {
		page, err := l.nextPage(ctx, paginator)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, models.StorageObject{
				Bucket: bucket,
				Key:    key,
				ETag:   NormalizeETag(aws.ToString(obj.ETag)),
				Size:   aws.ToInt64(obj.Size),
			})
		}
	}

	return l.resolveVersions(ctx, objects)
}

func (l *Lister) nextPage(ctx context.Context, paginator *s3.ListObjectsV2Paginator) (*s3.ListObjectsV2Output, error) {
	pageCtx, cancel := context.WithTimeout(ctx, l.pageTimeout)
	defer cancel()

	page, err := paginator.NextPage(pageCtx)
	if err != nil {
		return nil, awserr.Wrap("s3:ListObjectsV2", err)
	}
	return page, nil
}

func (l *Lister) resolveVersions(ctx context.Context, objects []models.StorageObject) ([]models.StorageObject, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)
	gone := make([]bool, len(objects))

	for i := range objects {
		g.Go(func() error {
			headCtx, cancel := context.WithTimeout(gctx, l.pageTimeout)
			defer cancel()

			out, err := l.api.HeadObject(headCtx, &s3.HeadObjectInput{
				Bucket: aws.String(objects[i].Bucket),
				Key:    aws.String(objects[i].Key),
			})
			if awserr.IsNotFound(err) {
				gone[i] = true
				return nil
			}
			if err != nil {
				return awserr.Wrap("s3:HeadObject", err)
			}
			objects[i].VersionID = aws.ToString(out.VersionId)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	present := objects[:0]
	for i, obj := range objects {
		if !gone[i] {
			present = append(present, obj)
		}
	}
	return present, nil
}

// NormalizeETag strips the quotes S3 puts around entity tags.
func NormalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}
