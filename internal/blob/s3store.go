package blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/percolation-labs/p8k8/internal/platform/config"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// S3Store is a Store backed by an S3-compatible object store: native AWS S3
// when cfg.Endpoint is empty, or MinIO/Hetzner/any S3-compatible endpoint
// when it's set (path-style addressing and a custom endpoint resolver,
// same shape an operator would configure for either).
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store builds an S3Store from cfg, resolving credentials either from
// cfg's static keys or the default AWS credential chain when both are
// blank (the IAM-role-on-EC2/ECS case).
func NewS3Store(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Store{client: client, uploader: manager.NewUploader(client), bucket: cfg.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, uri string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uri),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return perrors.TransientStore("blob_put", err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, uri string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uri),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, perrors.NotFound("blob", uri)
		}
		return nil, perrors.TransientStore("blob_get", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, perrors.TransientStore("blob_get:read", err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, uri string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uri),
	})
	if err != nil {
		return perrors.TransientStore("blob_delete", err)
	}
	return nil
}
