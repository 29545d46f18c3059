// Package s3blob provides an S3-compatible blob store for model artifacts and datasets.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// API is the subset of *s3.Client used by Store.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Config selects the S3 endpoint. Zero values use the AWS defaults from the environment.
type Config struct {
	Region string `yaml:"region" split_words:"true"`
	// Endpoint is set for S3-compatible services such as MinIO.
	Endpoint     string `yaml:"endpoint" split_words:"true"`
	UsePathStyle bool   `yaml:"use_path_style" split_words:"true"`
}

// Store is a blob store on AWS S3 (or S3-compatible endpoints).
type Store struct {
	client API
	bucket string
	prefix string
}

// New creates a Store that uses the given S3 client, bucket, and key prefix.
func New(client API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// NewFromConfig creates a Store using the default AWS credential chain.
func NewFromConfig(ctx context.Context, bucket, prefix string, c Config) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})
	return New(client, bucket, prefix), nil
}

func (s *Store) fullKey(key string) string {
	return s.prefix + key
}

// Open streams the object at key. A missing key matches fs.ErrNotExist.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3blob: s3://%s/%s: %w", s.bucket, s.fullKey(key), fs.ErrNotExist)
		}
		return nil, fmt.Errorf("s3blob: get s3://%s/%s: %w", s.bucket, s.fullKey(key), err)
	}
	return out.Body, nil
}

// Get returns the object at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Put writes body at key.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put s3://%s/%s: %w", s.bucket, s.fullKey(key), err)
	}
	return nil
}

// List returns the keys under prefix, with the store prefix stripped.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list s3://%s/%s: %w", s.bucket, s.fullKey(prefix), err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
		}
	}
	return keys, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3blob: delete s3://%s/%s: %w", s.bucket, s.fullKey(key), err)
	}
	return nil
}
