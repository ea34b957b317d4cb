// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func init() {
	Register(types.StorageTypeS3, func(cfg types.BackendConfig) (Store, error) {
		return NewS3(context.Background(), cfg)
	})
}

// S3 implements Store for S3-compatible storage
type S3 struct {
	client     *s3.Client
	httpClient *awshttp.BuildableClient
	bucket     string
	limits     types.Limits
}

// NewS3 creates an S3 store. Options "timeout" (a duration) and
// "max_idle_conns" tune the shared HTTP transport; "path_style" forces
// path-style addressing without a custom endpoint.
func NewS3(ctx context.Context, cfg types.BackendConfig) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required for S3 store")
	}

	timeout := 5 * time.Minute
	if v, ok := cfg.Options["timeout"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout option: %w", err)
		}
		timeout = d
	}
	maxIdle := 100
	if v, ok := cfg.Options["max_idle_conns"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid max_idle_conns option: %w", err)
		}
		maxIdle = n
	}

	// A buildable client lets the SDK layer AWS_CA_BUNDLE onto the transport.
	httpClient := awshttp.NewBuildableClient().
		WithTimeout(timeout).
		WithTransportOptions(func(t *http.Transport) {
			t.MaxIdleConns = maxIdle
			t.MaxIdleConnsPerHost = max(maxIdle/10, 2)
			t.IdleConnTimeout = 90 * time.Second
		})

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	pathStyle := cfg.Options["path_style"] == "true"
	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	logger.Debug().
		Str("endpoint", cfg.Endpoint).
		Str("region", cfg.Region).
		Str("bucket", cfg.Bucket).
		Msg("Created S3 client")

	return &S3{
		client:     s3.NewFromConfig(awsCfg, s3Opts...),
		httpClient: httpClient,
		bucket:     cfg.Bucket,
		limits:     cfg.LimitsOr(types.S3Limits()),
	}, nil
}

func (s *S3) Type() types.StorageType {
	return types.StorageTypeS3
}

func (s *S3) Limits() types.Limits {
	return s.limits
}

func (s *S3) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.mapError(key, "get object", err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if out.ContentLength != nil && *out.ContentLength > 0 {
		buf.Grow(int(*out.ContentLength))
	}
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return &Object{Data: buf.Bytes(), Metadata: out.Metadata}, nil
}

func (s *S3) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return types.ObjectInfo{}, s.mapError(key, "head object", err)
	}
	return types.ObjectInfo{
		Key:      key,
		Size:     aws.ToInt64(out.ContentLength),
		ETag:     aws.ToString(out.ETag),
		Metadata: out.Metadata,
	}, nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3) CreateMultipart(ctx context.Context, key string, metadata map[string]string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload %s: %w", key, err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3) UploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (types.CompletedPart, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return types.CompletedPart{}, s.mapError(key, fmt.Sprintf("upload part %d", partNumber), err)
	}
	return types.CompletedPart{PartNumber: partNumber, ETag: aws.ToString(out.ETag), Size: int64(len(data))}, nil
}

func (s *S3) CompleteMultipart(ctx context.Context, key, uploadID string, parts []types.CompletedPart) error {
	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return arrayerr.IncompleteUpload(key, fmt.Sprintf("part %d listed after part %d", p.PartNumber, parts[i-1].PartNumber))
		}
		completed[i] = s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		}
	}
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return s.mapError(key, "complete multipart upload", err)
	}
	return nil
}

func (s *S3) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return s.mapError(key, "abort multipart upload", err)
	}
	return nil
}

func (s *S3) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *S3) mapError(key, op string, err error) error {
	var (
		noSuchKey    *s3types.NoSuchKey
		notFound     *s3types.NotFound
		noSuchUpload *s3types.NoSuchUpload
	)
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return arrayerr.NotFound(key, fmt.Errorf("%s: %w", op, ErrNoSuchKey))
	case errors.As(err, &noSuchUpload):
		return fmt.Errorf("%s %s: %w", op, key, ErrNoSuchUpload)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidPart", "InvalidPartOrder":
			return &arrayerr.Error{Kind: arrayerr.KindIncompleteUpload, Key: key, Message: op + ": " + apiErr.ErrorMessage(), Err: err}
		case "EntityTooSmall":
			return &arrayerr.Error{Kind: arrayerr.KindSizeLimit, Key: key, Message: op + ": " + apiErr.ErrorMessage(), Err: err}
		}
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

var _ Store = (*S3)(nil)
