// Package storage archives finished summaries to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/models"
)

// Archive stores summaries as JSON objects
type Archive struct {
	s3Client *s3.Client
	bucket   string
}

// NewArchive creates an S3 archive. endpoint is optional (MinIO, R2, LocalStack).
func NewArchive(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*Archive, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" {
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	if endpoint != "" {
		configOpts = append(configOpts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing and checksums only when required keep S3-compatible backends working.
	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	log.Info().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Msg("S3 archive initialized")

	return &Archive{s3Client: s3Client, bucket: bucket}, nil
}

// ObjectKey is where a summary is archived: summaries/<kind>/<target>/<yyyy>/<mm>/<id>.json.
func ObjectKey(s *models.Summary) string {
	created := s.CreatedAt.UTC()
	return path.Join("summaries", s.Kind, s.TargetID,
		fmt.Sprintf("%04d", created.Year()), fmt.Sprintf("%02d", int(created.Month())),
		s.ID.String()+".json")
}

// Put writes the summary as JSON and returns its object key.
func (a *Archive) Put(ctx context.Context, s *models.Summary) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	key := ObjectKey(s)

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().
		Str("bucket", a.bucket).
		Str("key", key).
		Msg("Summary archived to S3")

	return key, nil
}

// Get reads an archived summary back.
func (a *Archive) Get(ctx context.Context, key string) (*models.Summary, error) {
	out, err := a.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer out.Body.Close()

	var s models.Summary
	if err := json.NewDecoder(out.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode archived summary: %w", err)
	}
	return &s, nil
}

// PresignedURL returns a time-limited download URL for an archived summary.
func (a *Archive) PresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(a.s3Client)

	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}
