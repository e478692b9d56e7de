package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var ErrEmptyImage = errors.New("storage: empty image")

// S3API is the subset of the S3 client used by ImageStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ImageStore keeps postcard photos in S3. A nil or bucket-less store is
// disabled.
type ImageStore struct {
	bucket        string
	publicBaseURL string
	s3Client      S3API
	logger        *slog.Logger
}

func NewImageStore(s3Client S3API, bucket, publicBaseURL string, logger *slog.Logger) *ImageStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageStore{
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		s3Client:      s3Client,
		logger:        logger,
	}
}

func (s *ImageStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Upload stores the image under postcards/<uuid><ext> and returns the
// reference kept on the postcard record.
func (s *ImageStore) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if !s.Enabled() {
		return "", errors.New("storage: image uploads are not configured")
	}
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	key := "postcards/" + uuid.NewString() + extension(contentType)

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: s3 put %s: %w", key, err)
	}

	s.logger.Info("uploaded postcard image", "s3_key", key, "bytes", len(data))

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/heic":
		return ".heic"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
