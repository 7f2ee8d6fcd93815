// Package avatars stores user profile images in S3-compatible object
// storage and hands back the public URL recorded on the user record.
package avatars

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hexagonlabs/roster/pkg/apperrors"
)

var tracer = otel.Tracer("github.com/hexagonlabs/roster/pkg/avatars")

// MaxAvatarBytes caps upload size
const MaxAvatarBytes = 2 << 20 // 2 MiB

var extensionByContentType = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// Config holds object storage settings
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// PublicBaseURL is prepended to object keys to build the URL stored
	// on the user record
	PublicBaseURL string
}

// objectPutter is the slice of the S3 API the store uses
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store uploads avatars to a bucket
type Store struct {
	client objectPutter
	config Config
}

// NewStore creates a store backed by S3 or an S3-compatible endpoint
// such as MinIO
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, config: cfg}, nil
}

// Put uploads a user's avatar and returns its public URL. The key is
// derived from the user ID, so a re-upload replaces the previous image.
func (s *Store) Put(ctx context.Context, userID uuid.UUID, content io.Reader, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "Avatars.Put",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.config.Bucket),
			attribute.String("content.type", contentType),
		),
	)
	defer span.End()

	ext, ok := extensionByContentType[contentType]
	if !ok {
		return "", apperrors.ValidationFailed(fmt.Sprintf("unsupported image type %q", contentType))
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxAvatarBytes+1))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read content")
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	if len(data) > MaxAvatarBytes {
		return "", apperrors.ValidationFailed("image exceeds the 2 MiB limit")
	}
	if len(data) == 0 {
		return "", apperrors.ValidationFailed("image is empty")
	}

	key := ObjectKey(userID, ext)
	span.SetAttributes(attribute.String("s3.key", key), attribute.Int("content.size", len(data)))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	span.SetStatus(codes.Ok, "avatar uploaded")
	return s.PublicURL(key), nil
}

// ObjectKey returns the bucket key for a user's avatar
func ObjectKey(userID uuid.UUID, ext string) string {
	return fmt.Sprintf("avatars/%s.%s", userID, ext)
}

// PublicURL builds the externally reachable URL for a key
func (s *Store) PublicURL(key string) string {
	base := strings.TrimSuffix(s.config.PublicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.config.Bucket, s.config.Region)
	}
	return base + "/" + key
}
