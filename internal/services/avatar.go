package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"skipline-backend/internal/apperr"
	appconfig "skipline-backend/internal/config"
	"skipline-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// MaxAvatarSize is the largest accepted avatar upload
const MaxAvatarSize = 5 << 20

// ObjectUploader stores a public object and returns its URL
type ObjectUploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// S3Uploader stores objects in an S3 bucket
type S3Uploader struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Uploader creates an uploader from the AWS configuration. Static keys
// are used when set, the default credential chain otherwise.
func NewS3Uploader(ctx context.Context, cfg appconfig.AWSConfig) (*S3Uploader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.Region)
	}

	return &S3Uploader{client: client, bucket: cfg.S3Bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return u.baseURL + "/" + key, nil
}

// DisabledUploader is used when no bucket is configured, every upload fails
type DisabledUploader struct{}

func (DisabledUploader) Upload(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("avatar storage is not configured")
}

// AvatarService stores profile pictures
type AvatarService struct {
	profiles ProfileStore
	uploader ObjectUploader
	now      func() time.Time
}

// NewAvatarService creates a new avatar service
func NewAvatarService(profiles ProfileStore, uploader ObjectUploader) *AvatarService {
	return &AvatarService{profiles: profiles, uploader: uploader, now: time.Now}
}

// Upload validates an image, stores it and attaches its URL to the caller's
// profile
func (s *AvatarService) Upload(ctx context.Context, principal models.Principal, r io.Reader) (string, error) {
	if !principal.Authenticated() {
		return "", apperr.ErrUnauthorized
	}

	body, err := io.ReadAll(io.LimitReader(r, MaxAvatarSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(body) > MaxAvatarSize {
		return "", apperr.ErrFileTooLarge
	}
	if len(body) == 0 {
		return "", apperr.ErrNotAnImage
	}

	mtype := mimetype.Detect(body)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", apperr.ErrNotAnImage.WithMessage("file must be an image, got %s", mtype.String())
	}

	key := fmt.Sprintf("avatars/%s_%d%s", principal.UserID, s.now().UnixMilli(), mtype.Extension())
	url, err := s.uploader.Upload(ctx, key, mtype.String(), body)
	if err != nil {
		return "", err
	}
	if err := s.profiles.UpdateAvatar(ctx, principal.UserID, url); err != nil {
		return "", err
	}

	log.Info().Str("user_id", principal.UserID).Str("key", key).Msg("Avatar uploaded")
	return url, nil
}
