package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/hestia/backend/internal/config"
	"github.com/hestia/backend/internal/pictures"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectGetter interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3PictureStore implements pictures.Store on an S3-compatible bucket. Each user
// owns a single object at <prefix>/<username>.
type S3PictureStore struct {
	uploader uploader
	getter   objectGetter
	bucket   string
	prefix   string
}

// NewS3PictureStore configures a client targeting the provided object store.
func NewS3PictureStore(ctx context.Context, cfg config.ObjectStoreConfig) (*S3PictureStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.LeavePartsOnError = false
	})

	return &S3PictureStore{
		uploader: up,
		getter:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3PictureStore) key(username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("s3 storage: invalid username %q", username)
	}
	if s.prefix == "" {
		return name, nil
	}
	return path.Join(s.prefix, name), nil
}

// Save uploads the picture, replacing any previous object for the user.
func (s *S3PictureStore) Save(ctx context.Context, username string, picture pictures.Picture) error {
	key, err := s.key(username)
	if err != nil {
		return err
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(picture.Data),
		ContentType: aws.String(picture.ContentType),
	})
	if err != nil {
		return fmt.Errorf("s3 storage upload %s: %w", key, err)
	}
	return nil
}

// Load downloads the user's picture. Missing objects map to pictures.ErrNotFound.
func (s *S3PictureStore) Load(ctx context.Context, username string) (pictures.Picture, error) {
	key, err := s.key(username)
	if err != nil {
		return pictures.Picture{}, err
	}

	out, err := s.getter.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingObject(err) {
			return pictures.Picture{}, pictures.ErrNotFound
		}
		return pictures.Picture{}, fmt.Errorf("s3 storage get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return pictures.Picture{}, fmt.Errorf("s3 storage read %s: %w", key, err)
	}

	return pictures.Picture{Data: data, ContentType: aws.ToString(out.ContentType)}, nil
}

func isMissingObject(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var _ pictures.Store = (*S3PictureStore)(nil)
