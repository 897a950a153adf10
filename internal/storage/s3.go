package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config параметры S3 хранилища.
type S3Config struct {
	Bucket      string
	Region      string
	Endpoint    string
	Prefix      string
	MaxUploadMB int64
}

// S3Store хранит доказательства в S3-совместимом бакете.
type S3Store struct {
	client         *s3.Client
	bucket         string
	prefix         string
	maxUploadBytes int64
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось загрузить конфигурацию AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:         client,
		bucket:         cfg.Bucket,
		prefix:         cfg.Prefix,
		maxUploadBytes: cfg.MaxUploadMB * 1024 * 1024,
	}, nil
}

func (s *S3Store) key(disputeID uuid.UUID, name string) string {
	return s.prefix + disputeID.String() + "/" + name
}

// Save загружает файл. Повторная загрузка того же содержимого не перезаписывает объект.
func (s *S3Store) Save(ctx context.Context, disputeID uuid.UUID, originalName string, r io.Reader) (*StoredObject, error) {
	data, obj, ext, err := readLimited(r, s.maxUploadBytes)
	if err != nil {
		return nil, err
	}
	obj.Key = s.key(disputeID, objectName(obj, originalName, ext))

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(obj.Key),
	}); err == nil {
		return obj, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(obj.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(obj.MimeType),
		Metadata:    map[string]string{"sha256": obj.SHA256},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 put %s: %w", obj.Key, err)
	}
	return obj, nil
}
