// Package storage implements the optional artifact store on S3-compatible
// object storage.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"freight-insights/internal/domain"
)

// Compile-time check.
var _ domain.ArtifactStore = (*S3Store)(nil)

// S3Config configures S3-compatible object storage. Endpoint is a bare host,
// path-style addressing is used so non-AWS providers work.
type S3Config struct {
	Endpoint  string
	Region    string
	KeyID     string
	Secret    string
	Bucket    string
	Prefix    string
	URLExpiry time.Duration
}

// S3Store uploads rendered artifacts and hands out presigned download URLs.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
}

// NewS3Store creates an S3Store from config.
func NewS3Store(cfg S3Config) *S3Store {
	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.KeyID, cfg.Secret, "",
		),
		BaseEndpoint: aws.String(fmt.Sprintf("https://%s", cfg.Endpoint)),
		UsePathStyle: true,
	})

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		expiry:  expiry,
	}
}

// Upload stores the local file under <prefix>/<yyyy-mm-dd>/<name> and
// returns a presigned GET URL for it.
func (s *S3Store) Upload(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %q: %w", localPath, err)
	}
	defer f.Close()

	key := path.Join(s.prefix, time.Now().UTC().Format("2006-01-02"), name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact to s3://%s/%s: %w", s.bucket, key, err)
	}

	result, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(s.expiry),
	)
	if err != nil {
		return "", fmt.Errorf("presign GetObject for s3://%s/%s: %w", s.bucket, key, err)
	}
	return result.URL, nil
}
