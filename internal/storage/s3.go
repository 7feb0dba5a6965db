package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadCredential is a presigned POST: the client posts Fields plus the file to URL.
type UploadCredential struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// S3Gateway issues upload credentials and stores attachments in a single bucket.
type S3Gateway struct {
	client        *s3.Client
	presign       *s3.PresignClient
	uploader      *manager.Uploader
	bucket        string
	publicBaseURL string
}

// NewS3Gateway loads AWS configuration; static keys take precedence over the default chain.
func NewS3Gateway(ctx context.Context, cfg Config) (*S3Gateway, error) {
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsConf, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3GatewayFromClient(s3.NewFromConfig(awsConf), cfg.Region, cfg.Bucket, cfg.PublicBaseURL), nil
}

func NewS3GatewayFromClient(client *s3.Client, region, bucket, publicBaseURL string) *S3Gateway {
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Gateway{
		client:        client,
		presign:       s3.NewPresignClient(client),
		uploader:      manager.NewUploader(client),
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// PresignUpload signs a POST policy limiting the object size to maxBytes.
func (g *S3Gateway) PresignUpload(ctx context.Context, key string, maxBytes int64, ttl time.Duration) (UploadCredential, error) {
	req, err := g.presign.PresignPostObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignPostOptions) {
		o.Expires = ttl
		o.Conditions = []interface{}{
			[]interface{}{"content-length-range", 0, maxBytes},
		}
	})
	if err != nil {
		return UploadCredential{}, fmt.Errorf("presign post %s: %w", key, err)
	}
	return UploadCredential{URL: req.URL, Fields: req.Values}, nil
}

// Upload streams body to key and returns its public URL.
func (g *S3Gateway) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return g.PublicURL(key), nil
}

func (g *S3Gateway) PublicURL(key string) string {
	return g.publicBaseURL + "/" + key
}
