package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
	"github.com/xitongsys/parquet-go-source/local"

	"exchangehub/config"
	"exchangehub/logger"
)

// Sink stores an encoded file under key and returns its location.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// LocalSink writes below Root on the local filesystem.
type LocalSink struct {
	Root string
}

func (s LocalSink) Put(_ context.Context, key string, data []byte) (string, error) {
	dst := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	fw, err := local.NewLocalFileWriter(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := fw.Write(data); err != nil {
		fw.Close()
		return "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return dst, nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads to a bucket, retrying failed puts with exponential backoff.
type S3Sink struct {
	client   putObjectAPI
	bucket   string
	prefix   string
	maxTries uint
	backoff  func() backoff.BackOff
	log      *logger.Log
}

func NewS3Sink(ctx context.Context, cfg config.S3Config, log *logger.Log) (*S3Sink, error) {
	log = logger.OrDefault(log)

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_sink").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_sink").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
	}).Info("s3 sink initialized")
	return newS3Sink(client, cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Sink(client putObjectAPI, bucket, prefix string, log *logger.Log) *S3Sink {
	return &S3Sink{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		maxTries: 5,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		log: logger.OrDefault(log),
	}
}

func (s *S3Sink) Put(ctx context.Context, key string, data []byte) (string, error) {
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}
	log := s.log.WithComponent("s3_sink").WithFields(logger.Fields{
		"bucket":    s.bucket,
		"key":       key,
		"data_size": len(data),
	})

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
			Metadata:    map[string]string{"content-type": "parquet"},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return struct{}{}, backoff.Permanent(err)
			}
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("s3 upload failed")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(s.backoff()), backoff.WithMaxTries(s.maxTries))
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
