package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"callbot-platform/internal/calls"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ObjectClient is the subset of the S3 API the document backend uses.
// *s3.Client satisfies it.
type ObjectClient interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config configures the document-store history backend.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store keeps one JSON document per call at <prefix>/CallHistory/<callID>.json.
//
// S3 has no conditional read-modify-write here, so appends for the same
// call must be serialized by the caller. The reconciliation engine's gate
// does that.
type S3Store struct {
	client      ObjectClient
	bucket      string
	prefix      string
	clock       func() time.Time
	initialised atomic.Bool
}

// NewS3Store builds a store from an existing client.
func NewS3Store(client ObjectClient, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		clock:  time.Now,
	}
}

// OpenS3Store loads AWS config and builds an S3-backed store.
func OpenS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("history: s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("history: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Store(client, bucket, cfg.Prefix), nil
}

func (s *S3Store) Initialise(ctx context.Context) error {
	if s.initialised.Load() {
		return nil
	}
	if s.client == nil {
		return errors.New("history: s3 client not configured")
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("history: s3 head bucket: %w", err)
	}
	s.initialised.Store(true)
	return nil
}

func (s *S3Store) Initialised() bool { return s.initialised.Load() }

func (s *S3Store) AddToHistory(ctx context.Context, state *calls.CallState, raw json.RawMessage) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	existing, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	e := Append(existing, id, state, raw, s.clock())
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", id, err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(id)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("history: s3 put object: %w", err)
	}
	return nil
}

func (s *S3Store) GetHistory(ctx context.Context, state *calls.CallState) (*Entity, error) {
	id, err := requireCallID(state)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *S3Store) DeleteHistory(ctx context.Context, state *calls.CallState) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	}); err != nil {
		return fmt.Errorf("history: s3 delete object: %w", err)
	}
	return nil
}

func (s *S3Store) get(ctx context.Context, callID string) (*Entity, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(callID)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: s3 get object: %w", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("history: s3 read object: %w", err)
	}
	return decodeEntity(b)
}

func (s *S3Store) objectKey(callID string) string {
	return path.Join(s.prefix, PartitionKey, callID+".json")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return strings.EqualFold(code, "NotFound") || strings.EqualFold(code, "NoSuchKey")
	}
	return false
}
