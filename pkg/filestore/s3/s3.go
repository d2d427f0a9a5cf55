package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Key      string
	Secret   string
	Region   string
	Bucket   string
	Endpoint string
	// Expiration of the presigned urls returned by Put.
	Expiration time.Duration
	Debug      bool
}

type Store struct {
	bucket     string
	expiration time.Duration
	debug      bool
	client     *s3.Client
}

// New returns a new S3 clip store. It fails if the bucket can't be reached.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	awsCfg, err := loadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	expiration := cfg.Expiration
	if expiration == 0 {
		expiration = 24 * time.Hour
	}
	s := &Store{
		bucket:     cfg.Bucket,
		expiration: expiration,
		debug:      cfg.Debug,
		client:     s3.NewFromConfig(awsCfg),
	}

	// Check if bucket exists
	input := &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}
	if _, err := s.client.HeadBucket(ctx, input); err != nil {
		return nil, fmt.Errorf("s3: couldn't head bucket %s: %w", s.bucket, err)
	}
	return s, nil
}

func loadConfig(ctx context.Context, cfg *Config) (aws.Config, error) {
	var provider aws.CredentialsProvider
	if cfg.Key == "" && cfg.Secret == "" {
		// Load credentials from EC2 Instance Role
		provider = ec2rolecreds.New()
	} else {
		provider = credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(provider),
		config.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		// S3 compatible providers
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				PartitionID:       "aws",
				URL:               cfg.Endpoint,
				SigningRegion:     cfg.Region,
				HostnameImmutable: true,
			}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("s3: couldn't load aws config: %w", err)
	}
	return awsCfg, nil
}

// URL returns a presigned download url for the object.
func (s *Store) URL(ctx context.Context, name string) (string, error) {
	client := s3.NewPresignClient(s.client)
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}
	presigned, err := client.PresignGetObject(ctx, input, s3.WithPresignExpires(s.expiration))
	if err != nil {
		return "", fmt.Errorf("s3: couldn't presign object %s: %w", name, err)
	}
	return presigned.URL, nil
}

// Put uploads the content and returns a presigned url to it. The reader
// must be seekable for the upload to be signed.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("s3: couldn't put object %s: %w", name, err)
	}
	if s.debug {
		js, _ := json.Marshal(out)
		log.Println("s3: put object", name, string(js))
	}
	return s.URL(ctx, name)
}
