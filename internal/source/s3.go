package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Scheme prefixes references that resolve to S3 objects: s3://bucket/key.
const S3Scheme = "s3://"

// S3Config holds the configuration for creating an S3 source.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// GetObjectAPI is the subset of the S3 client used by S3.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads attachments from Amazon S3 objects.
type S3 struct {
	client GetObjectAPI
}

// NewS3 creates an S3 source using the default AWS credential chain, or
// static credentials when both keys are provided.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3{client: s3.NewFromConfig(awsCfg)}, nil
}

// NewS3WithClient creates an S3 source with a custom client, used for testing.
func NewS3WithClient(client GetObjectAPI) *S3 {
	return &S3{client: client}
}

// Fetch downloads the object named by an s3://bucket/key reference.
func (s *S3) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := splitS3Ref(ref)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(ref, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", ref, err)
	}
	return data, nil
}

// splitS3Ref splits s3://bucket/key into its bucket and key.
func splitS3Ref(ref string) (string, string, error) {
	rest, ok := strings.CutPrefix(ref, S3Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an S3 reference: %q", ref)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 reference %q must name a bucket and a key", ref)
	}
	return bucket, key, nil
}

// classifyS3Error maps S3 API error codes onto the package sentinels.
func classifyS3Error(ref string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%q: %w", ref, ErrNotFound)
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return fmt.Errorf("%q: %w", ref, ErrDenied)
		}
	}
	return fmt.Errorf("failed to fetch %q: %w", ref, err)
}
