package s3

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Client stores artifact archives in an S3-compatible bucket.
type Client struct {
	api *s3.Client
}

// Options describes how to reach the object store.
type Options struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	DisableTLS     bool
	ForcePathStyle bool
}

// OptionsFromEnv reads S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY and the
// optional S3_REGION (default "us-east-1"), S3_DISABLE_TLS and
// S3_FORCE_PATH_STYLE (default true) through getenv.
func OptionsFromEnv(getenv func(string) string) (Options, error) {
	opts := Options{
		Endpoint:       strings.TrimSpace(getenv("S3_ENDPOINT")),
		AccessKey:      getenv("S3_ACCESS_KEY"),
		SecretKey:      getenv("S3_SECRET_KEY"),
		Region:         getenv("S3_REGION"),
		ForcePathStyle: true,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.Endpoint == "" {
		return Options{}, errors.New("S3_ENDPOINT is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return Options{}, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}

	opts.DisableTLS, _ = strconv.ParseBool(getenv("S3_DISABLE_TLS"))
	if v := strings.TrimSpace(getenv("S3_FORCE_PATH_STYLE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			opts.ForcePathStyle = parsed
		}
	}

	if !strings.HasPrefix(opts.Endpoint, "http://") && !strings.HasPrefix(opts.Endpoint, "https://") {
		scheme := "https"
		if opts.DisableTLS {
			scheme = "http"
		}
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}
	return opts, nil
}

// NewClientFromEnv builds a Client from the process environment.
func NewClientFromEnv(ctx context.Context) (*Client, error) {
	opts, err := OptionsFromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, opts)
}

// NewClient builds a Client with static credentials.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		o.BaseEndpoint = aws.String(opts.Endpoint)
	})
	return &Client{api: client}, nil
}

// PutObject uploads r to bucket/key with a SHA-256 checksum the server verifies.
func (c *Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error {
	if c == nil {
		return errors.New("nil client")
	}
	checksum, err := encodeSHA256(sha256)
	if err != nil {
		return err
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            &bucket,
		Key:               &key,
		Body:              r,
		ContentLength:     &size,
		ContentType:       aws.String("application/zstd"),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"sha256": sha256,
		},
	})
	return err
}

func encodeSHA256(hexDigest string) (string, error) {
	if hexDigest == "" {
		return "", errors.New("sha256 digest required")
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
