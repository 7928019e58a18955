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

// Client uploads lease snapshot archives to an S3-compatible object store.
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient
}

// Options describes the object store endpoint and credentials.
type Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	DisableTLS bool
	PathStyle  bool
}

// OptionsFromEnv reads S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY (required)
// plus S3_REGION (default us-east-1), S3_DISABLE_TLS and S3_FORCE_PATH_STYLE
// (default true).
func OptionsFromEnv() (Options, error) {
	opts := Options{
		Endpoint:  strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		Region:    strings.TrimSpace(os.Getenv("S3_REGION")),
		PathStyle: true,
	}
	if v := strings.TrimSpace(os.Getenv("S3_DISABLE_TLS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("invalid S3_DISABLE_TLS %q: %w", v, err)
		}
		opts.DisableTLS = b
	}
	if v := strings.TrimSpace(os.Getenv("S3_FORCE_PATH_STYLE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("invalid S3_FORCE_PATH_STYLE %q: %w", v, err)
		}
		opts.PathStyle = b
	}
	return opts, nil
}

// endpointURL adds a scheme to bare host:port endpoints.
func (o Options) endpointURL() string {
	if strings.HasPrefix(o.Endpoint, "http://") || strings.HasPrefix(o.Endpoint, "https://") {
		return o.Endpoint
	}
	if o.DisableTLS {
		return "http://" + o.Endpoint
	}
	return "https://" + o.Endpoint
}

// NewClient builds a Client for opts.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("S3_ENDPOINT is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		o.BaseEndpoint = aws.String(opts.endpointURL())
	})
	return &Client{api: api, presign: s3.NewPresignClient(api)}, nil
}

// NewClientFromEnv is NewClient with OptionsFromEnv.
func NewClientFromEnv(ctx context.Context) (*Client, error) {
	opts, err := OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, opts)
}

// PutObject uploads size bytes from r to bucket/key. sha256 is the hex digest
// of the body; it is sent as the S3 checksum and kept in object metadata.
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
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"sha256": sha256,
		},
	})
	return err
}

// PresignGet returns a GET URL for bucket/key valid for ttl.
func (c *Client) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}

	return req.URL, nil
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
