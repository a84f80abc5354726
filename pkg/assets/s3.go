package assets

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxManifestSize bounds manifests read from object storage.
const maxManifestSize = 4 << 20

// ObjectGetter is the subset of *s3.Client used to fetch manifests.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ParseS3URL splits "s3://bucket/key" into bucket and key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("assets: invalid s3 url %q: %w", raw, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("assets: invalid s3 url %q: want s3://bucket/key", raw)
	}
	return u.Host, key, nil
}

// LoadS3 reads a manifest object.
func LoadS3(ctx context.Context, client ObjectGetter, bucket, key string) (*Manifest, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("assets: get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("assets: read s3://%s/%s: %w", bucket, key, err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("assets: s3://%s/%s exceeds %d bytes", bucket, key, maxManifestSize)
	}
	return Parse(data)
}

// NewS3Client creates an S3 client. Empty region and endpoint fall back to
// AWS_REGION and AWS_ENDPOINT_URL. Credentials come from AWS_ACCESS_KEY_ID
// and AWS_SECRET_ACCESS_KEY; without them requests are anonymous.
func NewS3Client(_ context.Context, region, endpoint string) *s3.Client {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}

	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		token := os.Getenv("AWS_SESSION_TOKEN")
		creds = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     id,
				SecretAccessKey: secret,
				SessionToken:    token,
				Source:          "environment",
			}, nil
		}))
	}

	opts := s3.Options{
		Region:      region,
		Credentials: creds,
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}
