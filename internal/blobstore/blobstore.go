// Package blobstore uploads and fetches binary content in an S3-compatible
// bucket (Cloudflare R2 in production). Objects live under an
// application-scoped namespace and are addressed by their public URL.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rohits-web03/memoscribe/internal/apperr"
)

type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	// Endpoint overrides the account-derived R2 endpoint.
	Endpoint string
	// PublicBaseURL prefixes object keys to form durable URLs.
	PublicBaseURL string
	Namespace     string
	// HTTPClient is optional; the SDK default is used when nil.
	HTTPClient aws.HTTPClient
}

type Client struct {
	s3        *s3.Client
	bucket    string
	baseURL   string
	namespace string
}

// New builds the client from static credentials and a custom endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("blobstore: bucket name is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, errors.New("blobstore: account id or endpoint is required")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = strings.TrimRight(endpoint, "/") + "/" + cfg.BucketName
	}

	awsCfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Region:      region,
	}
	if cfg.HTTPClient != nil {
		awsCfg.HTTPClient = cfg.HTTPClient
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		// Retries belong to the pipeline's policy, not the SDK's.
		o.RetryMaxAttempts = 1
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Client{
		s3:        client,
		bucket:    cfg.BucketName,
		baseURL:   baseURL,
		namespace: strings.Trim(cfg.Namespace, "/"),
	}, nil
}

func (c *Client) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if c.namespace == "" {
		return key
	}
	return c.namespace + "/" + key
}

// URL returns the durable URL of a namespaced object key.
func (c *Client) URL(objectKey string) string {
	return c.baseURL + "/" + objectKey
}

// KeyFromURL recovers the object key from a URL produced by Upload.
func (c *Client) KeyFromURL(url string) (string, error) {
	prefix := c.baseURL + "/"
	if !strings.HasPrefix(url, prefix) || len(url) == len(prefix) {
		return "", apperr.Validation("URL does not belong to this blob store")
	}
	return strings.TrimPrefix(url, prefix), nil
}

// Upload stores body under key inside the namespace and returns its durable
// URL. contentHint must pass ValidateContentHint for formats.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, contentHint string, formats FormatSet) (string, error) {
	ext, err := formats.Validate(contentHint)
	if err != nil {
		return "", err
	}
	if path.Ext(key) == "" {
		key += "." + ext
	}

	// The SDK signs payloads over plain HTTP only when it can seek the body.
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(body)
		if err != nil {
			return "", apperr.Wrap(apperr.KindValidation, "Could not read upload body", err)
		}
		seeker = bytes.NewReader(buf)
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return "", apperr.Internal(err)
	}

	objectKey := c.objectKey(key)
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(objectKey),
		Body:        seeker,
		ContentType: aws.String(ContentTypeFor(ext)),
	})
	if err != nil {
		return "", apperr.StorageUnavailable(err)
	}
	return c.URL(objectKey), nil
}

// Fetch opens the object behind url. The caller closes the stream.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	key, err := c.KeyFromURL(url)
	if err != nil {
		return nil, err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("Blob")
		}
		return nil, apperr.StorageUnavailable(err)
	}
	return out.Body, nil
}

// Delete removes the object behind url. Deleting a missing object succeeds.
func (c *Client) Delete(ctx context.Context, url string) error {
	key, err := c.KeyFromURL(url)
	if err != nil {
		return err
	}
	_, err = c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return apperr.StorageUnavailable(err)
	}
	return nil
}

// Exists checks if a given object exists in the bucket.
func (c *Client) Exists(ctx context.Context, url string) (bool, error) {
	key, err := c.KeyFromURL(url)
	if err != nil {
		return false, err
	}
	_, err = c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, apperr.StorageUnavailable(err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.ErrorCode(); code == "NoSuchKey" || code == "NotFound" {
			return true
		}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

// ContentTypeFor maps an allow-listed extension to its MIME type.
func ContentTypeFor(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
