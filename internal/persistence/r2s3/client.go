package r2s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// ErrCredentials is returned by New when any of endpoint, bucket or keys is empty.
var ErrCredentials = errors.New("r2s3: endpoint, bucket and keys are required")

// Config addresses an S3-compatible bucket. Region defaults to "auto" (R2).
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// StatusError is a non-2xx answer from the bucket.
type StatusError struct {
	Key    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("r2s3: put %s: %s", e.Key, http.StatusText(e.Status))
}

// Retryable reports whether another attempt can succeed. Client errors other
// than timeouts and throttling are permanent.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 400 && e.Status < 500:
		return false
	default:
		return true
	}
}

// Client uploads snapshot files with path-style signed PUT requests.
type Client struct {
	base   *url.URL
	bucket string
	signer signer
	http   *http.Client
	now    func() time.Time
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.Trim(strings.TrimSpace(cfg.Bucket), "/")
	id := strings.TrimSpace(cfg.AccessKeyID)
	secret := strings.TrimSpace(cfg.SecretAccessKey)
	if endpoint == "" || bucket == "" || id == "" || secret == "" {
		return nil, ErrCredentials
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("r2s3: endpoint: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("r2s3: endpoint %q is not an http(s) url", cfg.Endpoint)
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "auto"
	}
	return &Client{
		base:   u,
		bucket: bucket,
		signer: signer{accessKeyID: id, secret: secret, region: region},
		http:   &http.Client{Timeout: 2 * time.Minute},
		now:    time.Now,
	}, nil
}

// PutFile uploads localPath to key and returns the bytes sent.
func (c *Client) PutFile(ctx context.Context, key, localPath string) (int64, error) {
	key = cleanKey(key)
	if key == "" {
		return 0, fmt.Errorf("r2s3: empty object key")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	payloadHash, size, err := hashReader(f)
	if err != nil {
		return 0, fmt.Errorf("r2s3: hash %s: %w", localPath, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	uri := c.base.EscapedPath() + "/" + url.PathEscape(c.bucket) + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base.Scheme+"://"+c.base.Host+uri, f)
	if err != nil {
		return 0, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType(key))
	c.signer.sign(req, uri, payloadHash, c.now())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return size, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return 0, &StatusError{Key: key, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// cleanKey turns a slash or backslash path into a bucket key. Keys that
// climb out of the bucket root come back empty.
func cleanKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, `\`, "/"))
	if strings.Trim(key, "/") == "" {
		return ""
	}
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return ""
	}
	return key
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
