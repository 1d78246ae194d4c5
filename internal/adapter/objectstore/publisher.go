// Package objectstore publishes generated HTML reports to S3-compatible storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/xiaot623/gogo/testexec/internal/config"
)

// Client is the subset of *minio.Client the publisher needs.
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Publisher uploads report directories under reports/{execution_id}/.
type Publisher struct {
	client  Client
	bucket  string
	region  string
	baseURL string
	logger  *slog.Logger
}

// NewMinIOClient builds a minio client from cfg.
func NewMinIOClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("endpoint must not include scheme: %q", cfg.Endpoint)
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// New creates a publisher backed by a real minio client.
func New(cfg config.ObjectStoreConfig, logger *slog.Logger) (*Publisher, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient creates a publisher around an existing client.
func NewWithClient(client Client, cfg config.ObjectStoreConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &Publisher{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		baseURL: fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket),
		logger:  logger,
	}
}

// EnsureBucket creates the report bucket when it does not exist.
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("report bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("create report bucket %s: %w", p.bucket, err)
	}
	return nil
}

// PublishReport uploads every file under dir and returns the URL of the
// report's index.html.
func (p *Publisher) PublishReport(ctx context.Context, executionID, dir string) (string, error) {
	if executionID == "" {
		return "", errors.New("execution id is required")
	}
	prefix := ObjectPrefix(executionID)

	uploaded := 0
	err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}
		if err := p.upload(ctx, name, path.Join(prefix, filepath.ToSlash(rel))); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("publish report %s: %w", executionID, err)
	}

	p.logger.Info("report published", "execution_id", executionID, "objects", uploaded, "bucket", p.bucket)
	return p.URL(executionID), nil
}

// URL returns the public URL of a published report.
func (p *Publisher) URL(executionID string) string {
	return p.baseURL + "/" + ObjectPrefix(executionID) + "/index.html"
}

// ObjectPrefix is the key prefix of one execution's report.
func ObjectPrefix(executionID string) string {
	return "reports/" + executionID
}

func (p *Publisher) upload(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	putCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	_, err = p.client.PutObject(putCtx, p.bucket, key, f, info.Size(), minio.PutObjectOptions{ContentType: ContentType(file)})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ContentType guesses the content type from the file extension.
func ContentType(file string) string {
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
