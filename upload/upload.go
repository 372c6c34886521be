// Package upload copies a run's result artifacts to a Google Cloud Storage
// bucket.
package upload

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// DefaultParallelism is the number of files uploaded at once.
const DefaultParallelism = 4

// Bucket creates writers for named objects.
type Bucket interface {
	NewWriter(ctx context.Context, object string) io.WriteCloser
}

type gcsBucket struct {
	handle *storage.BucketHandle
}

func (b gcsBucket) NewWriter(ctx context.Context, object string) io.WriteCloser {
	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType(object)
	w.CacheControl = "no-cache, no-store, must-revalidate"

	return w
}

// Uploader copies files into a bucket under a fixed prefix.
type Uploader struct {
	bucket      Bucket
	name        string
	prefix      string
	parallelism int
	logger      *slog.Logger
}

// New returns an Uploader writing to bucket. name is only used in logs.
func New(bucket Bucket, name, prefix string, logger *slog.Logger) *Uploader {
	return &Uploader{
		bucket:      bucket,
		name:        name,
		prefix:      prefix,
		parallelism: DefaultParallelism,
		logger:      logger.With(slog.String("bucket", name)),
	}
}

// NewGCS returns an Uploader for a GCS bucket. An empty credentialsFile
// uses application default credentials. The returned func closes the
// client.
func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string, logger *slog.Logger) (*Uploader, func() error, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, nil, fmt.Errorf("service account key: %w", err)
		}

		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create GCS client: %w", err)
	}

	return New(gcsBucket{handle: client.Bucket(bucket)}, bucket, prefix, logger), client.Close, nil
}

// Dir uploads every regular file below dir to <prefix>/<runID>/<relative
// path> and returns the number of files uploaded. It stops at the first
// failure.
func (u *Uploader) Dir(ctx context.Context, dir, runID string) (int, error) {
	var files []string

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.Type().IsRegular() {
			files = append(files, p)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism)

	for _, p := range files {
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return 0, fmt.Errorf("relative path of %s: %w", p, err)
		}

		object := path.Join(u.prefix, runID, filepath.ToSlash(rel))

		g.Go(func() error {
			return u.File(gCtx, p, object)
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	return len(files), nil
}

// File uploads one local file to object.
func (u *Uploader) File(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := u.bucket.NewWriter(ctx, object)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()

		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, u.name, object, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finish gs://%s/%s: %w", u.name, object, err)
	}

	u.logger.DebugContext(ctx, "uploaded", slog.String("object", object))

	return nil
}

func contentType(object string) string {
	switch path.Ext(object) {
	case ".json":
		return "application/json"
	case ".log", ".md", ".txt", ".prom":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
