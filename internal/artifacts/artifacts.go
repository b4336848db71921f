// Package artifacts uploads the outputs of a finished run to S3-compatible
// object storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/config"
)

// ObjectStore is the part of *minio.Client the uploader uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader copies run outputs into a bucket under "<run id>/".
type Uploader struct {
	store  ObjectStore
	bucket string
	logger zerolog.Logger
}

// NewUploader creates an uploader over store.
func NewUploader(store ObjectStore, bucket string, logger zerolog.Logger) *Uploader {
	return &Uploader{
		store:  store,
		bucket: bucket,
		logger: logger.With().Str("component", "artifacts").Logger(),
	}
}

// NewMinioUploader connects to cfg.Endpoint and creates the bucket if it
// does not exist.
func NewMinioUploader(ctx context.Context, cfg config.ArtifactsConfig, logger zerolog.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}
	return NewUploader(client, cfg.Bucket, logger), nil
}

// Files lists the output files worth keeping after a run.
func Files(out config.OutputConfig) []string {
	return []string{
		out.Report,
		out.CSVPath(),
		out.ExclusionList,
		out.ProcessedList,
		out.Log,
		out.DiscoveryBib,
	}
}

// Upload puts every existing file under "<runID>/<base name>" and returns the
// object keys. Empty paths and missing files are skipped.
func (u *Uploader) Upload(ctx context.Context, runID string, files []string) ([]string, error) {
	var keys []string
	for _, p := range files {
		if p == "" {
			continue
		}
		key, err := u.put(ctx, runID, p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	u.logger.Info().Str("run_id", runID).Str("bucket", u.bucket).Int("objects", len(keys)).Msg("artifacts uploaded")
	return keys, nil
}

func (u *Uploader) put(ctx context.Context, runID, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", p, err)
	}

	key := path.Join(runID, filepath.Base(p))
	if _, err := u.store.PutObject(ctx, u.bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType(p),
	}); err != nil {
		return "", fmt.Errorf("upload %s to %s/%s: %w", p, u.bucket, key, err)
	}
	return key, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".bib":
		return "application/x-bibtex"
	default:
		return "text/plain"
	}
}
