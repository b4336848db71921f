package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/config"
)

type putCall struct {
	bucket      string
	key         string
	body        string
	contentType string
}

type fakeStore struct {
	puts []putCall
	err  error
}

func (s *fakeStore) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if s.err != nil {
		return minio.UploadInfo{}, s.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	s.puts = append(s.puts, putCall{bucket: bucket, key: key, body: string(body), contentType: opts.ContentType})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	out := config.OutputConfig{
		Report:        filepath.Join(dir, "report.json"),
		ExclusionList: filepath.Join(dir, "filtered_out_documents.txt"),
		ProcessedList: filepath.Join(dir, "processed.txt"),
	}
	writeFile(t, out.Report, `{"documents":[]}`)
	writeFile(t, out.CSVPath(), "id\n")
	writeFile(t, out.ExclusionList, "key2\n")

	store := &fakeStore{}
	keys, err := NewUploader(store, "reports", zerolog.Nop()).Upload(context.Background(), "run-1", Files(out))
	require.NoError(t, err)

	assert.Equal(t, []string{"run-1/report.json", "run-1/report.csv", "run-1/filtered_out_documents.txt"}, keys)
	require.Len(t, store.puts, 3)
	assert.Equal(t, putCall{bucket: "reports", key: "run-1/report.json", body: `{"documents":[]}`, contentType: "application/json"}, store.puts[0])
	assert.Equal(t, "text/csv", store.puts[1].contentType)
	assert.Equal(t, "text/plain", store.puts[2].contentType)
}

func TestUpload_StoreError(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.json")
	writeFile(t, report, "{}")

	store := &fakeStore{err: errors.New("access denied")}
	keys, err := NewUploader(store, "reports", zerolog.Nop()).Upload(context.Background(), "run-1", []string{report})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Contains(t, err.Error(), "reports/run-1/report.json")
	assert.Empty(t, keys)
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.json":  "application/json",
		"a.CSV":   "text/csv",
		"d.bib":   "application/x-bibtex",
		"run.log": "text/plain",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, contentType(name))
		})
	}
}
