package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmorgan81/imagegateway/internal/log"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes uploads under Dir. It stands in for S3 when no bucket
// is configured.
type FileUploader struct {
	Dir string
}

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) error {
	path := filepath.Join(u.Dir, filepath.Base(params.Name))
	log.FromContextOrDiscard(ctx).WithGroup("file").Info("writing", "file", path, "content-type", params.ContentType)

	if err := os.MkdirAll(u.Dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(path, params.Data, 0600)
}
