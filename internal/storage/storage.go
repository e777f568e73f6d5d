package storage

import "context"

// Uploader is the object-storage collaborator used during post-processing.
type Uploader interface {
	UploadFile(ctx context.Context, path string) error
	WaitForUpload(ctx context.Context) error
	DeleteFile(ctx context.Context, path string) error
}
