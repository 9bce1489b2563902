// Photo uploads for the submit-request form.
//
// A photo is optional. When present it must be an image (sniffed, not
// trusted from the client's Content-Type) no larger than MaxBytes. Files are
// stored under Dir with a random name; the stored path travels with the
// request and is sent to specialists as a separate attachment.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	errPhotoTooLarge    = errors.New("photo too large")
	errPhotoUnsupported = errors.New("photo must be a JPEG, PNG, GIF or WebP image")
)

var photoExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Uploads stores submitted photos on local disk.
type Uploads struct {
	Dir      string
	MaxBytes int64
}

// NewUploads creates dir if needed.
func NewUploads(dir string, maxBytes int64) (*Uploads, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Uploads{Dir: dir, MaxBytes: maxBytes}, nil
}

// Save validates fh and writes it under Dir, returning the stored path.
func (u *Uploads) Save(fh *multipart.FileHeader) (string, error) {
	if u.MaxBytes > 0 && fh.Size > u.MaxBytes {
		return "", errPhotoTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", errPhotoUnsupported
	}
	ctype, _, _ := strings.Cut(http.DetectContentType(head[:n]), ";")
	ext, ok := photoExt[ctype]
	if !ok {
		return "", errPhotoUnsupported
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	path := filepath.Join(u.Dir, uuid.NewString()+ext)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
