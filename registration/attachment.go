package registration

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxAttachmentSize is the per-file upload ceiling (5 MB).
const MaxAttachmentSize int64 = 5 * 1024 * 1024

// Attachment is a file chosen for upload. The content type is sniffed from the
// file's leading bytes, not taken from its extension.
type Attachment struct {
	Name     string
	MIMEType string
	Size     int64

	path string
	data []byte
}

// LoadAttachment stats and sniffs the file at path. Content is read lazily on Open.
func LoadAttachment(path string) (*Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment %s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect content type of %s: %w", path, err)
	}
	return &Attachment{
		Name:     filepath.Base(path),
		MIMEType: mt.String(),
		Size:     info.Size(),
		path:     path,
	}, nil
}

// NewAttachment wraps in-memory content.
func NewAttachment(name string, data []byte) *Attachment {
	return &Attachment{
		Name:     name,
		MIMEType: mimetype.Detect(data).String(),
		Size:     int64(len(data)),
		data:     data,
	}
}

// Open returns a reader over the attachment content.
func (a *Attachment) Open() (io.ReadCloser, error) {
	if a.path == "" {
		return io.NopCloser(bytes.NewReader(a.data)), nil
	}
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	return f, nil
}

// ReadAll returns the full attachment content.
func (a *Attachment) ReadAll() ([]byte, error) {
	if a.path == "" {
		return a.data, nil
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

// MediaType is the MIME type without parameters, e.g. "text/plain".
func (a *Attachment) MediaType() string {
	mt, _, _ := strings.Cut(a.MIMEType, ";")
	return strings.TrimSpace(mt)
}

// IsImage reports whether the sniffed type is an image.
func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType(), "image/")
}

// IsPDF reports whether the sniffed type is PDF.
func (a *Attachment) IsPDF() bool {
	return a.MediaType() == "application/pdf"
}

// TooLarge reports whether the attachment exceeds MaxAttachmentSize.
func (a *Attachment) TooLarge() bool {
	return a.Size > MaxAttachmentSize
}
