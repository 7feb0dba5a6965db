package service

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"message-service/internal/storage"
)

// IssueUploadCredential returns a presigned POST for a file the client uploads directly.
func (s *MessageService) IssueUploadCredential(ctx context.Context, userID, filename, filetype string) (storage.UploadCredential, error) {
	if strings.TrimSpace(filename) == "" || strings.TrimSpace(filetype) == "" {
		return storage.UploadCredential{}, validationError("filename and filetype are required")
	}
	if !s.typeAllowed(filetype) {
		return storage.UploadCredential{}, validationError(fmt.Sprintf("file type %q is not allowed", filetype))
	}
	if s.signer == nil {
		return storage.UploadCredential{}, fmt.Errorf("%w: object storage is not configured", ErrUpstreamUnavailable)
	}

	key := s.objectKey(userID, filename)
	cred, err := s.signer.PresignUpload(ctx, key, s.opts.UploadMaxBytes, s.opts.UploadTTL)
	if err != nil {
		return storage.UploadCredential{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return cred, nil
}

func (s *MessageService) uploadAttachment(ctx context.Context, userID string, a *Attachment) (string, error) {
	if !s.typeAllowed(a.ContentType) {
		return "", validationError(fmt.Sprintf("file type %q is not allowed", a.ContentType))
	}
	if s.uploader == nil {
		return "", fmt.Errorf("%w: object storage is not configured", ErrUpstreamUnavailable)
	}
	url, err := s.uploader.Upload(ctx, s.objectKey(userID, a.Filename), a.ContentType, a.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return url, nil
}

// An empty allow-list accepts every type.
func (s *MessageService) typeAllowed(filetype string) bool {
	if len(s.opts.AllowedTypes) == 0 {
		return true
	}
	for _, t := range s.opts.AllowedTypes {
		if strings.EqualFold(t, filetype) {
			return true
		}
	}
	return false
}

// objectKey builds prefix/<user>/<millis>_<rand>_<name>; the random part keeps
// same-millisecond uploads of one filename apart.
func (s *MessageService) objectKey(userID, filename string) string {
	return fmt.Sprintf("%s/%s/%d_%s_%s",
		s.opts.UploadKeyPrefix, userID, s.now().UnixMilli(), uuid.NewString()[:8], safeName(filename))
}

func safeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return strings.ReplaceAll(name, " ", "_")
}
