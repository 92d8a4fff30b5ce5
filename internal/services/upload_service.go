package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"social_backend/internal/logger"
	"social_backend/internal/models"
	"social_backend/internal/models/chat"
	"social_backend/internal/repositories"
	"social_backend/internal/storage"
	"social_backend/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UploadService stores chat media in the blob store and records each blob in
// the uploads table.
type UploadService interface {
	UploadChatMedia(ctx context.Context, db *gorm.DB, userID, chatID uint, file *multipart.FileHeader) (*models.Upload, error)
	DeleteUpload(ctx context.Context, db *gorm.DB, uploadID string) error
}

type UploadConfig struct {
	MaxFileSize  int64
	AllowedTypes []string // empty allows every MIME type
}

type uploadService struct {
	uploadRepo repositories.UploadRepository
	storage    storage.Storage
	config     UploadConfig
	now        func() time.Time
}

func NewUploadService(uploadRepo repositories.UploadRepository, store storage.Storage, config UploadConfig) UploadService {
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 20 * 1024 * 1024
	}
	return &uploadService{
		uploadRepo: uploadRepo,
		storage:    store,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *uploadService) UploadChatMedia(ctx context.Context, db *gorm.DB, userID, chatID uint, file *multipart.FileHeader) (*models.Upload, error) {
	if file == nil {
		return nil, apperrors.NewBadRequestError("file is required")
	}
	if file.Size > s.config.MaxFileSize {
		return nil, apperrors.ErrFileTooLarge.WithDetails(map[string]int64{"maxSize": s.config.MaxFileSize})
	}

	src, err := file.Open()
	if err != nil {
		return nil, apperrors.InternalError(fmt.Errorf("failed to open uploaded file: %w", err))
	}
	defer src.Close()

	mimeType, err := sniffMimeType(file, src)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if !s.isAllowed(mimeType) {
		return nil, apperrors.ErrInvalidFileType.WithDetails(map[string]string{"mimeType": mimeType})
	}

	id := uuid.NewString()
	key := path.Join("chat", fmt.Sprint(chatID), s.now().Format("2006/01"), id+strings.ToLower(filepath.Ext(file.Filename)))

	if err := s.storage.Save(ctx, key, src, mimeType); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "storage", "Failed to store file", http.StatusBadGateway)
	}

	upload := &models.Upload{
		ID:              id,
		UserID:          userID,
		ChatID:          chatID,
		FileType:        string(MediaTypeFromMime(mimeType)),
		Path:            key,
		MimeType:        mimeType,
		Size:            file.Size,
		OriginalName:    filepath.Base(file.Filename),
		URL:             s.storage.URL(key),
		StorageProvider: s.storage.Provider(),
	}
	if err := s.uploadRepo.Create(db, upload); err != nil {
		s.removeBlob(ctx, key)
		return nil, apperrors.InternalError(err)
	}
	return upload, nil
}

// DeleteUpload removes the record and then the blob; a blob that fails to
// delete is only logged.
func (s *uploadService) DeleteUpload(ctx context.Context, db *gorm.DB, uploadID string) error {
	upload, err := s.uploadRepo.FindByID(db, uploadID)
	if err != nil {
		if errors.Is(err, repositories.ErrUploadNotFound) {
			return apperrors.NewNotFoundError("upload", "Upload not found")
		}
		return apperrors.InternalError(err)
	}
	if err := s.uploadRepo.Delete(db, uploadID); err != nil {
		return apperrors.InternalError(err)
	}
	s.removeBlob(ctx, upload.Path)
	return nil
}

func (s *uploadService) removeBlob(ctx context.Context, key string) {
	if err := s.storage.Delete(ctx, key); err != nil {
		logger.Warn("Failed to delete blob from storage", "key", key, "error", err)
	}
}

func (s *uploadService) isAllowed(mimeType string) bool {
	if len(s.config.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedTypes {
		if strings.EqualFold(allowed, mimeType) {
			return true
		}
	}
	return false
}

// sniffMimeType prefers the declared Content-Type and falls back to content
// sniffing. The reader is rewound afterwards.
func sniffMimeType(file *multipart.FileHeader, src multipart.File) (string, error) {
	declared := file.Header.Get("Content-Type")
	if declared != "" && declared != "application/octet-stream" {
		return strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0])), nil
	}

	buf := make([]byte, 512)
	n, err := src.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read uploaded file: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind uploaded file: %w", err)
	}
	return strings.Split(http.DetectContentType(buf[:n]), ";")[0], nil
}

// MediaTypeFromMime maps a MIME type to the message media type by prefix.
func MediaTypeFromMime(mimeType string) chat.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return chat.MediaTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return chat.MediaTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return chat.MediaTypeAudio
	default:
		return chat.MediaTypeFile
	}
}
