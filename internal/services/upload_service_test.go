package services_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"social_backend/internal/models"
	chatmodels "social_backend/internal/models/chat"
	"social_backend/internal/repositories"
	"social_backend/internal/services"
	"social_backend/internal/services/dto"
	"social_backend/internal/storage"
	"social_backend/pkg/apperrors"
	"social_backend/test/helpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// fileHeader builds the *multipart.FileHeader a handler would get for an
// upload of content under name.
func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

type mediaFixture struct {
	*fixture
	dir     string
	uploads services.UploadService
}

func newMediaFixture(t *testing.T) *mediaFixture {
	t.Helper()
	f := newFixture(t, services.ChatConfig{})
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(storage.Config{BasePath: dir, BaseURL: "/files"})
	require.NoError(t, err)

	uploads := services.NewUploadService(repositories.NewUploadRepository(), store, services.UploadConfig{
		MaxFileSize:  1024,
		AllowedTypes: []string{"image/png", "image/jpeg"},
	})
	f.svc = services.NewChatService(repositories.NewChatRepository(), repositories.NewProfileRepository(), uploads, services.ChatConfig{
		Now: helpers.NewClock().Now,
	})
	return &mediaFixture{fixture: f, dir: dir, uploads: uploads}
}

// sendMedia stores the file and posts it, as the media endpoint does.
func (f *mediaFixture) sendMedia(ctx context.Context, userID, chatID uint, file *multipart.FileHeader, text *string) (*dto.MessageResponse, error) {
	upload, err := f.svc.StoreMedia(ctx, f.db, userID, chatID, file)
	if err != nil {
		return nil, err
	}
	return f.svc.SendMediaMessage(ctx, f.db, userID, chatID, upload, text)
}

func TestSendMediaMessage_StoresBlobAndPostsMessage(t *testing.T) {
	f := newMediaFixture(t)
	dm := f.direct(t, f.alice, f.bob)

	caption := "look at this"
	msg, err := f.sendMedia(context.Background(), f.alice.UserID, dm.ID, fileHeader(t, "Cat.PNG", pngHeader), &caption)
	require.NoError(t, err)

	require.NotNil(t, msg.MediaType)
	assert.Equal(t, "image", *msg.MediaType)
	assert.Equal(t, caption, *msg.Text)
	require.NotNil(t, msg.MediaURL)
	assert.True(t, strings.HasPrefix(*msg.MediaURL, "/files/chat/"), *msg.MediaURL)
	assert.True(t, strings.HasSuffix(*msg.MediaURL, ".png"), *msg.MediaURL)

	key := strings.TrimPrefix(*msg.MediaURL, "/files/")
	stored, err := os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored)

	var upload models.Upload
	require.NoError(t, f.db.Where("path = ?", key).First(&upload).Error)
	assert.Equal(t, "image/png", upload.MimeType)
	assert.Equal(t, "Cat.PNG", upload.OriginalName)
	assert.Equal(t, dm.ID, upload.ChatID)
	assert.Equal(t, "local", upload.StorageProvider)
}

func TestSendMediaMessage_Rejections(t *testing.T) {
	f := newMediaFixture(t)
	dm := f.direct(t, f.alice, f.bob)
	ctx := context.Background()

	_, err := f.sendMedia(ctx, f.alice.UserID, dm.ID, fileHeader(t, "notes.txt", []byte("plain words")), nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidFileType)
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, http.StatusUnsupportedMediaType, appErr.HTTPCode)

	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 2048)...)
	_, err = f.sendMedia(ctx, f.alice.UserID, dm.ID, fileHeader(t, "big.png", big), nil)
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)
	appErr, _ = apperrors.AsAppError(err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, appErr.HTTPCode)

	_, err = f.sendMedia(ctx, f.carol.UserID, dm.ID, fileHeader(t, "cat.png", pngHeader), nil)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	// Nothing was written for any rejected upload.
	var uploads, messages int64
	require.NoError(t, f.db.Model(&models.Upload{}).Count(&uploads).Error)
	require.NoError(t, f.db.Model(&chatmodels.Message{}).Count(&messages).Error)
	assert.Zero(t, uploads)
	assert.Zero(t, messages)
}

func TestSendMediaMessage_FailedPostRemovesUpload(t *testing.T) {
	f := newMediaFixture(t)
	dm := f.direct(t, f.alice, f.bob)
	group := f.group(t, f.bob, "Others", f.carol)
	ctx := context.Background()

	upload, err := f.svc.StoreMedia(ctx, f.db, f.alice.UserID, dm.ID, fileHeader(t, "cat.png", pngHeader))
	require.NoError(t, err)
	blob := filepath.Join(f.dir, filepath.FromSlash(upload.Path))
	require.FileExists(t, blob)

	// Posting the upload into a chat it was not stored for is refused and
	// the stored blob is cleaned up.
	_, err = f.svc.SendMediaMessage(ctx, f.db, f.alice.UserID, group.ID, upload, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidOperation))
	assert.NoFileExists(t, blob)

	var uploads, messages int64
	require.NoError(t, f.db.Model(&models.Upload{}).Count(&uploads).Error)
	require.NoError(t, f.db.Model(&chatmodels.Message{}).Count(&messages).Error)
	assert.Zero(t, uploads)
	assert.Zero(t, messages)
}

func TestDeleteUpload_RemovesRecordAndBlob(t *testing.T) {
	f := newMediaFixture(t)
	ctx := context.Background()

	upload, err := f.uploads.UploadChatMedia(ctx, f.db, f.alice.UserID, 7, fileHeader(t, "a.png", pngHeader))
	require.NoError(t, err)
	blob := filepath.Join(f.dir, filepath.FromSlash(upload.Path))
	require.FileExists(t, blob)

	require.NoError(t, f.uploads.DeleteUpload(ctx, f.db, upload.ID))
	assert.NoFileExists(t, blob)

	err = f.uploads.DeleteUpload(ctx, f.db, upload.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMediaTypeFromMime(t *testing.T) {
	tests := map[string]chatmodels.MediaType{
		"image/png":       chatmodels.MediaTypeImage,
		"video/mp4":       chatmodels.MediaTypeVideo,
		"audio/ogg":       chatmodels.MediaTypeAudio,
		"application/pdf": chatmodels.MediaTypeFile,
		"":                chatmodels.MediaTypeFile,
	}
	for mime, want := range tests {
		assert.Equal(t, want, services.MediaTypeFromMime(mime), mime)
	}
}
