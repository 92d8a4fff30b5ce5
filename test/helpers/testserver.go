package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"social_backend/internal/app"
	"social_backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// TestServer is the whole application on httptest with a running hub.
type TestServer struct {
	Server *httptest.Server
	DB     *gorm.DB
	App    *app.App
	Clock  *Clock
}

// TestConfig returns a configuration for an in-process server: SQLite,
// local storage under dir, in-memory presence and broker.
func TestConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Server.Env = "test"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(dir, "chat.db")
	cfg.JWT.Secret = TestJWTSecret
	cfg.Storage.Type = "local"
	cfg.Storage.BasePath = filepath.Join(dir, "uploads")
	cfg.Storage.BaseURL = "/files"
	cfg.Upload.MaxSize = 1024 * 1024
	return cfg
}

// NewTestServer starts a server against a fresh database. Everything is
// released through t.Cleanup.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := NewClock()
	db := NewTestDB(t, clock)

	application, err := app.New(TestConfig(t.TempDir()), db, app.WithClock(clock.Now))
	require.NoError(t, err, "failed to wire application")

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = application.Hub.Run(ctx) }()

	server := httptest.NewServer(application.Router)
	t.Cleanup(func() {
		server.Close()
		cancel()
		application.Close()
	})

	return &TestServer{
		Server: server,
		DB:     db,
		App:    application,
		Clock:  clock,
	}
}

// SendRequest sends body as JSON and returns the response with its body.
func (ts *TestServer) SendRequest(t *testing.T, method, path, token string, body interface{}) (*http.Response, string) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err, "failed to encode request body")
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.do(t, req, token)
}

// SendFile posts a multipart form with one file field and extra fields.
func (ts *TestServer) SendFile(t *testing.T, path, token, field, filename string, content []byte, fields map[string]string) (*http.Response, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, ts.Server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return ts.do(t, req, token)
}

// DecodeJSON unmarshals a response body into out.
func DecodeJSON(t *testing.T, body string, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(body), out), "unexpected body: %s", body)
}

func (ts *TestServer) do(t *testing.T, req *http.Request, token string) (*http.Response, string) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := ts.Server.Client().Do(req)
	require.NoError(t, err, "request failed")
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(resBody)
}
