package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"

	"social_backend/internal/logger"
	"social_backend/internal/models"
	"social_backend/internal/services/dto"
	"social_backend/test/helpers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	os.Exit(m.Run())
}

// user is a seeded profile together with a token for its user id.
type user struct {
	*models.Profile
	Token string
}

func seedUser(t *testing.T, ts *helpers.TestServer, userID uint, username string) user {
	t.Helper()
	return user{
		Profile: helpers.SeedProfile(t, ts.DB, userID, username),
		Token:   helpers.MintToken(t, userID),
	}
}

func createChat(t *testing.T, ts *helpers.TestServer, owner user, body map[string]interface{}) dto.ChatResponse {
	t.Helper()
	res, bodyStr := ts.SendRequest(t, http.MethodPost, "/api/v1/chats", owner.Token, body)
	require.Equal(t, http.StatusCreated, res.StatusCode, bodyStr)

	var chat dto.ChatResponse
	helpers.DecodeJSON(t, bodyStr, &chat)
	require.NotZero(t, chat.ID)
	return chat
}

func sendText(t *testing.T, ts *helpers.TestServer, from user, chatID uint, text string) dto.MessageResponse {
	t.Helper()
	res, bodyStr := ts.SendRequest(t, http.MethodPost, chatPath(chatID, "/messages"), from.Token, map[string]interface{}{"text": text})
	require.Equal(t, http.StatusCreated, res.StatusCode, bodyStr)

	var msg dto.MessageResponse
	helpers.DecodeJSON(t, bodyStr, &msg)
	return msg
}

func chatPath(chatID uint, suffix string) string {
	return fmt.Sprintf("/api/v1/chats/%d%s", chatID, suffix)
}

type errorBody struct {
	Error struct {
		Code    string          `json:"code"`
		Domain  string          `json:"domain"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, body string) errorBody {
	t.Helper()
	var e errorBody
	helpers.DecodeJSON(t, body, &e)
	return e
}
