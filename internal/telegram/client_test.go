package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Token: "123:abc", APIURL: server.URL})
	require.NoError(t, err)

	require.NoError(t, client.SendMessage(context.Background(), "-100", "*hi*", "Markdown"))
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, sendMessageRequest{ChatID: "-100", Text: "*hi*", ParseMode: "Markdown"}, gotBody)
}

func TestSendMessageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Token: "123:abc", APIURL: server.URL})
	require.NoError(t, err)

	err = client.SendMessage(context.Background(), "-100", "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Contains(t, err.Error(), "400")
}

func TestSendMessageNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Token: "t", APIURL: server.URL})
	require.NoError(t, err)

	err = client.SendMessage(context.Background(), "1", "hi", "")
	assert.ErrorContains(t, err, "bot was blocked")
}

func TestSendMessageTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{Token: "secret-token", APIURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	err = client.SendMessage(context.Background(), "1", "hi", "")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, errors.ErrNotConfigured)
}
