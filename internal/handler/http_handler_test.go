package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat-hub/internal/config"
	"github.com/weiawesome/wes-chat-hub/internal/domain"
	"github.com/weiawesome/wes-chat-hub/internal/hub"
	"github.com/weiawesome/wes-chat-hub/internal/ice"
	"github.com/weiawesome/wes-chat-hub/internal/idgen"
	"github.com/weiawesome/wes-chat-hub/internal/msglog"
	"github.com/weiawesome/wes-chat-hub/internal/registry"
	"github.com/weiawesome/wes-chat-hub/internal/relay"
	"github.com/weiawesome/wes-chat-hub/internal/service"
	"github.com/weiawesome/wes-chat-hub/internal/store"
	"github.com/weiawesome/wes-chat-hub/pkg/storage"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)

type apiFixture struct {
	router *gin.Engine
	store  *store.Store
	reg    *registry.Registry
}

func newAPIFixture(t *testing.T, mediaCfg config.MediaConfig) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.NewHub()
	reg := registry.New()
	st := store.New(msglog.NewMemory(), idgen.NewULIDGenerator())
	require.NoError(t, st.Load(context.Background()))
	svc := service.NewChatService(h, reg, st, relay.New(reg, h), nil, nil)

	blobs, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	router := gin.New()
	NewHTTPHandler(svc, blobs, idgen.NewULIDGenerator(), mediaCfg, h, ice.NewProvider(ice.Config{})).RegisterRoutes(router)
	return &apiFixture{router: router, store: st, reg: reg}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("username", "alice"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func defaultMedia() config.MediaConfig {
	return config.MediaConfig{MaxUploadSize: 1 << 20, AllowedTypes: []string{"image/", "audio/", "video/"}}
}

func TestUploadAndFetchMedia(t *testing.T) {
	f := newAPIFixture(t, defaultMedia())

	w := f.do(uploadRequest(t, "file", "cat.png", pngBytes))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	var data struct {
		MediaRef    string `json:"media_ref"`
		ContentType string `json:"content_type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, strings.HasPrefix(data.MediaRef, MediaPrefix))
	assert.True(t, strings.HasSuffix(data.MediaRef, ".png"))
	assert.Equal(t, "image/png", data.ContentType)

	w = f.do(httptest.NewRequest(http.MethodGet, data.MediaRef, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, w.Body.Bytes())
}

func TestUploadRejections(t *testing.T) {
	cfg := defaultMedia()
	cfg.MaxUploadSize = 32
	f := newAPIFixture(t, cfg)

	w := f.do(uploadRequest(t, "file", "notes.txt", []byte("just some text")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", decodeEnvelope(t, w).Error.Code)

	w = f.do(uploadRequest(t, "file", "big.png", pngBytes))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = f.do(uploadRequest(t, "attachment", "cat.png", pngBytes[:16]))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMediaNotFound(t *testing.T) {
	f := newAPIFixture(t, defaultMedia())

	for _, path := range []string{
		"/api/v1/media/missing.png",
		"/api/v1/media/../config.yaml",
		"/api/v1/media/",
	} {
		w := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestListMessagesAndUsers(t *testing.T) {
	f := newAPIFixture(t, defaultMedia())
	ctx := context.Background()

	_, err := f.store.Append(ctx, "alice", "hello", "")
	require.NoError(t, err)
	f.reg.Announce("alice", "a.png", "c1")

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var msgs struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "hello", msgs.Messages[0].Text)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var users struct {
		Users domain.UsersSnapshot `json:"users"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &users))
	assert.Equal(t, "a.png", users.Users["alice"].AvatarRef)
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t, defaultMedia())
	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, w.Body.String())
}

func TestICEServers(t *testing.T) {
	f := newAPIFixture(t, defaultMedia())
	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/ice-servers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"iceServers":[{"urls":["`+ice.DefaultFallbackSTUN+`"]}]}`, w.Body.String())
}
