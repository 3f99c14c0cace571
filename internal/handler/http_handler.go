package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-chat-hub/internal/audit"
	"github.com/weiawesome/wes-chat-hub/internal/config"
	"github.com/weiawesome/wes-chat-hub/internal/ice"
	"github.com/weiawesome/wes-chat-hub/internal/idgen"
	"github.com/weiawesome/wes-chat-hub/internal/service"
	"github.com/weiawesome/wes-chat-hub/pkg/log"
	"github.com/weiawesome/wes-chat-hub/pkg/response"
	"github.com/weiawesome/wes-chat-hub/pkg/storage"
)

// MediaPrefix is the path media refs are served under.
const MediaPrefix = "/api/v1/media/"

// multipart framing allowance on top of the file size limit
const formOverhead = 1 << 20

var mediaKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ConnectionCounter reports live WebSocket connections.
type ConnectionCounter interface {
	ClientCount() int
}

// ICEProvider lists the STUN/TURN servers handed to call participants.
type ICEProvider interface {
	Servers(ctx context.Context) []ice.Server
}

type HTTPHandler struct {
	chatService service.ChatService
	storage     storage.Storage
	keys        idgen.Generator
	mediaCfg    config.MediaConfig
	conns       ConnectionCounter
	iceServers  ICEProvider
}

func NewHTTPHandler(
	chatService service.ChatService,
	store storage.Storage,
	keys idgen.Generator,
	mediaCfg config.MediaConfig,
	conns ConnectionCounter,
	iceServers ICEProvider,
) *HTTPHandler {
	return &HTTPHandler{
		chatService: chatService,
		storage:     store,
		keys:        keys,
		mediaCfg:    mediaCfg,
		conns:       conns,
		iceServers:  iceServers,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/messages", h.GetMessages)
		api.GET("/users", h.GetUsers)
		api.POST("/media", h.UploadMedia)
		api.GET("/media/*key", h.GetMedia)
		api.GET("/ice-servers", h.GetICEServers)
	}

	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	response.Success(c, gin.H{"messages": h.chatService.Messages()})
}

func (h *HTTPHandler) GetUsers(c *gin.Context) {
	response.Success(c, gin.H{"users": h.chatService.Users()})
}

// GetICEServers returns the RTCConfiguration iceServers list.
func (h *HTTPHandler) GetICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.iceServers.Servers(c.Request.Context())})
}

// UploadMedia stores a multipart "file" field and returns its media ref.
func (h *HTTPHandler) UploadMedia(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	limit := h.mediaCfg.MaxUploadSize
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+formOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(c, "file exceeds upload limit")
			return
		}
		l.Warn().Err(err).Msg("invalid upload request")
		response.BadRequest(c, "multipart field \"file\" is required")
		return
	}
	if limit > 0 && header.Size > limit {
		response.TooLarge(c, "file exceeds upload limit")
		return
	}

	file, err := header.Open()
	if err != nil {
		l.Error().Err(err).Msg("failed to open uploaded file")
		response.InternalError(c, "failed to read upload")
		return
	}
	defer file.Close()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		l.Warn().Err(err).Msg("failed to detect upload type")
		response.BadRequest(c, "unable to read upload")
		return
	}
	if !h.allowedType(mtype.String()) {
		response.UnsupportedMedia(c, "unsupported media type "+mtype.String())
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		l.Error().Err(err).Msg("failed to rewind upload")
		response.InternalError(c, "failed to read upload")
		return
	}

	id, err := h.keys.Generate()
	if err != nil {
		l.Error().Err(err).Msg("failed to generate media key")
		response.InternalError(c, "failed to store upload")
		return
	}
	key := strings.ToLower(id) + mtype.Extension()

	if err := h.storage.Write(ctx, key, file, header.Size, mtype.String()); err != nil {
		l.Error().Err(err).Str(log.FieldMediaRef, key).Msg("failed to store upload")
		response.InternalError(c, "failed to store upload")
		return
	}

	ref := MediaPrefix + key
	audit.LogTarget(ctx, audit.ActionUploadMedia, c.PostForm("username"), key, "media uploaded")
	l.Info().Str(log.FieldMediaRef, ref).Int64("size", header.Size).Msg("media stored")

	response.Created(c, gin.H{"media_ref": ref, "content_type": mtype.String()})
}

// GetMedia streams a stored blob.
func (h *HTTPHandler) GetMedia(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	key := strings.TrimPrefix(c.Param("key"), "/")
	if !mediaKeyPattern.MatchString(key) {
		response.NotFound(c, "media not found")
		return
	}

	obj, err := h.storage.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(c, "media not found")
			return
		}
		l.Error().Err(err).Str(log.FieldMediaRef, key).Msg("failed to open media")
		response.InternalError(c, "failed to read media")
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, obj.Size, contentType, obj.Body, map[string]string{
		"Cache-Control": "public, max-age=31536000, immutable",
	})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.conns.ClientCount(),
	})
}

// allowedType matches contentType against the configured prefixes. An empty
// list accepts everything.
func (h *HTTPHandler) allowedType(contentType string) bool {
	if len(h.mediaCfg.AllowedTypes) == 0 {
		return true
	}
	for _, prefix := range h.mediaCfg.AllowedTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
