package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-chat-hub/internal/config"
	"github.com/weiawesome/wes-chat-hub/internal/domain"
	"github.com/weiawesome/wes-chat-hub/internal/hub"
	"github.com/weiawesome/wes-chat-hub/internal/relay"
	"github.com/weiawesome/wes-chat-hub/internal/service"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

var errInvalidPayload = errors.New("invalid payload")

type WSHandler struct {
	hub      *hub.Hub
	service  service.ChatService
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// originChecker allows every origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes. The session bound to the connection is released afterwards.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.Ctx(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	client := hub.NewClient(ctx, uuid.NewString(), h.hub, conn, h.wsCfg)
	if !h.hub.Register(client) {
		l.Warn().Msg("hub stopped, refusing connection")
		conn.Close()
		return
	}

	cl := pkglog.Ctx(client.Ctx)
	cl.Info().Msg("client connected")

	go client.WritePump()
	client.ReadPump(h.handleMessage)

	if err := h.service.HandleDisconnect(client.Ctx, client.ID); err != nil && !errors.Is(err, hub.ErrStopped) {
		cl.Error().Err(err).Msg("disconnect handling failed")
	}
	cl.Info().Msg("client disconnected")
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	defer func() {
		if rec := recover(); rec != nil {
			l := pkglog.Ctx(client.Ctx)
			l.Error().
				Str(pkglog.FieldEvent, base.Type).
				Str("panic", fmt.Sprint(rec)).
				Msg("recovered from panic while handling frame")
			h.reply(client, base.Type, domain.ErrCodeInternalError, "internal error")
		}
	}()

	if err := json.Unmarshal(message, &base); err != nil {
		h.reply(client, "", domain.ErrCodeBadRequest, "invalid message format")
		return
	}

	ctx := client.Ctx
	var err error

	switch base.Type {
	case domain.MsgTypeAnnounce:
		var msg domain.AnnounceMessage
		if err = decode(message, &msg); err == nil {
			err = h.service.HandleAnnounce(ctx, client.ID, &msg)
		}

	case domain.MsgTypeGetHistory:
		err = h.service.HandleGetHistory(ctx, client.ID)

	case domain.MsgTypeListUsers:
		err = h.service.HandleListUsers(ctx, client.ID)

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageRequest
		if err = decode(message, &msg); err == nil {
			if err = requireFields("username", msg.Username); err == nil {
				err = h.service.HandleSendMessage(ctx, client.ID, &msg)
			}
		}

	case domain.MsgTypeEditMessage:
		var msg domain.EditMessageRequest
		if err = decode(message, &msg); err == nil {
			if err = requireFields("id", msg.ID, "username", msg.Username); err == nil {
				err = h.service.HandleEditMessage(ctx, client.ID, &msg)
			}
		}

	case domain.MsgTypeDeleteMessage:
		var msg domain.DeleteMessageRequest
		if err = decode(message, &msg); err == nil {
			if err = requireFields("id", msg.ID, "username", msg.Username); err == nil {
				err = h.service.HandleDeleteMessage(ctx, client.ID, &msg)
			}
		}

	case domain.MsgTypeCallOffer, domain.MsgTypeCallAnswer:
		var msg domain.CallSignalRequest
		if err = decode(message, &msg); err == nil {
			if err = validateSignal(msg.Sender, msg.Target, "sdp_payload", msg.SDPPayload); err == nil {
				kind := relay.KindOffer
				if base.Type == domain.MsgTypeCallAnswer {
					kind = relay.KindAnswer
				}
				err = h.service.HandleSignal(ctx, client.ID, kind, msg.Sender, msg.Target, msg.SDPPayload)
			}
		}

	case domain.MsgTypeICECandidate:
		var msg domain.ICECandidateRequest
		if err = decode(message, &msg); err == nil {
			if err = validateSignal(msg.Sender, msg.Target, "candidate", msg.Candidate); err == nil {
				err = h.service.HandleSignal(ctx, client.ID, relay.KindICECandidate, msg.Sender, msg.Target, msg.Candidate)
			}
		}

	case domain.MsgTypePing:
		err = h.service.HandlePing(ctx, client.ID)

	default:
		err = badRequest(fmt.Sprintf("unknown message type %q", base.Type))
	}

	if err != nil {
		h.fail(client, base.Type, err)
	}
}

// fail logs err and reports it to the sending connection.
func (h *WSHandler) fail(client *hub.Client, event string, err error) {
	l := pkglog.Ctx(client.Ctx)
	code := service.ErrorCode(err)
	if code == domain.ErrCodeInternalError {
		l.Error().Err(err).Str(pkglog.FieldEvent, event).Msg("event handling failed")
	} else {
		l.Warn().Err(err).Str(pkglog.FieldEvent, event).Str("code", code).Msg("event rejected")
	}
	h.reply(client, event, code, service.ErrorMessage(err))
}

func (h *WSHandler) reply(client *hub.Client, event, code, message string) {
	if err := h.hub.Unicast(client.ID, domain.NewErrorMessage(code, message, event)); err != nil {
		l := pkglog.Ctx(client.Ctx)
		l.Debug().Err(err).Msg("failed to queue error reply")
	}
}

func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
}

func decode(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest(fmt.Sprintf("%v: %v", errInvalidPayload, err))
	}
	return nil
}

// requireFields takes name/value pairs and rejects the first blank value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return badRequest(pairs[i] + " is required")
		}
	}
	return nil
}

func validateSignal(sender, target, payloadField string, payload json.RawMessage) error {
	if err := requireFields("sender", sender, "target", target); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return badRequest(payloadField + " is required")
	}
	return nil
}

func badRequest(message string) error {
	return &service.RejectError{Code: domain.ErrCodeBadRequest, Message: message}
}
