package domain

import (
	"encoding/json"
	"time"
)

// WebSocket message types from client.
const (
	MsgTypeAnnounce      = "announce"
	MsgTypeGetHistory    = "get-history"
	MsgTypeListUsers     = "list-users"
	MsgTypeSendMessage   = "send-message"
	MsgTypeEditMessage   = "edit-message"
	MsgTypeDeleteMessage = "delete-message"
	MsgTypeCallOffer     = "call-offer"
	MsgTypeCallAnswer    = "call-answer"
	MsgTypeICECandidate  = "ice-candidate"
	MsgTypePing          = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeUsersUpdated    = "users-updated"
	MsgTypeHistory         = "history"
	MsgTypeMessageAppended = "message-appended"
	MsgTypeMessageEdited   = "message-edited"
	MsgTypeMessageDeleted  = "message-deleted"
	MsgTypeIncomingOffer   = "incoming-offer"
	MsgTypeIncomingAnswer  = "incoming-answer"
	MsgTypeIncomingICE     = "incoming-ice"
	MsgTypePong            = "pong"
	MsgTypeError           = "error"
)

// Error codes
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeNotAnnounced      = "NOT_ANNOUNCED"
	ErrCodeIdentityMismatch  = "IDENTITY_MISMATCH"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeTargetUnavailable = "TARGET_UNAVAILABLE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type AnnounceMessage struct {
	Type           string `json:"type"`
	Username       string `json:"username"`
	AvatarRef      string `json:"avatar_ref"`
	ModeratorToken string `json:"moderator_token,omitempty"`
}

type SendMessageRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Text     string `json:"text,omitempty"`
	MediaRef string `json:"media_ref,omitempty"`
}

type EditMessageRequest struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

type DeleteMessageRequest struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CallSignalRequest covers call-offer and call-answer.
type CallSignalRequest struct {
	Type       string          `json:"type"`
	Sender     string          `json:"sender"`
	Target     string          `json:"target"`
	SDPPayload json.RawMessage `json:"sdp_payload"`
}

type ICECandidateRequest struct {
	Type      string          `json:"type"`
	Sender    string          `json:"sender"`
	Target    string          `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

// Server -> Client messages

type UsersUpdatedMessage struct {
	Type  string        `json:"type"`
	Users UsersSnapshot `json:"users"`
}

type HistoryMessage struct {
	Type     string        `json:"type"`
	Messages []ChatMessage `json:"messages"`
	Users    UsersSnapshot `json:"users"`
}

type MessageAppendedMessage struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

type MessageEditedMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Text     string `json:"text"`
	EditedAt string `json:"edited_at"`
}

type MessageDeletedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// IncomingSDPMessage is sent for incoming-offer and incoming-answer.
type IncomingSDPMessage struct {
	Type       string          `json:"type"`
	SDPPayload json.RawMessage `json:"sdp_payload"`
	Sender     string          `json:"sender"`
}

type IncomingICEMessage struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	Sender    string          `json:"sender"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func NewUsersUpdatedMessage(users UsersSnapshot) *UsersUpdatedMessage {
	return &UsersUpdatedMessage{Type: MsgTypeUsersUpdated, Users: users}
}

func NewHistoryMessage(messages []ChatMessage, users UsersSnapshot) *HistoryMessage {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return &HistoryMessage{Type: MsgTypeHistory, Messages: messages, Users: users}
}

func NewMessageAppendedMessage(msg ChatMessage) *MessageAppendedMessage {
	return &MessageAppendedMessage{Type: MsgTypeMessageAppended, Message: msg}
}

func NewMessageEditedMessage(msg ChatMessage) *MessageEditedMessage {
	out := &MessageEditedMessage{Type: MsgTypeMessageEdited, ID: msg.ID, Text: msg.Text}
	if msg.EditedAt != nil {
		out.EditedAt = msg.EditedAt.UTC().Format(TimeFormat)
	} else {
		out.EditedAt = time.Now().UTC().Format(TimeFormat)
	}
	return out
}

func NewMessageDeletedMessage(id string) *MessageDeletedMessage {
	return &MessageDeletedMessage{Type: MsgTypeMessageDeleted, ID: id}
}

func NewPongMessage() *PongMessage {
	return &PongMessage{Type: MsgTypePong}
}

func NewErrorMessage(code, message, event string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
		Event:   event,
	}
}
