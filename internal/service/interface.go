package service

import (
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
	"github.com/weiawesome/wes-chat-hub/internal/relay"
)

// Broadcaster delivers events to every connection or to a single one.
type Broadcaster interface {
	Broadcast(msg interface{}) error
	Unicast(connID string, msg interface{}) error
}

// ChatService handles decoded client events. Each Handle method returns a
// *RejectError for requests that must be refused; any other error is an
// internal failure.
type ChatService interface {
	HandleAnnounce(ctx context.Context, connID string, req *domain.AnnounceMessage) error
	HandleGetHistory(ctx context.Context, connID string) error
	HandleListUsers(ctx context.Context, connID string) error
	HandleSendMessage(ctx context.Context, connID string, req *domain.SendMessageRequest) error
	HandleEditMessage(ctx context.Context, connID string, req *domain.EditMessageRequest) error
	HandleDeleteMessage(ctx context.Context, connID string, req *domain.DeleteMessageRequest) error
	HandleSignal(ctx context.Context, connID string, kind relay.Kind, sender, target string, payload json.RawMessage) error
	HandlePing(ctx context.Context, connID string) error
	HandleDisconnect(ctx context.Context, connID string) error

	Messages() []domain.ChatMessage
	Users() domain.UsersSnapshot

	Start(ctx context.Context) error
	Stop() error
}
