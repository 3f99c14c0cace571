package kafka

import (
	"context"
	"time"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

// ChatEvent is the exported form of one chat mutation.
type ChatEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Event types
const (
	EventMessageAppended = "message_appended"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
)

// ChatEventProducer exports chat mutations after they are committed.
type ChatEventProducer interface {
	ProduceMessageAppended(ctx context.Context, msg domain.ChatMessage) error
	ProduceMessageEdited(ctx context.Context, msg domain.ChatMessage) error
	ProduceMessageDeleted(ctx context.Context, msg domain.ChatMessage, actor string) error
	Close() error
}

func appendedEvent(msg domain.ChatMessage) *ChatEvent {
	return &ChatEvent{
		Type:      EventMessageAppended,
		MessageID: msg.ID,
		Username:  msg.Username,
		Text:      msg.Text,
		MediaRef:  msg.MediaRef,
		Actor:     msg.Username,
		Timestamp: msg.CreatedAt.UnixMilli(),
	}
}

func editedEvent(msg domain.ChatMessage) *ChatEvent {
	ts := time.Now()
	if msg.EditedAt != nil {
		ts = *msg.EditedAt
	}
	return &ChatEvent{
		Type:      EventMessageEdited,
		MessageID: msg.ID,
		Username:  msg.Username,
		Text:      msg.Text,
		Actor:     msg.Username,
		Timestamp: ts.UnixMilli(),
	}
}

func deletedEvent(msg domain.ChatMessage, actor string) *ChatEvent {
	return &ChatEvent{
		Type:      EventMessageDeleted,
		MessageID: msg.ID,
		Username:  msg.Username,
		Actor:     actor,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NoopProducer drops every event. It is used when export is disabled.
type NoopProducer struct{}

func (NoopProducer) ProduceMessageAppended(context.Context, domain.ChatMessage) error { return nil }
func (NoopProducer) ProduceMessageEdited(context.Context, domain.ChatMessage) error   { return nil }
func (NoopProducer) ProduceMessageDeleted(context.Context, domain.ChatMessage, string) error {
	return nil
}
func (NoopProducer) Close() error { return nil }
