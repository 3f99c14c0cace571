package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/weiawesome/wes-chat-hub/internal/audit"
	"github.com/weiawesome/wes-chat-hub/internal/domain"
	"github.com/weiawesome/wes-chat-hub/internal/kafka"
	"github.com/weiawesome/wes-chat-hub/internal/moderation"
	"github.com/weiawesome/wes-chat-hub/internal/registry"
	"github.com/weiawesome/wes-chat-hub/internal/relay"
	"github.com/weiawesome/wes-chat-hub/internal/store"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

type chatService struct {
	out        Broadcaster
	registry   *registry.Registry
	store      *store.Store
	relay      *relay.Relay
	producer   kafka.ChatEventProducer
	moderation *moderation.Manager

	// moderators maps a connection to the username it was elevated for.
	modMu      sync.Mutex
	moderators map[string]string

	// presenceMu keeps users-updated snapshots queued in the order they
	// were taken.
	presenceMu sync.Mutex
}

// NewChatService wires the session registry, the history store and the call
// relay behind one event-handling surface. producer and mod may be nil.
func NewChatService(
	out Broadcaster,
	reg *registry.Registry,
	st *store.Store,
	rl *relay.Relay,
	producer kafka.ChatEventProducer,
	mod *moderation.Manager,
) ChatService {
	if producer == nil {
		producer = kafka.NoopProducer{}
	}
	return &chatService{
		out:        out,
		registry:   reg,
		store:      st,
		relay:      rl,
		producer:   producer,
		moderation: mod,
		moderators: make(map[string]string),
	}
}

func (s *chatService) Start(ctx context.Context) error {
	l := pkglog.Ctx(ctx)
	l.Info().
		Int("messages", s.store.Len()).
		Bool("moderation", s.moderation != nil).
		Msg("chat service started")
	return nil
}

func (s *chatService) Stop() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("failed to close event producer: %w", err)
	}
	return nil
}

func (s *chatService) Messages() []domain.ChatMessage {
	return s.store.List()
}

func (s *chatService) Users() domain.UsersSnapshot {
	return s.registry.Snapshot()
}

func (s *chatService) HandleAnnounce(ctx context.Context, connID string, req *domain.AnnounceMessage) error {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return reject(domain.ErrCodeBadRequest, "username is required")
	}

	elevated := false
	if req.ModeratorToken != "" {
		if _, err := s.moderation.Verify(req.ModeratorToken, username); err != nil {
			audit.LogWithDetail(ctx, audit.ActionModeratorDenied, username, err.Error(), "moderator token rejected")
			return rejectWrap(domain.ErrCodeForbidden, "moderator token rejected", err)
		}
		elevated = true
	}

	res := s.registry.Announce(username, req.AvatarRef, connID)
	if res.Outcome == registry.Rejected {
		return reject(domain.ErrCodeBadRequest, "username is required")
	}

	s.modMu.Lock()
	if res.Previous != "" {
		delete(s.moderators, res.Previous)
	}
	if elevated {
		s.moderators[connID] = username
	} else {
		delete(s.moderators, connID)
	}
	s.modMu.Unlock()

	if elevated {
		audit.Log(ctx, audit.ActionModeratorGrant, username, "moderator session established")
	}
	if res.Renamed != "" {
		audit.LogWithDetail(ctx, audit.ActionRename, username, res.Renamed, "connection changed username")
	}
	if res.Previous != "" {
		audit.LogWithDetail(ctx, audit.ActionTakeover, username, res.Previous, "session moved to a new connection")
	}

	// A fresh session or one moved onto a new connection needs the backlog.
	if res.Outcome == registry.Joined || res.Previous != "" {
		if res.Outcome == registry.Joined {
			audit.Log(ctx, audit.ActionJoin, username, "user joined")
		}
		if err := s.out.Unicast(connID, domain.NewHistoryMessage(s.store.List(), s.registry.Snapshot())); err != nil {
			return fmt.Errorf("failed to send history: %w", err)
		}
	}

	if res.Outcome == registry.Joined || res.Outcome == registry.Changed || res.Renamed != "" {
		return s.broadcastUsers()
	}
	return nil
}

func (s *chatService) HandleGetHistory(ctx context.Context, connID string) error {
	s.touchConn(connID)
	if err := s.out.Unicast(connID, domain.NewHistoryMessage(s.store.List(), s.registry.Snapshot())); err != nil {
		return fmt.Errorf("failed to send history: %w", err)
	}
	return nil
}

func (s *chatService) HandleListUsers(ctx context.Context, connID string) error {
	s.touchConn(connID)
	if err := s.out.Unicast(connID, domain.NewUsersUpdatedMessage(s.registry.Snapshot())); err != nil {
		return fmt.Errorf("failed to send users: %w", err)
	}
	return nil
}

func (s *chatService) HandleSendMessage(ctx context.Context, connID string, req *domain.SendMessageRequest) error {
	username, err := s.requireIdentity(connID, req.Username)
	if err != nil {
		return err
	}

	msg, err := s.store.Append(ctx, username, req.Text, req.MediaRef)
	if err != nil {
		return mapStoreError(err)
	}

	if err := s.out.Broadcast(domain.NewMessageAppendedMessage(msg)); err != nil {
		return fmt.Errorf("failed to broadcast message: %w", err)
	}
	s.export(ctx, msg.ID, s.producer.ProduceMessageAppended(ctx, msg))
	audit.LogTarget(ctx, audit.ActionSendMessage, msg.Username, msg.ID, "message sent")
	return nil
}

func (s *chatService) HandleEditMessage(ctx context.Context, connID string, req *domain.EditMessageRequest) error {
	username, err := s.requireIdentity(connID, req.Username)
	if err != nil {
		return err
	}

	msg, err := s.store.Edit(ctx, req.ID, username, req.Text)
	if err != nil {
		return mapStoreError(err)
	}

	if err := s.out.Broadcast(domain.NewMessageEditedMessage(msg)); err != nil {
		return fmt.Errorf("failed to broadcast edit: %w", err)
	}
	s.export(ctx, msg.ID, s.producer.ProduceMessageEdited(ctx, msg))
	audit.LogTarget(ctx, audit.ActionEditMessage, username, msg.ID, "message edited")
	return nil
}

func (s *chatService) HandleDeleteMessage(ctx context.Context, connID string, req *domain.DeleteMessageRequest) error {
	username, err := s.requireIdentity(connID, req.Username)
	if err != nil {
		return err
	}

	action := audit.ActionDeleteMessage
	msg, err := s.store.Delete(ctx, req.ID, username, false)
	if errors.Is(err, store.ErrNotAuthor) && s.isModerator(connID, username) {
		action = audit.ActionModeratorDelete
		msg, err = s.store.Delete(ctx, req.ID, username, true)
	}
	if err != nil {
		return mapStoreError(err)
	}

	if err := s.out.Broadcast(domain.NewMessageDeletedMessage(msg.ID)); err != nil {
		return fmt.Errorf("failed to broadcast delete: %w", err)
	}
	s.export(ctx, msg.ID, s.producer.ProduceMessageDeleted(ctx, msg, username))
	audit.LogTarget(ctx, action, username, msg.ID, "message deleted")
	return nil
}

func (s *chatService) HandleSignal(ctx context.Context, connID string, kind relay.Kind, sender, target string, payload json.RawMessage) error {
	sender, err := s.requireIdentity(connID, sender)
	if err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return reject(domain.ErrCodeBadRequest, "target is required")
	}

	if !s.relay.Forward(kind, sender, target, payload) {
		l := pkglog.Ctx(ctx)
		l.Debug().
			Str(pkglog.FieldEvent, string(kind)).
			Str(pkglog.FieldUsername, sender).
			Str(pkglog.FieldTarget, target).
			Msg("signaling target unavailable")
		return reject(domain.ErrCodeTargetUnavailable, fmt.Sprintf("%s is not connected", target))
	}
	return nil
}

func (s *chatService) HandlePing(ctx context.Context, connID string) error {
	s.touchConn(connID)
	return s.out.Unicast(connID, domain.NewPongMessage())
}

func (s *chatService) HandleDisconnect(ctx context.Context, connID string) error {
	s.modMu.Lock()
	delete(s.moderators, connID)
	s.modMu.Unlock()

	sess, ok := s.registry.DisconnectByConnection(connID)
	if !ok {
		return nil
	}
	audit.Log(ctx, audit.ActionDisconnect, sess.Username, "user disconnected")
	return s.broadcastUsers()
}

// requireIdentity checks that connID currently holds username, refreshes its
// presence and returns the registered name.
func (s *chatService) requireIdentity(connID, username string) (string, error) {
	owned, ok := s.registry.UsernameOf(connID)
	if !ok {
		return "", reject(domain.ErrCodeNotAnnounced, "announce a username first")
	}
	if owned != strings.TrimSpace(username) {
		return "", reject(domain.ErrCodeIdentityMismatch, fmt.Sprintf("connection is announced as %s", owned))
	}
	s.registry.Touch(owned)
	return owned, nil
}

func (s *chatService) touchConn(connID string) {
	if username, ok := s.registry.UsernameOf(connID); ok {
		s.registry.Touch(username)
	}
}

func (s *chatService) isModerator(connID, username string) bool {
	s.modMu.Lock()
	defer s.modMu.Unlock()
	return s.moderators[connID] == username
}

func (s *chatService) broadcastUsers() error {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	if err := s.out.Broadcast(domain.NewUsersUpdatedMessage(s.registry.Snapshot())); err != nil {
		return fmt.Errorf("failed to broadcast users: %w", err)
	}
	return nil
}

// export logs a failed event export. Export never fails the request.
func (s *chatService) export(ctx context.Context, messageID string, err error) {
	if err == nil {
		return
	}
	l := pkglog.Ctx(ctx)
	l.Warn().Err(err).Str(pkglog.FieldMessageID, messageID).Msg("failed to export chat event")
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return rejectWrap(domain.ErrCodeNotFound, "message not found", err)
	case errors.Is(err, store.ErrNotAuthor):
		return rejectWrap(domain.ErrCodeForbidden, "only the author may change this message", err)
	case errors.Is(err, store.ErrEmptyMessage),
		errors.Is(err, store.ErrNoAuthor),
		errors.Is(err, store.ErrNoText),
		errors.Is(err, store.ErrEmptyText):
		return rejectWrap(domain.ErrCodeBadRequest, err.Error(), err)
	default:
		return err
	}
}
