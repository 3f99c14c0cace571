package audit

import (
	"context"

	"github.com/weiawesome/wes-chat-hub/pkg/log"
)

// Audit actions for the chat hub.
const (
	ActionJoin            = "chat.join"
	ActionRename          = "chat.rename"
	ActionTakeover        = "chat.takeover"
	ActionDisconnect      = "chat.disconnect"
	ActionSendMessage     = "chat.send_message"
	ActionEditMessage     = "chat.edit_message"
	ActionDeleteMessage   = "chat.delete_message"
	ActionModeratorGrant  = "chat.moderator_granted"
	ActionModeratorDenied = "chat.moderator_denied"
	ActionModeratorDelete = "chat.moderator_delete"
	ActionUploadMedia     = "chat.upload_media"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, username, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Msg(msg)
}

// LogTarget emits an audit entry about an action on a specific object.
func LogTarget(ctx context.Context, action, username, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, username, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Str(FieldDetail, detail).
		Msg(msg)
}
