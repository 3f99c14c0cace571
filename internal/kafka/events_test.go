package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

func TestEventBuilders(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	edited := created.Add(time.Minute)
	msg := domain.ChatMessage{ID: "m1", Username: "alice", Text: "hi", MediaRef: "/m/1", CreatedAt: created}

	a := appendedEvent(msg)
	assert.Equal(t, EventMessageAppended, a.Type)
	assert.Equal(t, "m1", a.MessageID)
	assert.Equal(t, "/m/1", a.MediaRef)
	assert.Equal(t, created.UnixMilli(), a.Timestamp)

	msg.EditedAt = &edited
	e := editedEvent(msg)
	assert.Equal(t, EventMessageEdited, e.Type)
	assert.Equal(t, edited.UnixMilli(), e.Timestamp)

	d := deletedEvent(msg, "mod")
	assert.Equal(t, EventMessageDeleted, d.Type)
	assert.Equal(t, "alice", d.Username)
	assert.Equal(t, "mod", d.Actor)
	assert.Empty(t, d.Text)
}

func TestNoopProducer(t *testing.T) {
	var p ChatEventProducer = NoopProducer{}
	ctx := context.Background()
	assert.NoError(t, p.ProduceMessageAppended(ctx, domain.ChatMessage{}))
	assert.NoError(t, p.ProduceMessageEdited(ctx, domain.ChatMessage{}))
	assert.NoError(t, p.ProduceMessageDeleted(ctx, domain.ChatMessage{}, "x"))
	assert.NoError(t, p.Close())
}
