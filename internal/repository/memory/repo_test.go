package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskchat/internal/domain"
)

func TestInsertMessage_IdempotentByClientID(t *testing.T) {
	ctx := context.Background()
	repo := New()

	first, created, err := repo.InsertMessage(ctx, "T1", domain.Message{ID: "s1", ClientID: "c1", Body: "hi", CreatedAt: 1})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.InsertMessage(ctx, "T1", domain.Message{ID: "s2", ClientID: "c1", Body: "hi", CreatedAt: 2})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// Client ids are scoped to a chat.
	_, created, err = repo.InsertMessage(ctx, "T2", domain.Message{ID: "s3", ClientID: "c1", Body: "hi", CreatedAt: 3})
	require.NoError(t, err)
	assert.True(t, created)

	msgs, err := repo.ListMessages(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestListMessages_EmptyChat(t *testing.T) {
	msgs, err := New().ListMessages(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
