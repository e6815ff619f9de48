package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() Key {
	return Key{
		InstallationID: 42,
		RepoFullName:   "acme/widgets",
		ContextType:    ContextIssue,
		ContextNumber:  7,
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Equal(t, StatusActive, first.Status)

	second, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := svc.GetOrCreate(ctx, testKey())
			require.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "all concurrent resolutions must yield one conversation")
	}
}

func TestAppendOnlyLedgerOrder(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	conv, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)

	const total = 5
	for i := 0; i < total; i++ {
		_, err := svc.AppendMessage(ctx, conv.ID, RoleUser, fmt.Sprintf("message %d", i), "alice", "comment_created")
		require.NoError(t, err)
	}

	msgs, err := svc.RecentMessages(ctx, conv.ID, total)
	require.NoError(t, err)
	require.Len(t, msgs, total)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content, "messages must come back oldest first")
	}
}

func TestRecentMessagesLimitKeepsNewest(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	conv, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := svc.AppendMessage(ctx, conv.ID, RoleUser, fmt.Sprintf("message %d", i), "alice", "comment_created")
		require.NoError(t, err)
	}

	msgs, err := svc.RecentMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "message 5", msgs[0].Content)
	assert.Equal(t, "message 7", msgs[2].Content)
}

func TestArchiveByContextAndReopen(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	conv, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)

	require.NoError(t, svc.ArchiveByContext(ctx, "acme/widgets", 7))
	got, err := svc.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)

	// Reopening is allowed: archived is not a terminal state.
	require.NoError(t, svc.SetStatus(ctx, conv.ID, StatusActive))
	got, err = svc.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	// Archiving a context with no conversation is a no-op.
	require.NoError(t, svc.ArchiveByContext(ctx, "acme/widgets", 9999))
}

func TestActionLifecycle(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	conv, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)

	action := &AgentAction{
		ConversationID: conv.ID,
		ActionType:     "create_file",
		ActionData:     []byte(`{"type":"create_file","path":"docs/plan.md"}`),
	}
	require.NoError(t, svc.RecordAction(ctx, action))
	assert.Equal(t, ActionPending, action.Status)

	require.NoError(t, svc.FailAction(ctx, action.ID, fmt.Errorf("github: 422 reference already exists")))

	actions, err := svc.ActionsFor(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionFailed, actions[0].Status)
	assert.NotEmpty(t, actions[0].ErrorMessage)
	assert.NotNil(t, actions[0].CompletedAt)
	// Original payload survives the failure.
	assert.JSONEq(t, `{"type":"create_file","path":"docs/plan.md"}`, string(actions[0].ActionData))
}

func TestDeleteInstallationCascades(t *testing.T) {
	svc := NewService(NewInMemoryStore())
	ctx := context.Background()

	conv, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, conv.ID, RoleUser, "hello", "alice", "issue_opened")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteInstallation(ctx, 42))

	_, err = svc.GetByID(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A fresh event re-creates the conversation from scratch.
	again, err := svc.GetOrCreate(ctx, testKey())
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, again.ID)
}
