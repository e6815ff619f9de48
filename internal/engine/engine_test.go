package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderbot/coderbot/internal/ai"
	"github.com/coderbot/coderbot/internal/conversation"
	"github.com/coderbot/coderbot/internal/events"
	"github.com/coderbot/coderbot/internal/githubapp"
)

type fakeTransport struct {
	mu sync.Mutex

	tree     []githubapp.TreeEntry
	treeErr  error
	files    map[string]string
	fileErr  map[string]error
	writeErr map[string]error

	comments    []string
	filesPut    []string
	branches    []string
	pullsOpened []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		files:    map[string]string{},
		fileErr:  map[string]error{},
		writeErr: map[string]error{},
	}
}

func (f *fakeTransport) BotUsername(ctx context.Context) string { return "coder-bot" }

func (f *fakeTransport) ListTree(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]githubapp.TreeEntry, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	return f.tree, nil
}

func (f *fakeTransport) GetFile(ctx context.Context, installationID int64, repoFullName, path, ref string) (string, error) {
	if err := f.fileErr[path]; err != nil {
		return "", err
	}
	content, ok := f.files[path]
	if !ok {
		return "", githubapp.ErrFileNotFound
	}
	return content, nil
}

func (f *fakeTransport) CreateOrUpdateFile(ctx context.Context, installationID int64, repoFullName, path, content, message, branch, sha string) error {
	if err := f.writeErr[path]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filesPut = append(f.filesPut, path)
	return nil
}

func (f *fakeTransport) CreateBranch(ctx context.Context, installationID int64, repoFullName, name, sourceBranch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, name)
	return nil
}

func (f *fakeTransport) CreatePullRequest(ctx context.Context, installationID int64, repoFullName, title, prBody, head, base string) (*githubapp.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullsOpened = append(f.pullsOpened, title)
	return &githubapp.PullRequest{Number: 101, URL: "https://github.com/" + repoFullName + "/pull/101"}, nil
}

func (f *fakeTransport) CreateComment(ctx context.Context, installationID int64, repoFullName string, issueOrPRNumber int, commentBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, commentBody)
	return nil
}

type fakeModel struct {
	reply string
	err   error
	calls int
}

func (f *fakeModel) Generate(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestEngine(t *testing.T, transport *fakeTransport, model *fakeModel) (*Engine, *conversation.Service) {
	t.Helper()
	store := conversation.NewService(conversation.NewInMemoryStore())
	eng := New(store, transport, model, nil, Config{BotHandle: "coder-bot"})
	return eng, store
}

func issueOpened(number int, title, body string) *events.IssuesEvent {
	return &events.IssuesEvent{
		Action:       "opened",
		Issue:        events.Issue{Number: number, Title: title, Body: body, User: events.Account{Login: "alice"}},
		Repository:   events.Repository{Name: "widgets", FullName: "acme/widgets", DefaultBranch: "main"},
		Installation: events.Installation{ID: 7},
		Sender:       events.Account{Login: "alice"},
	}
}

func TestIssueOpenedFullPipeline(t *testing.T) {
	transport := newFakeTransport()
	model := &fakeModel{reply: "I'll add the file.\n\n```json\n" +
		`{"actions":[{"type":"create_file","path":"docs/FIX.md","content":"notes"}]}` + "\n```"}
	eng, store := newTestEngine(t, transport, model)
	ctx := context.Background()

	eng.HandleIssues(ctx, issueOpened(12, "Bug in login", "please fix the crash"))

	conv, err := store.GetOrCreate(ctx, conversation.Key{
		InstallationID: 7, RepoFullName: "acme/widgets",
		ContextType: conversation.ContextIssue, ContextNumber: 12,
	})
	require.NoError(t, err)

	messages, err := store.RecentMessages(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Contains(t, messages[0].Content, "Bug in login")
	assert.Equal(t, conversation.RoleAssistant, messages[1].Role)
	assert.Equal(t, "I'll add the file.", messages[1].Content)

	require.Len(t, transport.comments, 1)
	assert.Equal(t, "I'll add the file.", transport.comments[0])
	assert.Equal(t, []string{"docs/FIX.md"}, transport.filesPut)

	actions, err := store.ActionsFor(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, conversation.ActionCompleted, actions[0].Status)
}

func TestModelFailureLeavesLedgerIntactPostsNothing(t *testing.T) {
	transport := newFakeTransport()
	model := &fakeModel{err: errors.New("upstream exploded")}
	eng, store := newTestEngine(t, transport, model)
	ctx := context.Background()

	eng.HandleIssues(ctx, issueOpened(3, "fix the build", "it is broken"))

	conv, err := store.GetOrCreate(ctx, conversation.Key{
		InstallationID: 7, RepoFullName: "acme/widgets",
		ContextType: conversation.ContextIssue, ContextNumber: 3,
	})
	require.NoError(t, err)

	messages, err := store.RecentMessages(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, messages, 1, "triggering message survives the model failure")
	assert.Equal(t, conversation.RoleUser, messages[0].Role)

	assert.Empty(t, transport.comments, "no error text posted to the thread")
	assert.Equal(t, 1, model.calls)
}

func TestGatedIssueCreatesNoConversation(t *testing.T) {
	transport := newFakeTransport()
	model := &fakeModel{reply: "unused"}
	eng, store := newTestEngine(t, transport, model)
	ctx := context.Background()

	eng.HandleIssues(ctx, issueOpened(5, "Release notes draft", "weekly roundup"))

	convs, err := store.ActiveConversations(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Equal(t, 0, model.calls)
}

func TestIssueClosedArchivesConversation(t *testing.T) {
	transport := newFakeTransport()
	model := &fakeModel{reply: "ack"}
	eng, store := newTestEngine(t, transport, model)
	ctx := context.Background()

	eng.HandleIssues(ctx, issueOpened(8, "bug: crash on save", "details"))

	closed := issueOpened(8, "bug: crash on save", "details")
	closed.Action = "closed"
	eng.HandleIssues(ctx, closed)

	conv, err := store.GetOrCreate(ctx, conversation.Key{
		InstallationID: 7, RepoFullName: "acme/widgets",
		ContextType: conversation.ContextIssue, ContextNumber: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusArchived, conv.Status)
}

func TestCommentOnPullRequestThreadJoinsPRConversation(t *testing.T) {
	transport := newFakeTransport()
	model := &fakeModel{reply: "On it."}
	eng, store := newTestEngine(t, transport, model)
	ctx := context.Background()

	eng.HandleIssueComment(ctx, &events.IssueCommentEvent{
		Action: "created",
		Issue: events.Issue{
			Number:      4,
			PullRequest: []byte(`{"url":"https://api.github.com/repos/acme/widgets/pulls/4"}`),
		},
		Comment:      events.Comment{Body: "@coder-bot please review", User: events.Account{Login: "bob"}},
		Repository:   events.Repository{FullName: "acme/widgets", DefaultBranch: "main"},
		Installation: events.Installation{ID: 7},
		Sender:       events.Account{Login: "bob"},
	})

	conv, err := store.GetOrCreate(ctx, conversation.Key{
		InstallationID: 7, RepoFullName: "acme/widgets",
		ContextType: conversation.ContextPullRequest, ContextNumber: 4,
	})
	require.NoError(t, err)

	messages, err := store.RecentMessages(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Len(t, transport.comments, 1)
	assert.Equal(t, "On it.", transport.comments[0])
}

func TestReviewApprovalRecordedButNotAnswered(t *testing.T) {
	transport := newFakeTransport()
	model := &fakeModel{reply: "unused"}
	eng, store := newTestEngine(t, transport, model)
	ctx := context.Background()

	eng.HandleReview(ctx, &events.ReviewEvent{
		Action:       "submitted",
		Review:       events.Review{State: "approved", Body: "@coder-bot nice work", User: events.Account{Login: "carol"}},
		PullRequest:  events.PullRequest{Number: 9},
		Repository:   events.Repository{FullName: "acme/widgets"},
		Installation: events.Installation{ID: 7},
		Sender:       events.Account{Login: "carol"},
	})

	conv, err := store.GetOrCreate(ctx, conversation.Key{
		InstallationID: 7, RepoFullName: "acme/widgets",
		ContextType: conversation.ContextPullRequest, ContextNumber: 9,
	})
	require.NoError(t, err)

	messages, err := store.RecentMessages(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, messages, 1, "approval is recorded")
	assert.Contains(t, messages[0].Content, "**Review (approved):**")
	assert.Equal(t, 0, model.calls, "approval does not trigger the model")
}

func TestInstallationDeletedCascades(t *testing.T) {
	transport := newFakeTransport()
	model := &fakeModel{reply: "ack"}
	eng, store := newTestEngine(t, transport, model)
	ctx := context.Background()

	require.NoError(t, store.UpsertInstallation(ctx, 7, "acme", "Organization"))
	eng.HandleIssues(ctx, issueOpened(2, "bug here", "fix it"))

	var deleted events.InstallationEvent
	deleted.Action = "deleted"
	deleted.Installation.ID = 7
	eng.HandleInstallation(ctx, &deleted)

	convs, err := store.ActiveConversations(ctx, 7, 10)
	require.NoError(t, err)
	assert.Empty(t, convs, "conversations removed with the installation")
}

func TestPrepareRejectsMalformedPayload(t *testing.T) {
	transport := newFakeTransport()
	eng, _ := newTestEngine(t, transport, &fakeModel{})

	_, err := eng.Prepare("issues", []byte(`{"action":"opened"}`))
	assert.Error(t, err)

	step, err := eng.Prepare("workflow_run", []byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, step, "unhandled kinds are acknowledged without work")

	step, err = eng.Prepare("issues", []byte(fmt.Sprintf(
		`{"action":"opened","issue":{"number":1,"title":"t"},"repository":{"full_name":"a/b"},"installation":{"id":%d}}`, 7)))
	require.NoError(t, err)
	assert.NotNil(t, step)
}
