// Package engine turns gated webhook events into conversation updates, model
// calls, and GitHub actions.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coderbot/coderbot/internal/ai"
	"github.com/coderbot/coderbot/internal/conversation"
	"github.com/coderbot/coderbot/internal/events"
	"github.com/coderbot/coderbot/internal/githubapp"
)

// Transport is the GitHub surface the engine needs.
type Transport interface {
	BotUsername(ctx context.Context) string
	ListTree(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]githubapp.TreeEntry, error)
	GetFile(ctx context.Context, installationID int64, repoFullName, path, ref string) (string, error)
	CreateOrUpdateFile(ctx context.Context, installationID int64, repoFullName, path, content, message, branch, sha string) error
	CreateBranch(ctx context.Context, installationID int64, repoFullName, name, sourceBranch string) error
	CreatePullRequest(ctx context.Context, installationID int64, repoFullName, title, prBody, head, base string) (*githubapp.PullRequest, error)
	CreateComment(ctx context.Context, installationID int64, repoFullName string, issueOrPRNumber int, commentBody string) error
}

// Generator produces a model reply for a conversation history.
type Generator interface {
	Generate(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// TokenInvalidator drops cached credentials for a torn-down installation.
type TokenInvalidator interface {
	Invalidate(installationID int64)
}

// Config tunes the engine.
type Config struct {
	BotHandle          string
	EditThreshold      int
	MaxContextMessages int
	MaxFileBytes       int
	ProcessTimeout     time.Duration
}

// Engine orchestrates one webhook delivery end to end: gate, resolve the
// conversation, append the triggering message, build repository context,
// invoke the model, parse, execute actions, post the narrative. Any failure
// ends that delivery; the next one starts fresh.
type Engine struct {
	store          *conversation.Service
	transport      Transport
	model          Generator
	tokens         TokenInvalidator
	gate           *Gate
	contextBuilder *ContextBuilder
	executor       *Executor

	maxContextMessages int
	timeout            time.Duration
}

// New wires an engine from its collaborators.
func New(store *conversation.Service, transport Transport, model Generator, tokens TokenInvalidator, cfg Config) *Engine {
	if cfg.MaxContextMessages <= 0 {
		cfg.MaxContextMessages = 20
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 100000
	}
	if cfg.EditThreshold <= 0 {
		cfg.EditThreshold = 50
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 2 * time.Minute
	}
	if cfg.BotHandle == "" {
		cfg.BotHandle = "coder-bot"
	}
	return &Engine{
		store:              store,
		transport:          transport,
		model:              model,
		tokens:             tokens,
		gate:               NewGate(cfg.BotHandle, cfg.EditThreshold),
		contextBuilder:     NewContextBuilder(transport, cfg.MaxFileBytes),
		executor:           NewExecutor(store, transport),
		maxContextMessages: cfg.MaxContextMessages,
		timeout:            cfg.ProcessTimeout,
	}
}

// Prepare decodes and validates a delivery, returning the processing step to
// run. A nil step with nil error means the event kind or action is not
// handled. A non-nil error means the payload is malformed and the request
// should be rejected.
func (e *Engine) Prepare(eventType string, body []byte) (func(context.Context), error) {
	switch eventType {
	case "issues":
		ev, err := events.ParseIssues(body)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { e.HandleIssues(ctx, ev) }, nil
	case "issue_comment":
		ev, err := events.ParseIssueComment(body)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { e.HandleIssueComment(ctx, ev) }, nil
	case "pull_request":
		ev, err := events.ParsePullRequest(body)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { e.HandlePullRequest(ctx, ev) }, nil
	case "pull_request_review":
		ev, err := events.ParseReview(body)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { e.HandleReview(ctx, ev) }, nil
	case "pull_request_review_comment":
		ev, err := events.ParseReviewComment(body)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { e.HandleReviewComment(ctx, ev) }, nil
	case "installation":
		ev, err := events.ParseInstallation(body)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { e.HandleInstallation(ctx, ev) }, nil
	default:
		log.Debug().Str("event", eventType).Msg("unhandled webhook event")
		return nil, nil
	}
}

// ProcessAsync runs step in the background under the configured timeout.
// The webhook response does not wait for it.
func (e *Engine) ProcessAsync(step func(context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		step(ctx)
	}()
}

// HandleIssues processes "issues" deliveries.
func (e *Engine) HandleIssues(ctx context.Context, ev *events.IssuesEvent) {
	switch ev.Action {
	case "opened":
		if !e.gate.ShouldRespondToIssue(ev) {
			return
		}
		conv, err := e.resolve(ctx, ev.Installation.ID, ev.Repository.FullName, conversation.ContextIssue, ev.Issue.Number)
		if err != nil {
			return
		}
		content := fmt.Sprintf("**Issue Title:** %s\n\n**Description:**\n%s", ev.Issue.Title, ev.Issue.Body)
		if !e.append(ctx, conv.ID, conversation.RoleUser, content, ev.Issue.User.Login, "issue_opened") {
			return
		}
		e.respond(ctx, conv, e.target(ev.Installation.ID, ev.Repository, ev.Issue.Number), ev.Repository)

	case "edited":
		if !e.gate.ShouldRespondToIssue(ev) {
			return
		}
		conv, err := e.resolve(ctx, ev.Installation.ID, ev.Repository.FullName, conversation.ContextIssue, ev.Issue.Number)
		if err != nil {
			return
		}
		content := fmt.Sprintf("**Updated Issue Title:** %s\n\n**Updated Description:**\n%s", ev.Issue.Title, ev.Issue.Body)
		if !e.append(ctx, conv.ID, conversation.RoleUser, content, ev.Issue.User.Login, "issue_edited") {
			return
		}
		if e.gate.SignificantEdit(ev.Changes, ev.Issue.Body) {
			e.respond(ctx, conv, e.target(ev.Installation.ID, ev.Repository, ev.Issue.Number), ev.Repository)
		}

	case "closed":
		if err := e.store.ArchiveByContext(ctx, ev.Repository.FullName, ev.Issue.Number); err != nil {
			log.Error().Err(err).Str("repo", ev.Repository.FullName).Int("issue", ev.Issue.Number).Msg("failed to archive conversation")
		}
	}
}

// HandleIssueComment processes "issue_comment" deliveries. Comments on pull
// request threads join the pull request conversation.
func (e *Engine) HandleIssueComment(ctx context.Context, ev *events.IssueCommentEvent) {
	if ev.Action != "created" {
		return
	}
	if !e.gate.ShouldRespondToComment(ev) {
		return
	}

	contextType := conversation.ContextIssue
	if ev.Issue.IsPullRequest() {
		contextType = conversation.ContextPullRequest
	}
	conv, err := e.resolve(ctx, ev.Installation.ID, ev.Repository.FullName, contextType, ev.Issue.Number)
	if err != nil {
		return
	}
	if !e.append(ctx, conv.ID, conversation.RoleUser, ev.Comment.Body, ev.Comment.User.Login, "comment_created") {
		return
	}
	e.respond(ctx, conv, e.target(ev.Installation.ID, ev.Repository, ev.Issue.Number), ev.Repository)
}

// HandlePullRequest processes "pull_request" deliveries.
func (e *Engine) HandlePullRequest(ctx context.Context, ev *events.PullRequestEvent) {
	switch ev.Action {
	case "opened", "edited", "synchronize":
	default:
		return
	}
	if !e.gate.ShouldRespondToPR(ev) {
		return
	}

	conv, err := e.resolve(ctx, ev.Installation.ID, ev.Repository.FullName, conversation.ContextPullRequest, ev.PullRequest.Number)
	if err != nil {
		return
	}
	target := e.target(ev.Installation.ID, ev.Repository, ev.PullRequest.Number)

	switch ev.Action {
	case "opened":
		content := fmt.Sprintf("**Pull Request Title:** %s\n\n**Description:**\n%s", ev.PullRequest.Title, ev.PullRequest.Body)
		if !e.append(ctx, conv.ID, conversation.RoleUser, content, ev.PullRequest.User.Login, "pr_opened") {
			return
		}
		e.respond(ctx, conv, target, ev.Repository)

	case "edited":
		content := fmt.Sprintf("**Updated PR Title:** %s\n\n**Updated Description:**\n%s", ev.PullRequest.Title, ev.PullRequest.Body)
		if !e.append(ctx, conv.ID, conversation.RoleUser, content, ev.PullRequest.User.Login, "pr_edited") {
			return
		}
		if e.gate.SignificantEdit(ev.Changes, ev.PullRequest.Body) {
			e.respond(ctx, conv, target, ev.Repository)
		}

	case "synchronize":
		if !e.append(ctx, conv.ID, conversation.RoleSystem, "**Pull Request Updated** (new commits pushed)", "system", "pr_synchronize") {
			return
		}
		e.respond(ctx, conv, target, ev.Repository)
	}
}

// HandleReview processes "pull_request_review" deliveries.
func (e *Engine) HandleReview(ctx context.Context, ev *events.ReviewEvent) {
	if ev.Action != "submitted" {
		return
	}
	if !e.gate.ShouldRespondToReview(ev) {
		return
	}

	conv, err := e.resolve(ctx, ev.Installation.ID, ev.Repository.FullName, conversation.ContextPullRequest, ev.PullRequest.Number)
	if err != nil {
		return
	}

	content := fmt.Sprintf("**Review (%s):**\n%s", ev.Review.State, ev.Review.Body)
	if !e.append(ctx, conv.ID, conversation.RoleUser, content, ev.Review.User.Login, "review_submitted") {
		return
	}

	// Approvals are recorded but answered only when the reviewer asked for
	// something.
	if (ev.Review.State == "changes_requested" || ev.Review.State == "commented") && ev.Review.Body != "" {
		e.respond(ctx, conv, e.target(ev.Installation.ID, ev.Repository, ev.PullRequest.Number), ev.Repository)
	}
}

// HandleReviewComment processes "pull_request_review_comment" deliveries.
func (e *Engine) HandleReviewComment(ctx context.Context, ev *events.ReviewCommentEvent) {
	if ev.Action != "created" {
		return
	}
	if !e.gate.ShouldRespondToReviewComment(ev) {
		return
	}

	conv, err := e.resolve(ctx, ev.Installation.ID, ev.Repository.FullName, conversation.ContextPullRequest, ev.PullRequest.Number)
	if err != nil {
		return
	}
	content := fmt.Sprintf("**Review Comment on %s:**\n%s", ev.Comment.Path, ev.Comment.Body)
	if !e.append(ctx, conv.ID, conversation.RoleUser, content, ev.Comment.User.Login, "review_comment_created") {
		return
	}
	e.respond(ctx, conv, e.target(ev.Installation.ID, ev.Repository, ev.PullRequest.Number), ev.Repository)
}

// HandleInstallation processes "installation" deliveries: register the
// installation on created, cascade-delete its data and drop cached tokens on
// deleted.
func (e *Engine) HandleInstallation(ctx context.Context, ev *events.InstallationEvent) {
	switch ev.Action {
	case "created":
		if err := e.store.UpsertInstallation(ctx, ev.Installation.ID, ev.Installation.Account.Login, ev.Installation.Account.Type); err != nil {
			log.Error().Err(err).Int64("installation_id", ev.Installation.ID).Msg("failed to register installation")
		}
	case "deleted":
		if err := e.store.DeleteInstallation(ctx, ev.Installation.ID); err != nil {
			log.Error().Err(err).Int64("installation_id", ev.Installation.ID).Msg("failed to delete installation data")
		}
		if e.tokens != nil {
			e.tokens.Invalidate(ev.Installation.ID)
		}
	}
}

func (e *Engine) target(installationID int64, repo events.Repository, number int) Target {
	return Target{
		InstallationID: installationID,
		RepoFullName:   repo.FullName,
		Number:         number,
		DefaultBranch:  repo.DefaultBranch,
	}
}

func (e *Engine) resolve(ctx context.Context, installationID int64, repoFullName string, contextType conversation.ContextType, number int) (*conversation.Conversation, error) {
	conv, err := e.store.GetOrCreate(ctx, conversation.Key{
		InstallationID: installationID,
		RepoFullName:   repoFullName,
		ContextType:    contextType,
		ContextNumber:  number,
	})
	if err != nil {
		log.Error().Err(err).
			Str("repo", repoFullName).
			Str("context_type", string(contextType)).
			Int("context_number", number).
			Msg("failed to resolve conversation")
		return nil, err
	}
	return conv, nil
}

func (e *Engine) append(ctx context.Context, conversationID string, role conversation.Role, content, author, eventTag string) bool {
	if _, err := e.store.AppendMessage(ctx, conversationID, role, content, author, eventTag); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("event_tag", eventTag).Msg("failed to append message")
		return false
	}
	return true
}

// respond runs the model half of the pipeline. A model failure leaves the
// triggering message in the ledger and posts nothing.
func (e *Engine) respond(ctx context.Context, conv *conversation.Conversation, target Target, repo events.Repository) {
	messages, err := e.store.RecentMessages(ctx, conv.ID, e.maxContextMessages)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to load conversation history")
		return
	}

	repoCtx := e.contextBuilder.Build(ctx, target.InstallationID, repo)
	history := ai.FormatHistory(messages, ai.BuildSystemPrompt(repoCtx))

	raw, err := e.model.Generate(ctx, history)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("model generation failed, event left unanswered")
		return
	}
	if strings.TrimSpace(raw) == "" {
		log.Info().Str("conversation_id", conv.ID).Msg("model returned an empty reply")
		return
	}

	reply := ai.ParseReply(raw)
	if !e.append(ctx, conv.ID, conversation.RoleAssistant, reply.Narrative, e.transport.BotUsername(ctx), "ai_response") {
		return
	}

	if len(reply.Actions) > 0 {
		e.executor.ExecuteActions(ctx, conv.ID, target, reply.Actions)
	}

	if reply.Narrative != "" {
		if err := e.transport.CreateComment(ctx, target.InstallationID, target.RepoFullName, target.Number, reply.Narrative); err != nil {
			log.Error().Err(err).
				Str("repo", target.RepoFullName).
				Int("number", target.Number).
				Msg("failed to post reply comment")
		}
	}
}
