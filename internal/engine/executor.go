package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/coderbot/coderbot/internal/ai"
	"github.com/coderbot/coderbot/internal/conversation"
)

// Target names the repository and thread an action batch applies to.
type Target struct {
	InstallationID int64
	RepoFullName   string
	Number         int
	DefaultBranch  string
}

// Executor applies model-requested actions against GitHub. Each action is
// recorded before execution and finished as completed or failed; one failure
// never stops the rest of the batch, and failed actions are not retried.
type Executor struct {
	store     *conversation.Service
	transport Transport
}

// NewExecutor returns an executor writing records through store and calling
// GitHub through transport.
func NewExecutor(store *conversation.Service, transport Transport) *Executor {
	return &Executor{store: store, transport: transport}
}

// ExecuteActions runs the batch in order.
func (e *Executor) ExecuteActions(ctx context.Context, conversationID string, target Target, actions []ai.ActionRequest) {
	for _, action := range actions {
		e.executeOne(ctx, conversationID, target, action)
	}
}

func (e *Executor) executeOne(ctx context.Context, conversationID string, target Target, action ai.ActionRequest) {
	data, err := json.Marshal(action)
	if err != nil {
		log.Error().Err(err).Str("action_type", string(action.Type)).Msg("action payload not serializable")
		return
	}

	record := &conversation.AgentAction{
		ConversationID: conversationID,
		ActionType:     string(action.Type),
		ActionData:     data,
		Status:         conversation.ActionPending,
	}
	if err := e.store.RecordAction(ctx, record); err != nil {
		log.Error().Err(err).Str("action_type", string(action.Type)).Msg("failed to record action, skipping execution")
		return
	}

	if err := e.dispatch(ctx, target, action); err != nil {
		log.Error().Err(err).
			Str("action_type", string(action.Type)).
			Str("repo", target.RepoFullName).
			Msg("action execution failed")
		if ferr := e.store.FailAction(ctx, record.ID, err); ferr != nil {
			log.Error().Err(ferr).Str("action_id", record.ID).Msg("failed to mark action failed")
		}
		return
	}

	log.Info().
		Str("action_type", string(action.Type)).
		Str("repo", target.RepoFullName).
		Msg("action executed")
	if cerr := e.store.CompleteAction(ctx, record.ID); cerr != nil {
		log.Error().Err(cerr).Str("action_id", record.ID).Msg("failed to mark action completed")
	}
}

func (e *Executor) dispatch(ctx context.Context, target Target, action ai.ActionRequest) error {
	defaultBranch := target.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	switch action.Type {
	case ai.ActionCreateFile:
		if action.Path == "" {
			return fmt.Errorf("create_file: missing path")
		}
		message := action.Message
		if message == "" {
			message = "Create " + action.Path
		}
		branch := action.Branch
		if branch == "" {
			branch = defaultBranch
		}
		return e.transport.CreateOrUpdateFile(ctx, target.InstallationID, target.RepoFullName,
			action.Path, action.Content, message, branch, "")

	case ai.ActionUpdateFile:
		if action.Path == "" {
			return fmt.Errorf("update_file: missing path")
		}
		message := action.Message
		if message == "" {
			message = "Update " + action.Path
		}
		branch := action.Branch
		if branch == "" {
			branch = defaultBranch
		}
		return e.transport.CreateOrUpdateFile(ctx, target.InstallationID, target.RepoFullName,
			action.Path, action.Content, message, branch, action.SHA)

	case ai.ActionCreatePR:
		if action.Head == "" {
			return fmt.Errorf("create_pr: missing head branch")
		}
		base := action.Base
		if base == "" {
			base = defaultBranch
		}
		pr, err := e.transport.CreatePullRequest(ctx, target.InstallationID, target.RepoFullName,
			action.Title, action.Body, action.Head, base)
		if err != nil {
			return err
		}
		log.Info().Int("pr_number", pr.Number).Str("url", pr.URL).Msg("pull request opened")
		return nil

	case ai.ActionCreateBranch:
		if action.Name == "" {
			return fmt.Errorf("create_branch: missing branch name")
		}
		source := action.Source
		if source == "" {
			source = defaultBranch
		}
		return e.transport.CreateBranch(ctx, target.InstallationID, target.RepoFullName, action.Name, source)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}
