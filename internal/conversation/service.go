package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func newID() string { return uuid.NewString() }

// Service is the conversation facade the engine talks to. It owns identity
// resolution, the message ledger, action records, and lifecycle transitions.
type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

// GetOrCreate resolves the conversation for key, creating it lazily.
// Idempotent: concurrent calls with the same key yield the same conversation.
func (s *Service) GetOrCreate(ctx context.Context, key Key) (*Conversation, error) {
	conv, created, err := s.store.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info().
			Str("conversation_id", conv.ID).
			Str("repo", key.RepoFullName).
			Str("context", fmt.Sprintf("%s#%d", key.ContextType, key.ContextNumber)).
			Msg("Created new conversation")
	}
	return conv, nil
}

// AppendMessage appends one ledger entry and returns its id. Entries land in
// arrival order; out-of-order webhook deliveries are not reordered.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, role Role, content, author, eventTag string) (string, error) {
	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Author:         author,
		EventTag:       eventTag,
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *Service) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	return s.store.RecentMessages(ctx, conversationID, limit)
}

func (s *Service) GetByID(ctx context.Context, id string) (*Conversation, error) {
	return s.store.GetByID(ctx, id)
}

// SetStatus moves the conversation to the given status. Transitions are not
// enforced one-way: archived conversations move back to active when an issue
// is reopened.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	return s.store.SetStatus(ctx, id, status)
}

// ArchiveByContext archives the conversation bound to a just-closed issue or
// pull request. A missing conversation is not an error; not every thread has one.
func (s *Service) ArchiveByContext(ctx context.Context, repoFullName string, contextNumber int) error {
	conv, err := s.store.FindByContext(ctx, repoFullName, contextNumber)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, conv.ID, StatusArchived); err != nil {
		return err
	}
	log.Info().
		Str("conversation_id", conv.ID).
		Str("repo", repoFullName).
		Int("context_number", contextNumber).
		Msg("Conversation archived")
	return nil
}

// RecordAction persists a pending action record before execution.
func (s *Service) RecordAction(ctx context.Context, action *AgentAction) error {
	return s.store.RecordAction(ctx, action)
}

// CompleteAction marks an action terminally completed.
func (s *Service) CompleteAction(ctx context.Context, actionID string) error {
	return s.store.FinishAction(ctx, actionID, ActionCompleted, "")
}

// FailAction marks an action terminally failed, capturing the error text.
func (s *Service) FailAction(ctx context.Context, actionID string, execErr error) error {
	msg := "unknown error"
	if execErr != nil {
		msg = execErr.Error()
	}
	return s.store.FinishAction(ctx, actionID, ActionFailed, msg)
}

func (s *Service) ActionsFor(ctx context.Context, conversationID string, limit int) ([]AgentAction, error) {
	return s.store.ActionsFor(ctx, conversationID, limit)
}

func (s *Service) ActiveConversations(ctx context.Context, installationID int64, limit int) ([]Conversation, error) {
	return s.store.ActiveConversations(ctx, installationID, limit)
}

func (s *Service) UpsertInstallation(ctx context.Context, installationID int64, accountLogin, accountType string) error {
	return s.store.UpsertInstallation(ctx, installationID, accountLogin, accountType)
}

func (s *Service) DeleteInstallation(ctx context.Context, installationID int64) error {
	return s.store.DeleteInstallation(ctx, installationID)
}

// CleanupOld removes archived conversations and completed actions older than
// retentionDays. Returns the number of conversations removed.
func (s *Service) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := s.store.CleanupOld(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	log.Info().Int64("conversations_removed", removed).Int("retention_days", retentionDays).Msg("Retention cleanup finished")
	return removed, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}
