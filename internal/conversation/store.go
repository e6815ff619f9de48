package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a conversation, message, or action does not exist.
var ErrNotFound = errors.New("conversation: not found")

// Store is the persistence boundary for conversations, messages, and action
// records. PostgresStore is the production implementation; InMemoryStore backs
// the tests.
type Store interface {
	// GetOrCreate resolves the conversation for key, creating it lazily on
	// first sight. The boolean reports whether a new row was created. Must be
	// safe under concurrent calls for the same key: exactly one creation wins.
	GetOrCreate(ctx context.Context, key Key) (*Conversation, bool, error)

	GetByID(ctx context.Context, id string) (*Conversation, error)

	// FindByContext locates the most recent conversation for a repo and
	// context number regardless of context type. Used when archiving on close,
	// where the close payload does not distinguish issue from PR.
	FindByContext(ctx context.Context, repoFullName string, contextNumber int) (*Conversation, error)

	SetStatus(ctx context.Context, id string, status Status) error

	// AddMessage appends to the ledger and bumps the conversation updated_at.
	// Messages are never mutated after insertion.
	AddMessage(ctx context.Context, msg *Message) error

	// RecentMessages returns up to limit of the most recently appended
	// messages, ordered oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	RecordAction(ctx context.Context, action *AgentAction) error
	FinishAction(ctx context.Context, actionID string, status ActionStatus, errorMessage string) error
	ActionsFor(ctx context.Context, conversationID string, limit int) ([]AgentAction, error)

	ActiveConversations(ctx context.Context, installationID int64, limit int) ([]Conversation, error)

	UpsertInstallation(ctx context.Context, installationID int64, accountLogin, accountType string) error
	// DeleteInstallation removes the installation and cascades to its
	// conversations, messages, and actions.
	DeleteInstallation(ctx context.Context, installationID int64) error

	// CleanupOld deletes archived conversations (with their messages) and
	// completed actions whose last update is older than the cutoff. Returns
	// the number of conversations removed.
	CleanupOld(ctx context.Context, olderThan time.Time) (int64, error)

	Stats(ctx context.Context) (*Stats, error)
}

// InMemoryStore is a map-backed Store for tests and local experiments.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	byKey         map[Key]string
	messages      map[string][]Message
	actions       map[string][]*AgentAction
	installations map[int64]string
	seq           int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		byKey:         make(map[Key]string),
		messages:      make(map[string][]Message),
		actions:       make(map[string][]*AgentAction),
		installations: make(map[int64]string),
	}
}

func (s *InMemoryStore) GetOrCreate(ctx context.Context, key Key) (*Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		c := *s.conversations[id]
		return &c, false, nil
	}

	now := time.Now()
	conv := &Conversation{
		ID:        newID(),
		Key:       key,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	s.byKey[key] = conv.ID
	out := *conv
	return &out, true, nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *conv
	return &out, nil
}

func (s *InMemoryStore) FindByContext(ctx context.Context, repoFullName string, contextNumber int) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Conversation
	for _, conv := range s.conversations {
		if conv.Key.RepoFullName != repoFullName || conv.Key.ContextNumber != contextNumber {
			continue
		}
		if latest == nil || conv.CreatedAt.After(latest.CreatedAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (s *InMemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Status = status
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) AddMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) RecordAction(ctx context.Context, action *AgentAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[action.ConversationID]; !ok {
		return ErrNotFound
	}
	if action.ID == "" {
		action.ID = newID()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	if action.Status == "" {
		action.Status = ActionPending
	}
	s.actions[action.ConversationID] = append(s.actions[action.ConversationID], action)
	return nil
}

func (s *InMemoryStore) FinishAction(ctx context.Context, actionID string, status ActionStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acts := range s.actions {
		for _, a := range acts {
			if a.ID == actionID {
				now := time.Now()
				a.Status = status
				a.CompletedAt = &now
				a.ErrorMessage = errorMessage
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) ActionsFor(ctx context.Context, conversationID string, limit int) ([]AgentAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acts := s.actions[conversationID]
	out := make([]AgentAction, 0, len(acts))
	for _, a := range acts {
		out = append(out, *a)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryStore) ActiveConversations(ctx context.Context, installationID int64, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0)
	for _, conv := range s.conversations {
		if conv.Status != StatusActive {
			continue
		}
		if installationID != 0 && conv.Key.InstallationID != installationID {
			continue
		}
		c := *conv
		c.MessageCount = len(s.messages[conv.ID])
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) UpsertInstallation(ctx context.Context, installationID int64, accountLogin, accountType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installations[installationID] = accountLogin
	return nil
}

func (s *InMemoryStore) DeleteInstallation(ctx context.Context, installationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.installations, installationID)
	for id, conv := range s.conversations {
		if conv.Key.InstallationID == installationID {
			delete(s.conversations, id)
			delete(s.byKey, conv.Key)
			delete(s.messages, id)
			delete(s.actions, id)
		}
	}
	return nil
}

func (s *InMemoryStore) CleanupOld(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, conv := range s.conversations {
		if conv.Status == StatusArchived && conv.UpdatedAt.Before(olderThan) {
			delete(s.conversations, id)
			delete(s.byKey, conv.Key)
			delete(s.messages, id)
			delete(s.actions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &Stats{TotalInstallations: int64(len(s.installations))}
	for _, conv := range s.conversations {
		stats.TotalConversations++
		if conv.Status == StatusActive {
			stats.ActiveConversations++
		}
	}
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.Role == RoleAssistant {
				stats.BotMessages++
			} else if m.Role == RoleUser {
				stats.UserMessages++
			}
		}
	}
	return stats, nil
}
