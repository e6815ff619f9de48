package conversation

import (
	"encoding/json"
	"time"
)

// ContextType identifies what kind of thread a conversation is bound to.
type ContextType string

const (
	ContextIssue       ContextType = "issue"
	ContextPullRequest ContextType = "pull_request"
)

// Status is the conversation lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Role is the speaker role of a ledger message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ActionStatus is the lifecycle state of a recorded agent action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// Key is the composite identity of a conversation. At most one conversation
// exists per key at any time; the database uniqueness constraint enforces this.
type Key struct {
	InstallationID int64       `json:"installation_id"`
	RepoFullName   string      `json:"repo_full_name"`
	ContextType    ContextType `json:"context_type"`
	ContextNumber  int         `json:"context_number"`
}

// Conversation is one durable interaction thread bound to an issue or PR.
type Conversation struct {
	ID        string                 `json:"id"`
	Key       Key                    `json:"key"`
	Status    Status                 `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// Populated only by listing queries for the dashboard.
	MessageCount  int        `json:"message_count,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Message is one append-only ledger entry within a conversation.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Role           Role                   `json:"role"`
	Content        string                 `json:"content"`
	Author         string                 `json:"author,omitempty"`
	EventTag       string                 `json:"event_tag,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AgentAction records one action the model requested and the engine attempted.
// ActionData is preserved verbatim even on failure, for retry and audit.
type AgentAction struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	ActionType     string          `json:"action_type"`
	ActionData     json.RawMessage `json:"action_data"`
	Status         ActionStatus    `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// Stats summarizes usage for the dashboard.
type Stats struct {
	ActiveConversations int64 `json:"active_conversations"`
	TotalConversations  int64 `json:"total_conversations"`
	UserMessages        int64 `json:"user_messages"`
	BotMessages         int64 `json:"bot_messages"`
	TotalInstallations  int64 `json:"total_installations"`
}
